package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-go-golems/voicedesk/pkg/dashboard"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	st, err := s.svc.State(r.Context(), sid)
	if err != nil {
		log.Error().Err(err).Str("session", sid).Msg("load session failed")
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	resumed := false
	if st.Call == session.Active {
		var first bool
		st, first, err = s.svc.ServeWidget(r.Context(), sid)
		if err != nil {
			log.Error().Err(err).Str("session", sid).Msg("serve call widget failed")
			http.Error(w, "failed to load session", http.StatusInternalServerError)
			return
		}
		resumed = !first
	}
	page := s.buildPage(st)
	page.Resumed = resumed
	s.render(w, "dashboard", page)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	submitted := map[string]string{}
	for field, vals := range r.PostForm {
		key, ok := strings.CutPrefix(field, overrideFieldPrefix)
		if !ok || len(vals) == 0 {
			continue
		}
		submitted[key] = vals[len(vals)-1]
	}
	st, err := s.svc.ApplySettings(r.Context(), sid, submitted)
	if err != nil {
		log.Error().Err(err).Str("session", sid).Msg("apply settings failed")
		http.Error(w, "failed to apply settings", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, st)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	key := strings.TrimSpace(r.PathValue("key"))
	st, err := s.svc.StartCall(r.Context(), sid, key)
	switch {
	case errors.Is(err, dashboard.ErrUnknownPersona):
		http.Error(w, "unknown persona", http.StatusNotFound)
		return
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, "a conversation is already active; start a new conversation first", http.StatusConflict)
		return
	case err != nil:
		log.Error().Err(err).Str("session", sid).Str("persona", key).Msg("start call failed")
		http.Error(w, "failed to start call", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	st, err := s.svc.Reset(r.Context(), sid)
	if err != nil {
		log.Error().Err(err).Str("session", sid).Msg("reset failed")
		http.Error(w, "failed to reset", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, st)
}

// respond answers a form post with a redirect to the dashboard, or with the session JSON when
// the client asked for JSON.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, st *session.State) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, s.sessionPayload(st))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type sessionPayload struct {
	State       *session.State        `json:"state"`
	Resolutions []identity.Resolution `json:"resolutions"`
}

func (s *Server) sessionPayload(st *session.State) sessionPayload {
	return sessionPayload{State: st, Resolutions: s.svc.Resolutions(st)}
}

func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	st, err := s.svc.State(r.Context(), sid)
	if err != nil {
		log.Error().Err(err).Str("session", sid).Msg("load session failed")
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionPayload(st))
}

func (s *Server) handleAPIPersonas(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	st, err := s.svc.State(r.Context(), sid)
	if err != nil {
		log.Error().Err(err).Str("session", sid).Msg("load session failed")
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"personas": s.personaViews(st)})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("json write failed")
	}
}
