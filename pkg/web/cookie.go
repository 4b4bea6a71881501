package web

import (
	"net/http"
	"strings"

	"github.com/go-go-golems/voicedesk/pkg/session"
	"github.com/google/uuid"
)

const sessionCookie = "voicedesk_session"

// sessionID returns the browser's session id, issuing a new cookie when there is none.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if id := strings.TrimSpace(c.Value); validSessionID(id) {
			return id
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(session.DefaultTTL.Seconds()),
	})
	return id
}

// existingSessionID reads the cookie without issuing one.
func existingSessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(c.Value)
	return id, validSessionID(id)
}

func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
