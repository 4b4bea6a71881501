package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/voicedesk/pkg/callevents"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	roleSource = "source"
	roleViewer = "viewer"

	writeWait           = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 45 * time.Second
	maxFrameSize        = 256 << 10
)

type keepalive struct {
	pongWait     time.Duration
	pingInterval time.Duration
}

// watchPeer arms the read deadline and refreshes it on every pong.
func (k keepalive) watchPeer(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(k.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(k.pongWait))
	})
}

// inboundEvent is one frame sent by the page hosting the call.
type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// handleCallEvents attaches a websocket to a call. The page running the widget connects with
// role=source and forwards widget events; role=viewer (the default) receives them in order.
// Only the session that started the call may attach.
func (s *Server) handleCallEvents(w http.ResponseWriter, r *http.Request) {
	relay := s.svc.Relay()
	if relay == nil {
		http.Error(w, "call events not enabled", http.StatusNotFound)
		return
	}
	callID := strings.TrimSpace(r.PathValue("callID"))
	sid, ok := existingSessionID(r)
	if !ok || !s.svc.OwnsCall(r.Context(), sid, callID) {
		http.Error(w, "unknown call", http.StatusForbidden)
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = roleViewer
	}
	if role != roleSource && role != roleViewer {
		http.Error(w, "role must be source or viewer", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	logger := log.With().Str("call_id", callID).Str("role", role).Logger()
	logger.Debug().Msg("call event socket attached")

	if role == roleSource {
		readSource(r.Context(), conn, relay, callID, s.keepalive)
	} else {
		writeViewer(conn, relay, callID, s.keepalive)
	}
	logger.Debug().Msg("call event socket detached")
}

func readSource(ctx context.Context, conn *websocket.Conn, relay *callevents.Relay, callID string, ka keepalive) {
	defer func() { _ = conn.Close() }()
	ka.watchPeer(conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(ka.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(ka.pongWait))
		var in inboundEvent
		if err := json.Unmarshal(data, &in); err != nil {
			writeError(conn, "malformed event")
			continue
		}
		typ, err := callevents.ParseType(in.Type)
		if err != nil {
			writeError(conn, err.Error())
			continue
		}
		if _, err := relay.Publish(ctx, callID, typ, in.Payload); err != nil {
			log.Warn().Err(err).Str("call_id", callID).Msg("relay publish failed")
			writeError(conn, "event rejected")
		}
	}
}

func writeViewer(conn *websocket.Conn, relay *callevents.Relay, callID string, ka keepalive) {
	events, cancel := relay.Watch(callID)
	defer cancel()

	// reads only detect the peer closing and answer pings
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ka.watchPeer(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ka.pingInterval)
	defer ticker.Stop()
	defer func() { _ = conn.Close() }()
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Warn().Err(err).Str("call_id", callID).Msg("ws send failed, dropping viewer")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
