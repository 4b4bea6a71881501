// Package web serves the dashboard: persona cards, the settings form, the start/reset actions,
// the embedded call widget and the call event websocket.
package web

import (
	"context"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/voicedesk/pkg/dashboard"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

const shutdownTimeout = 30 * time.Second

type Server struct {
	svc          *dashboard.Service
	upgrader     websocket.Upgrader
	tmpl         *template.Template
	mux          *http.ServeMux
	httpSrv      *http.Server
	secureCookie bool
	keepalive    keepalive
}

type Option func(*Server)

func WithAddr(addr string) Option {
	return func(s *Server) { s.httpSrv.Addr = addr }
}

func WithUpgrader(u websocket.Upgrader) Option {
	return func(s *Server) { s.upgrader = u }
}

// WithKeepalive sets how often call event sockets are pinged and how long a peer may stay
// silent before its socket is closed. pingInterval must be shorter than pongWait.
func WithKeepalive(pongWait, pingInterval time.Duration) Option {
	return func(s *Server) {
		if pongWait > 0 && pingInterval > 0 {
			s.keepalive = keepalive{pongWait: pongWait, pingInterval: pingInterval}
		}
	}
}

// WithSecureCookies marks the session cookie Secure; use it behind TLS.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secureCookie = secure }
}

func NewServer(svc *dashboard.Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("dashboard service is nil")
	}
	tmpl, err := template.New("").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	s := &Server{
		svc:  svc,
		tmpl: tmpl,
		mux:  http.NewServeMux(),
		httpSrv: &http.Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
		},
		keepalive: keepalive{pongWait: defaultPongWait, pingInterval: defaultPingInterval},
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.routes(); err != nil {
		return nil, err
	}
	s.httpSrv.Handler = s.mux
	return s, nil
}

func (s *Server) routes() error {
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return errors.Wrap(err, "static assets")
	}
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /settings", s.handleSettings)
	s.mux.HandleFunc("POST /personas/{key}/start", s.handleStart)
	s.mux.HandleFunc("POST /reset", s.handleReset)
	s.mux.HandleFunc("GET /api/session", s.handleAPISession)
	s.mux.HandleFunc("GET /api/personas", s.handleAPIPersonas)
	s.mux.HandleFunc("GET /ws/calls/{callID}", s.handleCallEvents)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return nil
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Run serves until ctx is done or the process receives SIGINT/SIGTERM, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	if relay := s.svc.Relay(); relay != nil {
		eg.Go(func() error { return relay.Run(srvCtx) })
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting voicedesk server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}
