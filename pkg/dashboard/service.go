// Package dashboard implements the dashboard's user actions on top of the persona registry,
// the identity resolver, the session bootstrap and the per-browser session store.
package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/voicedesk/pkg/bootstrap"
	"github.com/go-go-golems/voicedesk/pkg/callevents"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/personas"
	"github.com/go-go-golems/voicedesk/pkg/retell"
	"github.com/go-go-golems/voicedesk/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrUnknownPersona = errors.New("unknown persona")

// DefaultStartTimeout bounds how long a session may stay in Starting before it is treated as
// failed. It outlasts the Retell client timeout.
const DefaultStartTimeout = retell.DefaultTimeout + 30*time.Second

// Starter is the session bootstrap used by StartCall.
type Starter interface {
	Start(ctx context.Context, agentID string, keys bootstrap.APIKeyProvider) (*bootstrap.SessionInfo, error)
}

type Config struct {
	Registry *personas.Registry
	Resolver *identity.Resolver
	Env      identity.EnvLookup
	Starter  Starter
	Keys     bootstrap.APIKeyProvider
	Store    session.Store
	// Relay is optional; when set, successful starts emit a call_started event.
	Relay *callevents.Relay
	// StartTimeout defaults to DefaultStartTimeout.
	StartTimeout time.Duration
}

type Service struct {
	registry *personas.Registry
	resolver *identity.Resolver
	env      identity.EnvLookup
	starter  Starter
	keys     bootstrap.APIKeyProvider
	store    session.Store
	relay    *callevents.Relay

	startTimeout time.Duration
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("persona registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Starter == nil {
		return nil, errors.New("session starter is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = identity.NewResolver(cfg.Registry)
	}
	if cfg.Env == nil {
		cfg.Env = identity.OSEnv
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	return &Service{
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		env:      cfg.Env,
		starter:  cfg.Starter,
		keys:     cfg.Keys,
		store:    cfg.Store,
		relay:    cfg.Relay,

		startTimeout: cfg.StartTimeout,
	}, nil
}

func (s *Service) Registry() *personas.Registry { return s.registry }

func (s *Service) Relay() *callevents.Relay { return s.relay }

// State returns the session's state, or a fresh Idle state that is not stored yet. A session
// left in Starting longer than the start timeout (its bootstrap result was lost) is moved to
// Failed.
func (s *Service) State(ctx context.Context, id string) (*session.State, error) {
	st, err := s.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return session.New(id), nil
	}
	if err != nil {
		return nil, err
	}
	if st.Call != session.Starting || time.Since(st.UpdatedAt) <= s.startTimeout {
		return st, nil
	}

	attempt := st.Attempt
	var expired bool
	st, err = s.store.Update(ctx, id, func(st *session.State) error {
		if time.Since(st.UpdatedAt) > s.startTimeout {
			expired = st.Fail(attempt, interruptedProblem)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "expire call attempt")
	}
	if expired {
		log.Warn().Str("session", id).Uint64("attempt", attempt).Msg("call attempt never completed, marked failed")
	}
	return st, nil
}

var interruptedProblem = bootstrap.Problem{
	Kind:    bootstrap.KindUnexpected,
	Title:   "Call Setup Interrupted",
	Message: "The voice session did not finish setting up.",
	Hint:    "Choose an assistant to try again.",
}

// Resolutions lists every persona's effective agent id for st.
func (s *Service) Resolutions(st *session.State) []identity.Resolution {
	var o identity.Overrides
	if st != nil {
		o = st.Overrides
	}
	return s.resolver.ExplainAll(o, s.env)
}

// ApplySettings replaces the session's overrides with the sanitized submission.
func (s *Service) ApplySettings(ctx context.Context, id string, submitted map[string]string) (*session.State, error) {
	overrides := s.resolver.SanitizeOverrides(submitted)
	st, err := s.store.Update(ctx, id, func(st *session.State) error {
		st.ReplaceOverrides(overrides)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply settings")
	}
	log.Info().Str("session", id).Int("overrides", len(overrides)).Msg("applied agent id overrides")
	return st, nil
}

// StartCall runs Idle/Failed -> Starting -> {Active, Failed} for persona key. It blocks until
// the bootstrap returns. The bootstrap does not inherit ctx's cancellation, and its result is
// dropped if another selection or a reset happened meanwhile. Bootstrap failures end up in
// the returned state, not in the error.
func (s *Service) StartCall(ctx context.Context, id string, key personas.Key) (*session.State, error) {
	if !s.registry.Has(key) {
		return nil, errors.Wrapf(ErrUnknownPersona, "%q", key)
	}

	var attempt uint64
	st, err := s.store.Update(ctx, id, func(st *session.State) error {
		a, err := st.Begin(key)
		attempt = a
		return err
	})
	if err != nil {
		return nil, err
	}

	res := s.resolver.Explain(key, st.Overrides, s.env)
	logger := log.With().Str("session", id).Str("persona", key).
		Str("agent_id", res.AgentID).Str("source", string(res.Source)).Logger()
	logger.Info().Uint64("attempt", attempt).Msg("starting web call")

	info, startErr := s.starter.Start(context.WithoutCancel(ctx), res.AgentID, s.keys)

	var applied bool
	st, err = s.store.Update(context.WithoutCancel(ctx), id, func(st *session.State) error {
		if startErr != nil {
			applied = st.Fail(attempt, bootstrap.Describe(startErr))
		} else {
			applied = st.Complete(attempt, info)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "record call result")
	}
	if !applied {
		logger.Info().Uint64("attempt", attempt).Msg("discarding result of superseded call attempt")
		return st, nil
	}
	if startErr != nil {
		logger.Warn().Err(startErr).Str("kind", string(bootstrap.KindOf(startErr))).Msg("web call failed")
		return st, nil
	}

	if s.relay != nil {
		payload, _ := json.Marshal(map[string]string{"persona": key, "agent_id": info.AgentID})
		if _, err := s.relay.Publish(ctx, info.CallID, callevents.TypeCallStarted, payload); err != nil {
			logger.Warn().Err(err).Msg("could not publish call_started")
		}
	}
	return st, nil
}

// ServeWidget claims the active call's widget for the page being rendered. It reports false
// when the call is not active or a page already received its access token.
func (s *Service) ServeWidget(ctx context.Context, id string) (*session.State, bool, error) {
	var first bool
	st, err := s.store.Update(ctx, id, func(st *session.State) error {
		first = st.ServeWidget()
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "serve call widget")
	}
	return st, first, nil
}

// Reset returns the session to Idle.
func (s *Service) Reset(ctx context.Context, id string) (*session.State, error) {
	st, err := s.store.Update(ctx, id, func(st *session.State) error {
		st.Reset()
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "reset session")
	}
	return st, nil
}

// OwnsCall reports whether callID is the active call of session id.
func (s *Service) OwnsCall(ctx context.Context, id, callID string) bool {
	st, err := s.store.Get(ctx, id)
	if err != nil || st.Session == nil {
		return false
	}
	return callID != "" && st.Session.CallID == callID
}
