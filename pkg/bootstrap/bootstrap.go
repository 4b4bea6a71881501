// Package bootstrap turns a resolved agent id into a Retell web-call session the browser
// widget can join.
package bootstrap

import (
	"context"
	"strings"

	"github.com/go-go-golems/voicedesk/pkg/retell"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SampleRate is passed to the widget's startCall.
const SampleRate = 24000

// SessionInfo is the outcome of one successful create-web-call.
type SessionInfo struct {
	AgentID     string         `json:"agent_id"`
	CallID      string         `json:"call_id"`
	AccessToken string         `json:"access_token"`
	Payload     map[string]any `json:"payload"`
}

// ShortCallID is the call id as shown on the dashboard.
func (s *SessionInfo) ShortCallID() string {
	if s == nil || s.CallID == "" {
		return "N/A"
	}
	id := s.CallID
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "..."
}

// WebCallCreator is the part of the Retell client the bootstrap needs.
type WebCallCreator interface {
	CreateWebCall(ctx context.Context, in retell.CreateWebCallRequest) (*retell.WebCall, error)
}

// ClientFactory builds a client for a given API key. The key is resolved per call so that
// configuration changes apply to the next session.
type ClientFactory func(apiKey string) (WebCallCreator, error)

// RetellClientFactory builds real Retell clients with opts.
func RetellClientFactory(opts ...retell.Option) ClientFactory {
	return func(apiKey string) (WebCallCreator, error) {
		c, err := retell.NewClient(apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type Bootstrapper struct {
	newClient ClientFactory
}

func New(newClient ClientFactory) *Bootstrapper {
	if newClient == nil {
		newClient = RetellClientFactory()
	}
	return &Bootstrapper{newClient: newClient}
}

// Start issues a single create-web-call for agentID. It fails with *ConfigurationError before
// touching the network when agentID or the API key is missing, *MissingCredentialError when the
// response carries no access token, and passes *retell.APIError / *retell.TransportError through.
func (b *Bootstrapper) Start(ctx context.Context, agentID string, keys APIKeyProvider) (*SessionInfo, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, &ConfigurationError{Field: "agent-id", Reason: "no agent id configured"}
	}
	if keys == nil {
		return nil, &ConfigurationError{Field: "retell-api-key", Reason: "no Retell API key configured"}
	}
	apiKey, err := keys.APIKey(ctx)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &ConfigurationError{Field: "retell-api-key", Reason: err.Error()}
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigurationError{Field: "retell-api-key", Reason: "no Retell API key configured"}
	}

	client, err := b.newClient(apiKey)
	if err != nil {
		return nil, &ConfigurationError{Field: "retell-api-key", Reason: err.Error()}
	}

	wc, err := client.CreateWebCall(ctx, retell.CreateWebCallRequest{AgentID: agentID})
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("create web call failed")
		return nil, err
	}

	info := &SessionInfo{
		AgentID:     agentID,
		CallID:      wc.CallID,
		AccessToken: strings.TrimSpace(wc.AccessToken),
		Payload:     wc.Raw,
	}
	if info.Payload == nil {
		info.Payload = map[string]any{}
	}
	if info.AccessToken == "" {
		log.Warn().Str("agent_id", agentID).Str("call_id", info.CallID).Msg("web call created without access token")
		return nil, &MissingCredentialError{Session: info}
	}

	log.Info().Str("agent_id", agentID).Str("call_id", info.CallID).Msg("web call created")
	return info, nil
}
