package bootstrap

import (
	"fmt"

	"github.com/go-go-golems/voicedesk/pkg/retell"
	"github.com/pkg/errors"
)

// ConfigurationError is a missing API key or agent id. The user can fix it in settings.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Field, e.Reason)
}

// MissingCredentialError means Retell created the call but returned no access token. Session
// still carries the call id and payload for diagnostics.
type MissingCredentialError struct {
	Session *SessionInfo
}

func (e *MissingCredentialError) Error() string {
	if e.Session != nil && e.Session.CallID != "" {
		return fmt.Sprintf("no access token received for call %s", e.Session.CallID)
	}
	return "no access token received"
}

type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindAPI               Kind = "api"
	KindTransport         Kind = "transport"
	KindMissingCredential Kind = "missing_credential"
	KindUnexpected        Kind = "unexpected"
)

func KindOf(err error) Kind {
	var cfgErr *ConfigurationError
	var apiErr *retell.APIError
	var tErr *retell.TransportError
	var mcErr *MissingCredentialError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &apiErr):
		return KindAPI
	case errors.As(err, &tErr):
		return KindTransport
	case errors.As(err, &mcErr):
		return KindMissingCredential
	default:
		return KindUnexpected
	}
}

// Problem is an error prepared for display.
type Problem struct {
	Kind       Kind                 `json:"kind"`
	Title      string               `json:"title"`
	Message    string               `json:"message"`
	Hint       string               `json:"hint,omitempty"`
	StatusCode int                  `json:"status_code,omitempty"`
	Body       string               `json:"body,omitempty"`
	Transport  retell.TransportKind `json:"transport,omitempty"`
}

const (
	hintConnectivity = "Check your internet connection, VPN/proxy settings, and ensure the API key is valid. " +
		"If you're behind a corporate proxy, configure HTTPS_PROXY/HTTP_PROXY environment variables."
	hintTimeout     = "Retell did not answer in time. Check your connection and try again."
	hintDNS         = "The Retell API host could not be resolved. Check DNS and proxy settings."
	hintInvalidKey  = "Your API key may be missing or invalid. Configure RETELL_API_KEY or --retell-api-key and restart."
	hintConfigAgent = "Configure an agent id for this assistant in Settings."
	hintConfigKey   = "Set RETELL_API_KEY, --retell-api-key or --retell-api-key-secret and restart the server."
)

// Describe maps err to a Problem. Hints depend only on the error kind.
func Describe(err error) Problem {
	p := Problem{Kind: KindOf(err)}
	if err != nil {
		p.Message = err.Error()
	}

	var cfgErr *ConfigurationError
	var apiErr *retell.APIError
	var tErr *retell.TransportError

	switch p.Kind {
	case KindConfiguration:
		_ = errors.As(err, &cfgErr)
		p.Title = "Configuration Required"
		p.Message = cfgErr.Reason
		if cfgErr.Field == "agent-id" {
			p.Hint = hintConfigAgent
		} else {
			p.Hint = hintConfigKey
		}
	case KindAPI:
		_ = errors.As(err, &apiErr)
		p.Title = "Retell API Error"
		p.StatusCode = apiErr.StatusCode
		p.Body = apiErr.Body
		p.Message = "Please try again or contact support if the issue persists."
		if apiErr.Unauthorized() {
			p.Hint = hintInvalidKey
		}
	case KindTransport:
		_ = errors.As(err, &tErr)
		p.Title = "Connection Error"
		p.Transport = tErr.Kind
		switch tErr.Kind {
		case retell.TransportTimeout:
			p.Hint = hintTimeout
		case retell.TransportDNS:
			p.Hint = hintDNS
		default:
			p.Hint = hintConnectivity
		}
	case KindMissingCredential:
		p.Title = "Access Token Missing"
		p.Message = "No access token received from the API. Cannot initiate the voice call."
	case KindUnexpected:
		p.Title = "Unexpected Error"
	}
	return p
}
