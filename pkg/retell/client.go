// Package retell is a minimal client for the Retell voice-agent REST API.
//
// Only the "create web call" endpoint is implemented. Errors are typed: *APIError for
// responses Retell rejected, *TransportError for failures to reach it.
package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://api.retellai.com"
	DefaultTimeout = 60 * time.Second

	createWebCallPath = "/v2/create-web-call"
	// error bodies are surfaced to operators, cap what we keep
	maxErrorBody = 64 << 10
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying client, including its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("retell api key is empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type CreateWebCallRequest struct {
	AgentID string `json:"agent_id"`
}

// WebCall is the create-web-call response. Raw keeps every field Retell returned.
type WebCall struct {
	CallID      string `json:"call_id"`
	AccessToken string `json:"access_token"`
	AgentID     string `json:"agent_id"`
	CallStatus  string `json:"call_status"`
	CallType    string `json:"call_type"`

	Raw map[string]any `json:"-"`
}

// CreateWebCall issues exactly one create-web-call request.
func (c *Client) CreateWebCall(ctx context.Context, in CreateWebCallRequest) (*WebCall, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "marshal create-web-call request")
	}

	url := c.baseURL + createWebCallPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newTransportError("create-web-call", err)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Debug().
		Str("agent_id", in.AgentID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("retell create-web-call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError("read create-web-call response", err)
	}
	return decodeWebCall(raw)
}

func decodeWebCall(raw []byte) (*WebCall, error) {
	wc := &WebCall{}
	if err := json.Unmarshal(raw, wc); err != nil {
		return nil, errors.Wrap(err, "decode create-web-call response")
	}
	if err := json.Unmarshal(raw, &wc.Raw); err != nil {
		return nil, errors.Wrap(err, "decode create-web-call response")
	}
	return wc, nil
}
