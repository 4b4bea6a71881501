package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/voicedesk/pkg/retell"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeCreator struct {
	calls  int
	lastIn retell.CreateWebCallRequest
	resp   *retell.WebCall
	err    error
}

func (f *fakeCreator) CreateWebCall(_ context.Context, in retell.CreateWebCallRequest) (*retell.WebCall, error) {
	f.calls++
	f.lastIn = in
	return f.resp, f.err
}

func fakeFactory(f *fakeCreator, gotKey *string) ClientFactory {
	return func(apiKey string) (WebCallCreator, error) {
		if gotKey != nil {
			*gotKey = apiKey
		}
		return f, nil
	}
}

func staticKeys(v string) APIKeyProvider {
	return NewKeyChain(StaticKey("flag", v))
}

func TestStartReturnsSessionUnchanged(t *testing.T) {
	f := &fakeCreator{resp: &retell.WebCall{
		CallID:      "abc12345",
		AccessToken: "tok_xyz",
		Raw:         map[string]any{"call_id": "abc12345", "access_token": "tok_xyz"},
	}}
	var gotKey string
	b := New(fakeFactory(f, &gotKey))

	info, err := b.Start(context.Background(), "agent_4deac7a40e9e59967e58066b88", staticKeys("key_live"))
	require.NoError(t, err)
	require.Equal(t, "abc12345", info.CallID)
	require.Equal(t, "tok_xyz", info.AccessToken)
	require.Equal(t, "agent_4deac7a40e9e59967e58066b88", info.AgentID)
	require.Equal(t, "abc12345", info.Payload["call_id"])
	require.Equal(t, "abc12345...", info.ShortCallID())

	require.Equal(t, 1, f.calls)
	require.Equal(t, "agent_4deac7a40e9e59967e58066b88", f.lastIn.AgentID)
	require.Equal(t, "key_live", gotKey)
}

func TestStartEmptyAgentIDFailsBeforeNetwork(t *testing.T) {
	f := &fakeCreator{}
	factoryCalls := 0
	b := New(func(string) (WebCallCreator, error) {
		factoryCalls++
		return f, nil
	})

	_, err := b.Start(context.Background(), "   ", staticKeys("key"))
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "agent-id", cfgErr.Field)
	require.Equal(t, 0, factoryCalls)
	require.Equal(t, 0, f.calls)
	require.Equal(t, KindConfiguration, KindOf(err))
}

func TestStartWithoutKeyFailsClosed(t *testing.T) {
	f := &fakeCreator{}
	b := New(fakeFactory(f, nil))

	chain := NewKeyChain(
		StaticKey("flag", ""),
		EnvKey("RETELL_API_KEY", func(string) (string, bool) { return "", false }),
		SecretKey(""),
	)
	_, err := b.Start(context.Background(), "agent_1", chain)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "retell-api-key", cfgErr.Field)
	require.Equal(t, 0, f.calls)

	_, err = b.Start(context.Background(), "agent_1", nil)
	require.Equal(t, KindConfiguration, KindOf(err))
}

func TestStartMissingAccessToken(t *testing.T) {
	f := &fakeCreator{resp: &retell.WebCall{CallID: "call_1", Raw: map[string]any{"call_id": "call_1"}}}
	b := New(fakeFactory(f, nil))

	info, err := b.Start(context.Background(), "agent_1", staticKeys("k"))
	require.Nil(t, info)
	var mc *MissingCredentialError
	require.True(t, errors.As(err, &mc))
	require.Equal(t, "call_1", mc.Session.CallID)
	require.Equal(t, KindMissingCredential, KindOf(err))
	require.Equal(t, "Access Token Missing", Describe(err).Title)
}

func TestStartPassesAPIErrorsThrough(t *testing.T) {
	f := &fakeCreator{err: &retell.APIError{StatusCode: 422, Body: `{"error_message":"agent not found"}`}}
	b := New(fakeFactory(f, nil))

	_, err := b.Start(context.Background(), "agent_1", staticKeys("k"))
	require.Equal(t, KindAPI, KindOf(err))

	p := Describe(err)
	require.Equal(t, 422, p.StatusCode)
	require.Equal(t, `{"error_message":"agent not found"}`, p.Body)
	require.Empty(t, p.Hint)
	require.Equal(t, 1, f.calls)
}

func TestKeyChainPrecedence(t *testing.T) {
	env := func(v string) func(string) (string, bool) {
		return func(string) (string, bool) { return v, v != "" }
	}

	k, err := NewKeyChain(StaticKey("flag", "from_flag"), EnvKey("RETELL_API_KEY", env("from_env"))).APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from_flag", k)

	k, err = NewKeyChain(StaticKey("flag", " "), EnvKey("RETELL_API_KEY", env("from_env"))).APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from_env", k)

	failing := KeySource{Name: "broken", Load: func(context.Context) (string, error) { return "", errors.New("boom") }}
	k, err = NewKeyChain(failing, StaticKey("last", "from_last")).APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from_last", k)
}

func TestDescribeTransportHints(t *testing.T) {
	p := Describe(&retell.TransportError{Kind: retell.TransportTimeout, Op: "create-web-call", Err: context.DeadlineExceeded})
	require.Equal(t, KindTransport, p.Kind)
	require.Equal(t, retell.TransportTimeout, p.Transport)
	require.Equal(t, hintTimeout, p.Hint)

	p = Describe(errors.Wrap(&retell.TransportError{Kind: retell.TransportConnection, Err: errors.New("x")}, "start"))
	require.Equal(t, hintConnectivity, p.Hint)

	p = Describe(&retell.APIError{StatusCode: 401})
	require.Equal(t, hintInvalidKey, p.Hint)

	p = Describe(errors.New("unauthorized 401 api key"))
	require.Equal(t, KindUnexpected, p.Kind)
	require.Empty(t, p.Hint)
}

func TestStartAgainstRetellServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"call_id":"abc12345","access_token":"tok_xyz","call_status":"registered"}`))
	}))
	defer srv.Close()

	b := New(RetellClientFactory(retell.WithBaseURL(srv.URL)))
	info, err := b.Start(context.Background(), "agent_1", staticKeys("k"))
	require.NoError(t, err)
	require.Equal(t, "abc12345", info.CallID)
	require.Equal(t, "tok_xyz", info.AccessToken)
	require.Equal(t, "registered", info.Payload["call_status"])
}
