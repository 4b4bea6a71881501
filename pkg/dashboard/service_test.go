package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/voicedesk/pkg/bootstrap"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/personas"
	"github.com/go-go-golems/voicedesk/pkg/retell"
	"github.com/go-go-golems/voicedesk/pkg/session"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	mu      sync.Mutex
	calls   []string
	err     error
	release chan struct{}
	entered chan struct{}
}

func (f *fakeStarter) Start(ctx context.Context, agentID string, _ bootstrap.APIKeyProvider) (*bootstrap.SessionInfo, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agentID)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &bootstrap.SessionInfo{
		AgentID:     agentID,
		CallID:      "call_" + agentID,
		AccessToken: "tok",
		Payload:     map[string]any{"call_id": "call_" + agentID},
	}, nil
}

func (f *fakeStarter) agentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newService(t *testing.T, starter Starter, env map[string]string) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Registry: personas.Default(),
		Env:      identity.MapEnv(env),
		Starter:  starter,
		Store:    session.NewMemoryStore(session.DefaultTTL),
	})
	require.NoError(t, err)
	return svc
}

func TestStateOfUnknownSessionIsIdle(t *testing.T) {
	svc := newService(t, &fakeStarter{}, nil)
	st, err := svc.State(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, session.Idle, st.Call)
	require.Empty(t, st.Overrides)
}

func TestStartCallUsesDefaultAgent(t *testing.T) {
	starter := &fakeStarter{}
	svc := newService(t, starter, nil)

	st, err := svc.StartCall(context.Background(), "s1", "dental")
	require.NoError(t, err)
	require.Equal(t, session.Active, st.Call)
	require.Equal(t, "dental", st.Selected)
	require.Equal(t, "agent_4deac7a40e9e59967e58066b88", st.Session.AgentID)
	require.Equal(t, []string{"agent_4deac7a40e9e59967e58066b88"}, starter.agentIDs())
}

func TestOverridesWinAndAreReplacedWholesale(t *testing.T) {
	starter := &fakeStarter{}
	svc := newService(t, starter, map[string]string{"RETELL_AGENT_DENTAL": "agent_env"})
	ctx := context.Background()

	_, err := svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)

	_, err = svc.ApplySettings(ctx, "s1", map[string]string{"dental": " agent_user ", "bogus": "x"})
	require.NoError(t, err)
	_, err = svc.Reset(ctx, "s1")
	require.NoError(t, err)
	st, err := svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)
	require.Equal(t, identity.Overrides{"dental": "agent_user"}, st.Overrides)

	_, err = svc.ApplySettings(ctx, "s1", map[string]string{"restaurant": "agent_p"})
	require.NoError(t, err)
	_, err = svc.Reset(ctx, "s1")
	require.NoError(t, err)
	_, err = svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)

	require.Equal(t, []string{"agent_env", "agent_user", "agent_env"}, starter.agentIDs())
}

func TestStartCallFailureIsRecorded(t *testing.T) {
	starter := &fakeStarter{err: &retell.APIError{StatusCode: 401, Body: `{"error":"bad key"}`}}
	svc := newService(t, starter, nil)

	st, err := svc.StartCall(context.Background(), "s1", "restaurant")
	require.NoError(t, err)
	require.Equal(t, session.Failed, st.Call)
	require.NotNil(t, st.Problem)
	require.Equal(t, bootstrap.KindAPI, st.Problem.Kind)
	require.Equal(t, 401, st.Problem.StatusCode)
	require.Nil(t, st.Session)

	// a failed session can try again
	starter.err = nil
	st, err = svc.StartCall(context.Background(), "s1", "restaurant")
	require.NoError(t, err)
	require.Equal(t, session.Active, st.Call)
}

func TestStartCallRejectsUnknownPersonaAndActiveSession(t *testing.T) {
	svc := newService(t, &fakeStarter{}, nil)
	ctx := context.Background()

	_, err := svc.StartCall(ctx, "s1", "plumber")
	require.ErrorIs(t, err, ErrUnknownPersona)

	_, err = svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)
	_, err = svc.StartCall(ctx, "s1", "restaurant")
	require.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	starter := &fakeStarter{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := newService(t, starter, nil)
	ctx := context.Background()

	type result struct {
		st  *session.State
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := svc.StartCall(ctx, "s1", "travel")
		done <- result{st, err}
	}()

	<-starter.entered
	st, err := svc.Reset(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, session.Idle, st.Call)
	close(starter.release)

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, session.Idle, r.st.Call)
	require.Nil(t, r.st.Session)

	st, err = svc.State(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, session.Idle, st.Call)
}

func TestStartCallIgnoresCallerCancellation(t *testing.T) {
	starter := &fakeStarter{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := newService(t, starter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *session.State, 1)
	go func() {
		st, _ := svc.StartCall(ctx, "s1", "fintech")
		done <- st
	}()
	<-starter.entered
	cancel()
	close(starter.release)

	st := <-done
	require.NotNil(t, st)
	require.Equal(t, session.Active, st.Call)
}

func TestOwnsCall(t *testing.T) {
	svc := newService(t, &fakeStarter{}, nil)
	ctx := context.Background()
	st, err := svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)

	require.True(t, svc.OwnsCall(ctx, "s1", st.Session.CallID))
	require.False(t, svc.OwnsCall(ctx, "s2", st.Session.CallID))
	require.False(t, svc.OwnsCall(ctx, "s1", "call_other"))
	require.False(t, svc.OwnsCall(ctx, "s1", ""))
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
	_, err = NewService(Config{Registry: personas.Default(), Store: session.NewMemoryStore(0)})
	require.Error(t, err)
}

func TestAbandonedStartIsMarkedFailed(t *testing.T) {
	svc, err := NewService(Config{
		Registry:     personas.Default(),
		Env:          identity.MapEnv(nil),
		Starter:      &fakeStarter{},
		Store:        session.NewMemoryStore(session.DefaultTTL),
		StartTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// a start whose result was never recorded
	_, err = svc.store.Update(ctx, "s1", func(st *session.State) error {
		_, err := st.Begin("dental")
		return err
	})
	require.NoError(t, err)

	st, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, session.Starting, st.Call)

	require.Eventually(t, func() bool {
		st, err := svc.State(ctx, "s1")
		return err == nil && st.Call == session.Failed
	}, 2*time.Second, 10*time.Millisecond)

	st, err = svc.State(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, st.Problem)
	require.Equal(t, bootstrap.KindUnexpected, st.Problem.Kind)

	st, err = svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)
	require.Equal(t, session.Active, st.Call)
}

func TestServeWidgetOnlyOnce(t *testing.T) {
	svc := newService(t, &fakeStarter{}, nil)
	ctx := context.Background()

	_, first, err := svc.ServeWidget(ctx, "s1")
	require.NoError(t, err)
	require.False(t, first)

	_, err = svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)
	_, first, err = svc.ServeWidget(ctx, "s1")
	require.NoError(t, err)
	require.True(t, first)
	st, first, err := svc.ServeWidget(ctx, "s1")
	require.NoError(t, err)
	require.False(t, first)
	require.True(t, st.WidgetServed)

	_, err = svc.Reset(ctx, "s1")
	require.NoError(t, err)
	_, err = svc.StartCall(ctx, "s1", "dental")
	require.NoError(t, err)
	_, first, err = svc.ServeWidget(ctx, "s1")
	require.NoError(t, err)
	require.True(t, first)
}
