package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestEnsureGroupAtTailIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	s := Settings{Enabled: true, Addr: mr.Addr(), Group: "voicedesk-ui"}

	ctx := context.Background()
	require.NoError(t, EnsureGroupAtTail(ctx, s, "call-events"))
	require.NoError(t, EnsureGroupAtTail(ctx, s, "call-events"))
	require.True(t, mr.Exists("call-events"))
}

func TestInMemoryPubSubDeliversAndCloses(t *testing.T) {
	ps, err := BuildPubSub(Settings{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := ps.Subscriber.Subscribe(ctx, "topic")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ps.Publisher.Publish("topic", message.NewMessage(watermill.NewUUID(), []byte(`{"a":1}`)))
	}()

	select {
	case msg := <-ch:
		require.Equal(t, `{"a":1}`, string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	require.NoError(t, <-errCh)
	require.NoError(t, ps.Close())
}
