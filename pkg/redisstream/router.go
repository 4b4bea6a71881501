package redisstream

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PubSub is a watermill publisher/subscriber pair.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

func (p *PubSub) Close() error {
	var firstErr error
	if p.Publisher != nil {
		if err := p.Publisher.Close(); err != nil {
			firstErr = err
		}
	}
	// gochannel uses one value for both roles
	if p.Subscriber != nil && any(p.Subscriber) != any(p.Publisher) {
		if err := p.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewClient returns a go-redis client for s.Addr.
func NewClient(s Settings) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: s.Addr})
}

// BuildPubSub returns a Redis Streams publisher/subscriber when enabled, and an in-process
// Go channel otherwise. Publishing on the in-process channel blocks until subscribers ack,
// which keeps per-topic order.
func BuildPubSub(s Settings) (*PubSub, error) {
	logger := NewWatermillLogger(log.Logger)
	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch}, nil
	}

	client := NewClient(s)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis stream publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "redis stream subscriber")
	}
	return &PubSub{Publisher: pub, Subscriber: sub}, nil
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, s Settings, stream string) error {
	client := NewClient(s)
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, s.Group, "$").Err()
	if err != nil {
		// BUSYGROUP is the Redis error code for an existing group
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", stream).Str("group", s.Group).Msg("created redis consumer group at $ (tail)")
	return nil
}
