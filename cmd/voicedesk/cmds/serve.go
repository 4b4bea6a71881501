package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/voicedesk/pkg/callevents"
	"github.com/go-go-golems/voicedesk/pkg/dashboard"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/redisstream"
	"github.com/go-go-golems/voicedesk/pkg/session"
	"github.com/go-go-golems/voicedesk/pkg/web"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type ServeSettings struct {
	Addr                 string `glazed:"addr"`
	SecureCookies        bool   `glazed:"secure-cookies"`
	EvictIntervalSeconds int    `glazed:"evict-interval-seconds"`
}

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ServeCommand{}

func NewServeCommand() (*ServeCommand, error) {
	personasSection, err := NewPersonasSection()
	if err != nil {
		return nil, err
	}
	retellSection, err := NewRetellSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := redisstream.NewParameterLayer()
	if err != nil {
		return nil, errors.Wrap(err, "build redis layer")
	}

	return &ServeCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Serve the voice assistant dashboard"),
			cmds.WithLong("Serve the dashboard that starts Retell web calls for the configured personas and hosts the browser call widget."),
			cmds.WithFlags(
				fields.New("addr", fields.TypeString,
					fields.WithDefault(":8080"),
					fields.WithHelp("HTTP listen address")),
				fields.New("secure-cookies", fields.TypeBool,
					fields.WithDefault(false),
					fields.WithHelp("Mark the session cookie Secure (serve behind TLS)")),
				fields.New("evict-interval-seconds", fields.TypeInteger,
					fields.WithDefault(60),
					fields.WithHelp("How often idle in-memory sessions are evicted")),
			),
			cmds.WithSections(personasSection, retellSection, redisSection),
		),
	}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ServeSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init server settings")
	}
	ps := &PersonasSettings{}
	rs := &RetellSettings{}
	if err := decodeSections(parsed, ps, rs); err != nil {
		return err
	}
	redis := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.RedisSlug, &redis); err != nil {
		return errors.Wrap(err, "init redis settings")
	}

	registry, err := ps.Registry()
	if err != nil {
		return errors.Wrap(err, "load personas")
	}
	resolver := ps.Resolver(registry)
	for _, res := range resolver.ExplainAll(nil, identity.OSEnv) {
		ev := log.Debug()
		if res.AgentID == "" {
			ev = log.Warn()
		}
		ev.Str("persona", res.Key).Str("agent_id", res.AgentID).Str("source", string(res.Source)).Msg("persona agent id")
	}

	ttl := session.DefaultTTL
	if redis.SessionTTL > 0 {
		ttl = time.Duration(redis.SessionTTL) * time.Second
	}
	var store session.Store
	if redis.Enabled {
		store = session.NewRedisStore(redisstream.NewClient(redis), redis.KeyPrefix, ttl)
		log.Info().Str("addr", redis.Addr).Str("prefix", redis.KeyPrefix).Msg("dashboard sessions in redis")
	} else {
		mem := session.NewMemoryStore(ttl)
		interval := time.Duration(s.EvictIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		mem.StartEvictionLoop(ctx, interval)
		store = mem
	}
	defer func() { _ = store.Close() }()

	if redis.Enabled {
		if err := redisstream.EnsureGroupAtTail(ctx, redis, callevents.Topic); err != nil {
			return errors.Wrap(err, "ensure call event consumer group")
		}
	}
	pubsub, err := redisstream.BuildPubSub(redis)
	if err != nil {
		return errors.Wrap(err, "build call event transport")
	}
	defer func() { _ = pubsub.Close() }()

	var startTimeout time.Duration
	if rs.TimeoutSeconds > 0 {
		startTimeout = time.Duration(rs.TimeoutSeconds)*time.Second + 30*time.Second
	}
	svc, err := dashboard.NewService(dashboard.Config{
		Registry: registry,
		Resolver: resolver,
		Env:      identity.OSEnv,
		Starter:  rs.Bootstrapper(),
		Keys:     rs.KeyChain(),
		Store:    store,
		Relay:    callevents.NewRelay(pubsub.Publisher, pubsub.Subscriber),

		StartTimeout: startTimeout,
	})
	if err != nil {
		return err
	}

	srv, err := web.NewServer(svc,
		web.WithAddr(s.Addr),
		web.WithSecureCookies(s.SecureCookies),
	)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
