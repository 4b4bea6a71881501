package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const RedisSlug = "redis"

// Settings holds the Redis configuration shared by the call event transport and the
// dashboard session store.
type Settings struct {
	Enabled    bool   `glazed:"redis-enabled"`
	Addr       string `glazed:"redis-addr"`
	Group      string `glazed:"redis-group"`
	Consumer   string `glazed:"redis-consumer"`
	KeyPrefix  string `glazed:"redis-key-prefix"`
	SessionTTL int    `glazed:"redis-session-ttl-seconds"`
}

// NewParameterLayer returns the section definition for Redis settings.
func NewParameterLayer() (schema.Section, error) {
	return schema.NewSection(
		RedisSlug,
		"Redis configuration for call events (Redis Streams) and dashboard sessions",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Use Redis for call events and dashboard sessions instead of process memory")),
			fields.New("redis-addr", fields.TypeString,
				fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString,
				fields.WithDefault("voicedesk-ui"),
				fields.WithHelp("Redis consumer group for call events; use one group per replica")),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithDefault("ui-1"),
				fields.WithHelp("Redis consumer name")),
			fields.New("redis-key-prefix", fields.TypeString,
				fields.WithDefault("voicedesk:session:"),
				fields.WithHelp("Key prefix for dashboard sessions")),
			fields.New("redis-session-ttl-seconds", fields.TypeInteger,
				fields.WithDefault(12*60*60),
				fields.WithHelp("Idle time after which a dashboard session is dropped")),
		),
	)
}
