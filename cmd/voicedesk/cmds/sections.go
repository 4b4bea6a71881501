package cmds

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/voicedesk/pkg/bootstrap"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/personas"
	"github.com/go-go-golems/voicedesk/pkg/retell"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	EnvPrefix = "VOICEDESK"

	PersonasSlug = "personas"
	RetellSlug   = "retell"

	// RetellAPIKeyEnv is consulted after the --retell-api-key flag.
	RetellAPIKeyEnv = "RETELL_API_KEY"
)

type PersonasSettings struct {
	PersonasFile   string `glazed:"personas-file"`
	AgentEnvPrefix string `glazed:"agent-env-prefix"`
}

func NewPersonasSection() (schema.Section, error) {
	return schema.NewSection(
		PersonasSlug,
		"Persona catalog and agent id resolution",
		schema.WithFields(
			fields.New("personas-file", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("YAML persona catalog replacing the built-in one")),
			fields.New("agent-env-prefix", fields.TypeString,
				fields.WithDefault(identity.DefaultEnvPrefix),
				fields.WithHelp("Prefix of the per-persona agent id environment variables (<prefix>_<KEY>)")),
		),
	)
}

func (s *PersonasSettings) Registry() (*personas.Registry, error) {
	if strings.TrimSpace(s.PersonasFile) == "" {
		return personas.Default(), nil
	}
	return personas.LoadFile(s.PersonasFile)
}

func (s *PersonasSettings) Resolver(reg *personas.Registry) *identity.Resolver {
	prefix := strings.TrimSpace(s.AgentEnvPrefix)
	if prefix == "" {
		prefix = identity.DefaultEnvPrefix
	}
	return identity.NewResolver(reg, identity.WithEnvPrefix(prefix))
}

type RetellSettings struct {
	APIKey         string `glazed:"retell-api-key"`
	APIKeySecret   string `glazed:"retell-api-key-secret"`
	BaseURL        string `glazed:"retell-base-url"`
	TimeoutSeconds int    `glazed:"retell-timeout-seconds"`
}

func NewRetellSection() (schema.Section, error) {
	return schema.NewSection(
		RetellSlug,
		"Retell API access",
		schema.WithFields(
			fields.New("retell-api-key", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Retell API key (falls back to $"+RetellAPIKeyEnv+", then --retell-api-key-secret)")),
			fields.New("retell-api-key-secret", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("scy secret URL holding {\"api_key\": ...}, e.g. ~/.secret/retell.json|blowfish://default")),
			fields.New("retell-base-url", fields.TypeString,
				fields.WithDefault(retell.DefaultBaseURL),
				fields.WithHelp("Retell API base URL")),
			fields.New("retell-timeout-seconds", fields.TypeInteger,
				fields.WithDefault(int(retell.DefaultTimeout/time.Second)),
				fields.WithHelp("Timeout of the create-web-call request")),
		),
	)
}

// KeyChain returns the API key sources in precedence order: flag, environment, secret.
func (s *RetellSettings) KeyChain() *bootstrap.KeyChain {
	return bootstrap.NewKeyChain(
		bootstrap.StaticKey("flag", s.APIKey),
		bootstrap.EnvKey(RetellAPIKeyEnv, os.LookupEnv),
		bootstrap.SecretKey(s.APIKeySecret),
	)
}

func (s *RetellSettings) Bootstrapper() *bootstrap.Bootstrapper {
	opts := []retell.Option{retell.WithBaseURL(s.BaseURL)}
	if s.TimeoutSeconds > 0 {
		opts = append(opts, retell.WithHTTPClient(&http.Client{Timeout: time.Duration(s.TimeoutSeconds) * time.Second}))
	}
	return bootstrap.New(bootstrap.RetellClientFactory(opts...))
}

func decodeSections(parsed *values.Values, personasSettings *PersonasSettings, retellSettings *RetellSettings) error {
	if personasSettings != nil {
		if err := parsed.DecodeSectionInto(PersonasSlug, personasSettings); err != nil {
			return errors.Wrap(err, "init persona settings")
		}
	}
	if retellSettings != nil {
		if err := parsed.DecodeSectionInto(RetellSlug, retellSettings); err != nil {
			return errors.Wrap(err, "init retell settings")
		}
	}
	return nil
}

// GetMiddlewares resolves values from flags, arguments, VOICEDESK_* environment variables and
// defaults, in that order of precedence.
func GetMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}
