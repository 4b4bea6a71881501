package bootstrap

import (
	"context"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/scy"
)

// APIKeyProvider yields the Retell API key. An empty key with a nil error means "not configured".
type APIKeyProvider interface {
	APIKey(ctx context.Context) (string, error)
}

type APIKeyFunc func(ctx context.Context) (string, error)

func (f APIKeyFunc) APIKey(ctx context.Context) (string, error) { return f(ctx) }

// KeySource is one layer of a KeyChain.
type KeySource struct {
	Name string
	Load func(ctx context.Context) (string, error)
}

// KeyChain returns the first non-empty key of its sources, in order. It never falls back to
// a built-in key: when every source is empty it fails with a ConfigurationError.
type KeyChain struct {
	sources []KeySource
}

func NewKeyChain(sources ...KeySource) *KeyChain {
	return &KeyChain{sources: sources}
}

func (c *KeyChain) APIKey(ctx context.Context) (string, error) {
	for _, s := range c.sources {
		if s.Load == nil {
			continue
		}
		v, err := s.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", s.Name).Msg("could not load retell api key")
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			log.Debug().Str("source", s.Name).Msg("using retell api key")
			return v, nil
		}
	}
	return "", &ConfigurationError{
		Field:  "retell-api-key",
		Reason: "no Retell API key configured",
	}
}

// StaticKey is an explicitly configured value, e.g. a command line flag.
func StaticKey(name, value string) KeySource {
	return KeySource{Name: name, Load: func(context.Context) (string, error) { return value, nil }}
}

// EnvKey reads a single environment variable through lookup (os.LookupEnv in production).
func EnvKey(variable string, lookup func(string) (string, bool)) KeySource {
	return KeySource{
		Name: "env:" + variable,
		Load: func(context.Context) (string, error) {
			if lookup == nil {
				return "", nil
			}
			v, _ := lookup(variable)
			return v, nil
		},
	}
}

// StoredSecret is the document a secret URL points to.
type StoredSecret struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// SecretKey loads the key from a scy secret resource, for example
// "~/.secret/retell.json|blowfish://default". An empty URL yields an inert source.
func SecretKey(secretURL string) KeySource {
	svc := scy.New()
	return KeySource{
		Name: "secret",
		Load: func(ctx context.Context) (string, error) {
			if strings.TrimSpace(secretURL) == "" {
				return "", nil
			}
			resource := scy.EncodedResource(secretURL).Decode(ctx, reflect.TypeOf(StoredSecret{}))
			secret, err := svc.Load(ctx, resource)
			if err != nil {
				return "", errors.Wrap(err, "load retell api key secret")
			}
			stored, ok := secret.Target.(*StoredSecret)
			if !ok {
				return "", errors.Errorf("unexpected secret type: %T", secret.Target)
			}
			return stored.APIKey, nil
		},
	}
}
