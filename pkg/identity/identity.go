// Package identity resolves which Retell agent id a persona uses.
//
// Precedence is strictly: the session's override map, then the PREFIX_<KEY> environment
// variable, then the persona's registry default. An empty result means "unconfigured".
package identity

import (
	"os"
	"strings"

	"github.com/go-go-golems/voicedesk/pkg/personas"
)

const DefaultEnvPrefix = "RETELL_AGENT"

// EnvLookup has the shape of os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// OSEnv reads the process environment.
var OSEnv EnvLookup = os.LookupEnv

// Overrides maps persona keys to user-entered agent ids for one dashboard session.
type Overrides map[personas.Key]string

type Source string

const (
	SourceOverride Source = "override"
	SourceEnv      Source = "env"
	SourceDefault  Source = "default"
	SourceNone     Source = "none"
)

// Resolution is a resolved agent id and the layer that supplied it.
type Resolution struct {
	Key     personas.Key `json:"key"`
	AgentID string       `json:"agent_id"`
	Source  Source       `json:"source"`
	EnvVar  string       `json:"env_var"`
}

type Resolver struct {
	registry  *personas.Registry
	envPrefix string
}

type Option func(*Resolver)

// WithEnvPrefix sets the prefix of the per-persona environment variables.
func WithEnvPrefix(prefix string) Option {
	return func(r *Resolver) {
		if p := strings.TrimSpace(prefix); p != "" {
			r.envPrefix = strings.TrimSuffix(p, "_")
		}
	}
}

func NewResolver(registry *personas.Registry, opts ...Option) *Resolver {
	r := &Resolver{registry: registry, envPrefix: DefaultEnvPrefix}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EnvVar returns the environment variable consulted for key.
func (r *Resolver) EnvVar(key personas.Key) string {
	return r.envPrefix + "_" + strings.ToUpper(key)
}

// Resolve returns the agent id for key, or "" when no layer supplies one.
func (r *Resolver) Resolve(key personas.Key, overrides Overrides, lookup EnvLookup) string {
	return r.Explain(key, overrides, lookup).AgentID
}

// Explain is Resolve plus the layer the id came from.
func (r *Resolver) Explain(key personas.Key, overrides Overrides, lookup EnvLookup) Resolution {
	res := Resolution{Key: key, Source: SourceNone, EnvVar: r.EnvVar(key)}

	if v := strings.TrimSpace(overrides[key]); v != "" {
		res.AgentID, res.Source = v, SourceOverride
		return res
	}
	if lookup != nil {
		if v, ok := lookup(res.EnvVar); ok {
			if v = strings.TrimSpace(v); v != "" {
				res.AgentID, res.Source = v, SourceEnv
				return res
			}
		}
	}
	if r.registry != nil {
		if d, err := r.registry.Get(key); err == nil && strings.TrimSpace(d.DefaultAgentID) != "" {
			res.AgentID, res.Source = strings.TrimSpace(d.DefaultAgentID), SourceDefault
		}
	}
	return res
}

// ExplainAll resolves every persona of the registry in display order.
func (r *Resolver) ExplainAll(overrides Overrides, lookup EnvLookup) []Resolution {
	if r.registry == nil {
		return nil
	}
	keys := r.registry.Keys()
	ret := make([]Resolution, 0, len(keys))
	for _, k := range keys {
		ret = append(ret, r.Explain(k, overrides, lookup))
	}
	return ret
}

// SanitizeOverrides builds the override map a settings submission produces: values are
// trimmed, blanks dropped, and keys outside the registry discarded.
func (r *Resolver) SanitizeOverrides(submitted map[string]string) Overrides {
	ret := Overrides{}
	for k, v := range submitted {
		v = strings.TrimSpace(v)
		if v == "" || r.registry == nil || !r.registry.Has(k) {
			continue
		}
		ret[k] = v
	}
	return ret
}

// MapEnv adapts a plain map to an EnvLookup; handy for tests and CLI previews.
func MapEnv(m map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}
