// Package personas holds the catalog of voice-assistant personas shown on the dashboard.
//
// A Registry is built once at startup, either from the embedded catalog (Default) or from a
// user-supplied YAML file, and is read-only afterwards.
package personas

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultCatalog []byte

// ErrPersonaNotFound is returned by Get for keys that are not in the registry.
var ErrPersonaNotFound = errors.New("persona not found")

type Key = string

// Descriptor is the display metadata of a persona plus the agent id it uses when nothing
// overrides it.
type Descriptor struct {
	Key            Key      `yaml:"key" json:"key"`
	Title          string   `yaml:"title" json:"title"`
	Description    string   `yaml:"description" json:"description"`
	Icon           string   `yaml:"icon" json:"icon"`
	Features       []string `yaml:"features" json:"features"`
	DefaultAgentID string   `yaml:"agent_id" json:"default_agent_id"`
}

type catalogFile struct {
	Personas []Descriptor `yaml:"personas"`
}

// Registry is an ordered, immutable set of personas.
type Registry struct {
	order []Key
	byKey map[Key]Descriptor
}

// NewRegistry builds a registry from descriptors in display order.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		order: make([]Key, 0, len(descriptors)),
		byKey: make(map[Key]Descriptor, len(descriptors)),
	}
	for i, d := range descriptors {
		key := strings.TrimSpace(d.Key)
		if key == "" {
			return nil, errors.Errorf("persona #%d has an empty key", i)
		}
		if _, ok := r.byKey[key]; ok {
			return nil, errors.Errorf("duplicate persona key %q", key)
		}
		d.Key = key
		d.Features = append([]string(nil), d.Features...)
		r.order = append(r.order, key)
		r.byKey[key] = d
	}
	return r, nil
}

// Load reads a YAML catalog of the form `personas: [{key, title, ...}, ...]`.
func Load(rd io.Reader) (*Registry, error) {
	var f catalogFile
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("persona catalog is empty")
		}
		return nil, errors.Wrap(err, "decode persona catalog")
	}
	if len(f.Personas) == 0 {
		return nil, errors.New("persona catalog is empty")
	}
	return NewRegistry(f.Personas...)
}

func LoadFile(path string) (*Registry, error) {
	log.Debug().Str("path", path).Msg("loading persona catalog")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open persona catalog")
	}
	defer func() { _ = f.Close() }()
	r, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return r, nil
}

// Default returns the built-in catalog.
func Default() *Registry {
	r, err := Load(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(errors.Wrap(err, "embedded persona catalog"))
	}
	return r
}

// Get returns the persona for key or ErrPersonaNotFound.
func (r *Registry) Get(key Key) (Descriptor, error) {
	d, ok := r.byKey[key]
	if !ok {
		return Descriptor{}, errors.Wrapf(ErrPersonaNotFound, "%q", key)
	}
	d.Features = append([]string(nil), d.Features...)
	return d, nil
}

// Has reports whether key names a persona.
func (r *Registry) Has(key Key) bool {
	_, ok := r.byKey[key]
	return ok
}

// Keys returns persona keys in display order.
func (r *Registry) Keys() []Key {
	return append([]Key(nil), r.order...)
}

// All returns every persona in display order.
func (r *Registry) All() []Descriptor {
	ret := make([]Descriptor, 0, len(r.order))
	for _, k := range r.order {
		d, _ := r.Get(k)
		ret = append(ret, d)
	}
	return ret
}

func (r *Registry) Len() int {
	return len(r.order)
}
