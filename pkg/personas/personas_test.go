package personas

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogOrderAndDefaults(t *testing.T) {
	r := Default()

	require.Equal(t, []Key{
		"real_estate", "debits", "insurance", "healthcare", "school", "ecommerce",
		"travel", "fintech", "utility", "restaurant", "dental",
	}, r.Keys())

	dental, err := r.Get("dental")
	require.NoError(t, err)
	require.Equal(t, "agent_4deac7a40e9e59967e58066b88", dental.DefaultAgentID)
	require.Equal(t, "Dental Assistant", dental.Title)
	require.Len(t, dental.Features, 5)

	for _, d := range r.All() {
		require.NotEmpty(t, d.Title, d.Key)
		require.NotEmpty(t, d.Icon, d.Key)
		require.True(t, strings.HasPrefix(d.DefaultAgentID, "agent_"), d.Key)
	}
}

func TestGetUnknownKey(t *testing.T) {
	_, err := Default().Get("plumbing")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPersonaNotFound))
	require.False(t, Default().Has("plumbing"))
}

func TestRegistryIsNotMutatedThroughAccessors(t *testing.T) {
	r := Default()
	keys := r.Keys()
	keys[0] = "mutated"

	d, err := r.Get("travel")
	require.NoError(t, err)
	d.Features[0] = "mutated"

	require.Equal(t, "real_estate", r.Keys()[0])
	again, err := r.Get("travel")
	require.NoError(t, err)
	require.Equal(t, "Book flights & hotels", again.Features[0])
}

func TestLoadRejectsDuplicatesAndEmptyKeys(t *testing.T) {
	_, err := Load(strings.NewReader(`
personas:
  - key: a
    title: A
  - key: a
    title: B
`))
	require.ErrorContains(t, err, "duplicate persona key")

	_, err = Load(strings.NewReader(`
personas:
  - key: "  "
    title: A
`))
	require.ErrorContains(t, err, "empty key")

	_, err = Load(strings.NewReader(""))
	require.ErrorContains(t, err, "empty")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
personas:
  - key: concierge
    title: Concierge
    icon: "🛎️"
    agent_id: agent_concierge
    features: [Bookings]
`), 0o600))

	r, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []Key{"concierge"}, r.Keys())
	d, err := r.Get("concierge")
	require.NoError(t, err)
	require.Equal(t, "agent_concierge", d.DefaultAgentID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
