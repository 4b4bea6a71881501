package identity

import (
	"testing"

	"github.com/go-go-golems/voicedesk/pkg/personas"
	"github.com/stretchr/testify/require"
)

func TestResolveFallsBackToRegistryDefault(t *testing.T) {
	reg := personas.Default()
	r := NewResolver(reg)
	env := MapEnv(map[string]string{})

	for _, d := range reg.All() {
		require.Equal(t, d.DefaultAgentID, r.Resolve(d.Key, Overrides{}, env), d.Key)
	}
	require.Equal(t, "agent_4deac7a40e9e59967e58066b88", r.Resolve("dental", Overrides{}, env))
}

func TestResolveOverrideWins(t *testing.T) {
	reg := personas.Default()
	r := NewResolver(reg)

	for _, k := range reg.Keys() {
		env := MapEnv(map[string]string{r.EnvVar(k): "agent_from_env"})
		require.Equal(t, "X", r.Resolve(k, Overrides{k: "X"}, env), k)
	}
	require.Equal(t, "agent_custom123",
		r.Resolve("dental", Overrides{"dental": "agent_custom123"}, OSEnv))
}

func TestResolveEnvBeatsDefault(t *testing.T) {
	r := NewResolver(personas.Default())
	env := MapEnv(map[string]string{"RETELL_AGENT_REAL_ESTATE": " agent_env "})

	res := r.Explain("real_estate", nil, env)
	require.Equal(t, "agent_env", res.AgentID)
	require.Equal(t, SourceEnv, res.Source)
	require.Equal(t, "RETELL_AGENT_REAL_ESTATE", res.EnvVar)
}

func TestResolveWhitespaceFallsThrough(t *testing.T) {
	r := NewResolver(personas.Default())

	env := MapEnv(map[string]string{"RETELL_AGENT_TRAVEL": "agent_env"})
	res := r.Explain("travel", Overrides{"travel": "   \t"}, env)
	require.Equal(t, "agent_env", res.AgentID)
	require.Equal(t, SourceEnv, res.Source)

	env = MapEnv(map[string]string{"RETELL_AGENT_TRAVEL": "  "})
	res = r.Explain("travel", Overrides{"travel": " "}, env)
	require.Equal(t, "agent_90bbd9f42b1e8991c6354f2d18", res.AgentID)
	require.Equal(t, SourceDefault, res.Source)
}

func TestResolveUnknownOrUnconfigured(t *testing.T) {
	reg, err := personas.NewRegistry(personas.Descriptor{Key: "blank", Title: "Blank"})
	require.NoError(t, err)
	r := NewResolver(reg, WithEnvPrefix("VD_AGENT_"))

	res := r.Explain("blank", Overrides{}, MapEnv(nil))
	require.Equal(t, "", res.AgentID)
	require.Equal(t, SourceNone, res.Source)
	require.Equal(t, "VD_AGENT_BLANK", res.EnvVar)

	require.Equal(t, "", r.Resolve("missing", Overrides{}, nil))
}

func TestSanitizeOverrides(t *testing.T) {
	r := NewResolver(personas.Default())

	got := r.SanitizeOverrides(map[string]string{
		"dental":   "  agent_custom123 ",
		"travel":   "   ",
		"plumbing": "agent_x",
	})
	require.Equal(t, Overrides{"dental": "agent_custom123"}, got)
}

func TestExplainAllKeepsOrder(t *testing.T) {
	reg := personas.Default()
	r := NewResolver(reg)

	all := r.ExplainAll(Overrides{"school": "agent_s"}, MapEnv(nil))
	require.Len(t, all, reg.Len())
	require.Equal(t, "real_estate", all[0].Key)
	require.Equal(t, SourceOverride, all[4].Source)
	require.Equal(t, "agent_s", all[4].AgentID)
}
