package cmds

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/voicedesk/pkg/bootstrap"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Work with Retell web calls",
}

func AddCallCommands(rootCmd *cobra.Command) {
	createCmd, err := NewCallCreateCommand()
	cobra.CheckErr(err)
	cobraCreateCmd, err := cli.BuildCobraCommand(createCmd, cli.WithCobraMiddlewaresFunc(GetMiddlewares))
	cobra.CheckErr(err)
	callCmd.AddCommand(cobraCreateCmd)
	rootCmd.AddCommand(callCmd)
}

type CallCreateSettings struct {
	Persona string `glazed:"persona"`
	AgentID string `glazed:"agent-id"`
}

type CallCreateCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &CallCreateCommand{}

func NewCallCreateCommand() (*CallCreateCommand, error) {
	personasSection, err := NewPersonasSection()
	if err != nil {
		return nil, err
	}
	retellSection, err := NewRetellSection()
	if err != nil {
		return nil, err
	}
	return &CallCreateCommand{
		CommandDescription: cmds.NewCommandDescription(
			"create",
			cmds.WithShort("Create one web call and print the session as JSON"),
			cmds.WithLong("Resolve the persona's agent id the way the dashboard does and issue a single create-web-call. Useful to check keys and agent ids without a browser."),
			cmds.WithFlags(
				fields.New("persona", fields.TypeString,
					fields.WithHelp("Persona key, e.g. dental"),
					fields.WithShortFlag("p"),
					fields.WithRequired(true)),
				fields.New("agent-id", fields.TypeString,
					fields.WithDefault(""),
					fields.WithHelp("Agent id overriding environment and default")),
			),
			cmds.WithSections(personasSection, retellSection),
		),
	}, nil
}

func (c *CallCreateCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &CallCreateSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	ps := &PersonasSettings{}
	rs := &RetellSettings{}
	if err := decodeSections(parsed, ps, rs); err != nil {
		return err
	}
	registry, err := ps.Registry()
	if err != nil {
		return errors.Wrap(err, "load personas")
	}
	key := strings.TrimSpace(s.Persona)
	if _, err := registry.Get(key); err != nil {
		return err
	}

	resolver := ps.Resolver(registry)
	res := resolver.Explain(key, identity.Overrides{key: s.AgentID}, identity.OSEnv)
	log.Info().Str("persona", key).Str("agent_id", res.AgentID).Str("source", string(res.Source)).Msg("creating web call")

	info, err := rs.Bootstrapper().Start(ctx, res.AgentID, rs.KeyChain())
	if err != nil {
		p := bootstrap.Describe(err)
		if p.Hint != "" {
			log.Error().Str("kind", string(p.Kind)).Msg(p.Hint)
		}
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
