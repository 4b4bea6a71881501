package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/voicedesk/pkg/identity"
	"github.com/go-go-golems/voicedesk/pkg/personas"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "Inspect the persona catalog",
	Long:  "List the assistant personas and the agent id each one resolves to in the current environment.",
}

func AddPersonasCommands(rootCmd *cobra.Command) {
	listCmd, err := NewPersonasListCommand()
	cobra.CheckErr(err)
	showCmd, err := NewPersonasShowCommand()
	cobra.CheckErr(err)

	cobraListCmd, err := cli.BuildCobraCommand(listCmd, cli.WithCobraMiddlewaresFunc(GetMiddlewares))
	cobra.CheckErr(err)
	cobraShowCmd, err := cli.BuildCobraCommand(showCmd, cli.WithCobraMiddlewaresFunc(GetMiddlewares))
	cobra.CheckErr(err)

	personasCmd.AddCommand(cobraListCmd)
	personasCmd.AddCommand(cobraShowCmd)
	rootCmd.AddCommand(personasCmd)
}

type PersonasListSettings struct {
	WithFeatures bool `glazed:"with-features"`
}

type PersonasListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &PersonasListCommand{}

func NewPersonasListCommand() (*PersonasListCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	personasSection, err := NewPersonasSection()
	if err != nil {
		return nil, err
	}

	return &PersonasListCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List personas with their effective agent ids"),
			cmds.WithLong("List every persona of the catalog in display order, with the agent id it resolves to and where that id comes from (env or default)."),
			cmds.WithFlags(
				fields.New("with-features", fields.TypeBool,
					fields.WithDefault(false),
					fields.WithHelp("Include the feature list")),
			),
			cmds.WithSections(glazedSection, commandSettingsSection, personasSection),
		),
	}, nil
}

func (c *PersonasListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsed *values.Values,
	gp middlewares.Processor,
) error {
	s := &PersonasListSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	ps := &PersonasSettings{}
	if err := decodeSections(parsed, ps, nil); err != nil {
		return err
	}
	registry, err := ps.Registry()
	if err != nil {
		return errors.Wrap(err, "load personas")
	}
	resolver := ps.Resolver(registry)

	for _, res := range resolver.ExplainAll(nil, identity.OSEnv) {
		d, err := registry.Get(res.Key)
		if err != nil {
			return err
		}
		row := types.NewRow(
			types.MRP("key", d.Key),
			types.MRP("icon", d.Icon),
			types.MRP("title", d.Title),
			types.MRP("agent_id", res.AgentID),
			types.MRP("source", string(res.Source)),
			types.MRP("env_var", res.EnvVar),
		)
		if s.WithFeatures {
			row.Set("features", strings.Join(d.Features, "; "))
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type PersonasShowSettings struct {
	Key   string `glazed:"key"`
	Plain bool   `glazed:"plain"`
}

type PersonasShowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &PersonasShowCommand{}

func NewPersonasShowCommand() (*PersonasShowCommand, error) {
	personasSection, err := NewPersonasSection()
	if err != nil {
		return nil, err
	}
	return &PersonasShowCommand{
		CommandDescription: cmds.NewCommandDescription(
			"show",
			cmds.WithShort("Show a persona card"),
			cmds.WithFlags(
				fields.New("plain", fields.TypeBool,
					fields.WithDefault(false),
					fields.WithHelp("Print raw markdown even on a terminal")),
			),
			cmds.WithArguments(
				fields.New("key", fields.TypeString,
					fields.WithHelp("Persona key, e.g. dental"),
					fields.WithRequired(true)),
			),
			cmds.WithSections(personasSection),
		),
	}, nil
}

func (c *PersonasShowCommand) RunIntoWriter(_ context.Context, parsed *values.Values, w io.Writer) error {
	s := &PersonasShowSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	ps := &PersonasSettings{}
	if err := decodeSections(parsed, ps, nil); err != nil {
		return err
	}
	registry, err := ps.Registry()
	if err != nil {
		return errors.Wrap(err, "load personas")
	}
	d, err := registry.Get(strings.TrimSpace(s.Key))
	if err != nil {
		return err
	}
	res := ps.Resolver(registry).Explain(d.Key, nil, identity.OSEnv)

	md := personaMarkdown(d, res)
	if !s.Plain && w == os.Stdout && isatty.IsTerminal(os.Stdout.Fd()) {
		styled, err := glamour.Render(md, "dark")
		if err == nil {
			md = styled
		}
	}
	_, err = io.WriteString(w, md)
	return err
}

func personaMarkdown(d personas.Descriptor, res identity.Resolution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", d.Icon, d.Title)
	fmt.Fprintf(&b, "%s\n\n", d.Description)
	for _, f := range d.Features {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\n")
	agentID := res.AgentID
	if agentID == "" {
		agentID = "not configured"
	}
	fmt.Fprintf(&b, "**Agent id:** `%s` (%s, override with `%s`)\n", agentID, res.Source, res.EnvVar)
	return b.String()
}
