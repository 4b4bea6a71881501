package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/go-go-golems/voicedesk/cmd/voicedesk/cmds"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voicedesk",
	Short: "voicedesk serves a dashboard for Retell voice assistants",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	if err := clay.InitGlazed("voicedesk", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	serveCmd, err := cmds.NewServeCommand()
	cobra.CheckErr(err)
	cobraServeCmd, err := cli.BuildCobraCommand(serveCmd, cli.WithCobraMiddlewaresFunc(cmds.GetMiddlewares))
	cobra.CheckErr(err)
	rootCmd.AddCommand(cobraServeCmd)

	cmds.AddPersonasCommands(rootCmd)
	cmds.AddCallCommands(rootCmd)

	cobra.CheckErr(rootCmd.Execute())
}
