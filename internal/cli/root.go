// Package cli implements the fermata command tree: the serving side
// (`fermata serve`) and the client commands that talk to it.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fermata",
		Short: "Fermata — AI feedback coach for performance videos",
		Long: "Fermata analyzes performance takes through a streaming model backend,\n" +
			"tracks feedback across practice clips, and hosts a tool-calling coach\n" +
			"you can chat with about the session.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.fermata/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newFixCmd())
	cmd.AddCommand(newCoachCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
