package main

import (
	"time"

	"github.com/spf13/cobra"

	"naps/internal/app"
)

const stopTimeout = 10 * time.Second

type rootFlags struct {
	config string
	log    string
}

func (f *rootFlags) options() app.Options { return app.Options{LogLevel: f.log} }

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "naps",
		Short:         "Mail a random, never-sent photo from Immich on a schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "config.toml", "path to config file (.toml, .yaml or .json)")
	root.PersistentFlags().StringVar(&flags.log, "log", "", "log level: TRACE, DEBUG, INFO, WARNING, ERROR (default from config, else WARNING)")

	root.AddCommand(newRunCmd(flags), newListSentCmd(flags))
	return root
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and keep mailing until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(flags.config, flags.options())
			if err != nil {
				return err
			}
			if once {
				a.Job().Run(cmd.Context())
				return a.Stop(cmd.Context())
			}
			return a.Run(cmd.Context(), stopTimeout)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func newListSentCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list-sent",
		Short: "Print the id of every asset already mailed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.ListSent(cmd.Context(), flags.config, flags.options(), cmd.OutOrStdout())
		},
	}
}
