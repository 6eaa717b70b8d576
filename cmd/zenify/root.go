package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	verbose    bool
	offline    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "zenify",
		Short:         "Zenify inspects and maintains the query cache and offline mutation queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the zenify YAML config (defaults apply when omitted)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&flags.offline, "offline", false, "Start with connectivity marked offline")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newQueueCmd(flags))
	cmd.AddCommand(newInspectCmd(flags))

	return cmd
}
