package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newInspectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the scope tree, installed modules and queue state of a runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, "inspect runtime", flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Scopes")
			fmt.Fprint(out, rt.Container.Registry().Tree())

			fmt.Fprintln(out, "\nModules")
			for _, name := range rt.Container.Loader().Installed(rt.Container.Root().ID()) {
				fmt.Fprintf(out, "  %s\n", name)
			}

			state := "offline"
			if rt.Connectivity.IsOnline() {
				state = "online"
			}
			fmt.Fprintf(out, "\nConnectivity: %s\n", state)
			fmt.Fprintf(out, "Storage: %s\n", strings.TrimSpace(rt.Config.Queue.Storage+" "+rt.Config.Queue.Path))
			fmt.Fprintf(out, "Queue: %d pending, %d dead letters\n", rt.Queue.PendingCount(), len(rt.Queue.DeadLetters()))
			return nil
		},
	}
}
