package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckPortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-port <port>",
		Short: "Check whether a local port is free for a forward",
		Long: `Checks whether a local port is free for a forward. When 'pfctl serve'
is running it answers, so ports held by its forwards count as taken.
Otherwise the port is bound once on the configured bind address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			application, err := newApplication()
			if err != nil {
				return err
			}
			ok, err := application.CheckPort(cmd.Context(), port)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("port %d is in use", port)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Port %d is available\n", port)
			return nil
		},
	}
}
