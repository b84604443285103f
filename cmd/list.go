package cmd

import (
	"pfctl/internal/app"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var opts app.ServeOptions

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the port forwards of a running 'pfctl serve'",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			return application.ListSessions(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Address of the server (default from config, localhost)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port of the server (default from config, 8090)")
	return cmd
}
