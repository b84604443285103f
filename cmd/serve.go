package cmd

import (
	"pfctl/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var opts app.ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Manage port forwards over a local HTTP API",
		Long: `Starts the session manager behind a local HTTP server.

  GET    /api/sessions            list forwards
  POST   /api/sessions            start a forward
  GET    /api/sessions/{id}       show a forward
  DELETE /api/sessions/{id}       stop a forward
  DELETE /api/sessions            stop all forwards
  GET    /api/ports/{port}        check whether a local port is free
  GET    /api/browser/pending     show the pending open-in-browser prompt
  POST   /api/browser/confirm     open the pending URL ({"remember": true} to always open)
  POST   /api/browser/dismiss     skip it ({"remember": true} to never open)
  GET    /ws                      stream state changes and notifications

All forwards are stopped when the server exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			return application.RunServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Address to listen on (default from config, localhost)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port to listen on (default from config, 8090)")
	return cmd
}
