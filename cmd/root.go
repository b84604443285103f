package cmd

import (
	"os"

	"pfctl/internal/app"

	"github.com/spf13/cobra"
)

var (
	kubeContext string
	logLevel    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pfctl",
	Short: "Manage Kubernetes port forwards that survive pod restarts",
	Long: `pfctl forwards local ports to pods and services in a Kubernetes cluster.
Forwards to a service are rebound to another ready pod when the current
one goes away, on the same local port.

Run a single forward in the foreground with 'pfctl forward', or start
'pfctl serve' to manage several forwards over a local HTTP API.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed connections)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pfctl version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

// newApplication builds the application from the global flags.
func newApplication() (*app.Application, error) {
	return app.NewApplication(app.NewConfig(kubeContext, logLevel))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&kubeContext, "kube-context", "", "Kubernetes context to use (default: current context)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(newForwardCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCheckPortCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}
