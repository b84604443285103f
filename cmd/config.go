package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Prints the configuration after merging the defaults, the user file
(~/.config/pfctl/config.yaml), the project file (.pfctl/config.yaml) and
the global flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(application.PfctlConfig())
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.AddCommand(newConfigOpenBrowserCmd())
	return cmd
}

func newConfigOpenBrowserCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "open-browser [always|ask|never]",
		Short:     "Show or save whether connected forwards are opened in a browser",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"always", "ask", "never"},
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), application.PfctlConfig().OpenBrowser())
				return nil
			}
			path, err := application.SetOpenBrowser(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved portForwardOpenBrowser: %s to %s\n", args[0], path)
			return nil
		},
	}
}
