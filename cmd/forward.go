package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"pfctl/internal/app"
	"pfctl/internal/session"

	"github.com/spf13/cobra"
)

func newForwardCmd() *cobra.Command {
	var (
		namespace string
		opts      app.ForwardOptions
	)

	cmd := &cobra.Command{
		Use:   "forward <pod|service>/<name> [<local>:]<port>",
		Short: "Forward a local port to a pod or service until interrupted",
		Long: `Forwards a local port to a pod or service and keeps the forward alive
until Ctrl+C. Forwards to a service move to another ready pod when the
current one is deleted; the local port stays the same.

Without a local port a free one is picked. Whether the forwarded URL is
opened in a browser follows the portForwardOpenBrowser setting ("ask"
prompts on the terminal) unless --open-browser is given.`,
		Example: `  pfctl forward service/grafana 3000
  pfctl forward svc/prometheus 9091:9090 -n monitoring --open-browser never
  pfctl forward pod/postgres-0 5432 --copy-url`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseForwardArgs(namespace, args[0], args[1])
			if err != nil {
				return err
			}
			application, err := newApplication()
			if err != nil {
				return err
			}
			return application.RunForward(cmd.Context(), req, opts)
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "Namespace of the target")
	cmd.Flags().StringVar(&opts.OpenBrowser, "open-browser", "", "Override the browser preference for this run: always, ask or never")
	cmd.Flags().BoolVar(&opts.CopyURL, "copy-url", false, "Copy the forwarded URL to the clipboard")
	return cmd
}

// parseForwardArgs turns "svc/web" and "8080:80" into a start request.
func parseForwardArgs(namespace, target, ports string) (session.StartRequest, error) {
	kind, name, ok := strings.Cut(target, "/")
	if !ok || name == "" {
		return session.StartRequest{}, fmt.Errorf("invalid target %q, expected <pod|service>/<name>", target)
	}
	targetType, err := session.ParseTargetType(kind)
	if err != nil {
		return session.StartRequest{}, err
	}

	req := session.StartRequest{
		Namespace:  namespace,
		Name:       name,
		TargetType: targetType,
	}

	remote := ports
	if local, r, found := strings.Cut(ports, ":"); found {
		remote = r
		if local != "" {
			if req.LocalPort, err = parsePort(local); err != nil {
				return session.StartRequest{}, fmt.Errorf("invalid local port: %w", err)
			}
		}
	}
	if req.TargetPort, err = parsePort(remote); err != nil {
		return session.StartRequest{}, fmt.Errorf("invalid port: %w", err)
	}
	return req, req.Validate()
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%q is not a port number", s)
	}
	return port, nil
}
