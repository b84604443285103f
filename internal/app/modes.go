package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pfctl/internal/browser"
	"pfctl/internal/config"
	"pfctl/internal/notify"
	"pfctl/internal/server"
	"pfctl/internal/session"
	"pfctl/internal/tunnel"
	"pfctl/pkg/logging"
)

// stopTimeout bounds how long shutdown waits for forwards to stop.
const stopTimeout = 10 * time.Second

// ForwardOptions are the per-run settings of a foreground forward.
type ForwardOptions struct {
	// OpenBrowser overrides the configured preference for this run only.
	OpenBrowser string
	CopyURL     bool
}

// ServeOptions override the configured server address.
type ServeOptions struct {
	Host string
	Port int
}

// RunForward starts one forward and keeps it running until ctx is
// cancelled, an interrupt arrives or the forward fails for good. Browser
// prompts are answered on the application's input.
func (a *Application) RunForward(ctx context.Context, req session.StartRequest, opts ForwardOptions) error {
	settings, err := a.forwardSettings(opts.OpenBrowser)
	if err != nil {
		return err
	}

	svc, err := a.newServices(*a.config.PfctlConfig)
	if err != nil {
		return err
	}
	defer svc.Close()

	console := notify.NewConsole(a.out)
	watcher := newForwardWatcher()
	mgr := svc.NewManager(
		session.WithSettings(settings),
		session.WithNotifier(console),
		session.WithBrowserOpener(browser.System{}),
		session.WithObserver(watcher),
	)
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started, err := mgr.StartSession(ctx, req)
	if err != nil {
		return err
	}
	console.PrintSession(*started)

	if opts.CopyURL {
		if err := browser.CopyURL(started.URL()); err != nil {
			logging.Warn("CLI", "Could not copy URL: %v", err)
		} else {
			console.Notify(session.Notification{Level: session.LevelInfo, Title: "Copied to clipboard", Message: started.URL()})
		}
	}
	fmt.Fprintln(a.out, "Press Ctrl+C to stop.")

	answers := readLines(a.in)
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case p := <-watcher.prompts:
			if answers == nil {
				mgr.DismissBrowserDialog(false)
				continue
			}
			fmt.Fprintf(a.out, "Open %s in your browser? [y]es/[n]o/[a]lways/ne[v]er: ", p.URL())
			select {
			case line, ok := <-answers:
				if !ok {
					fmt.Fprintln(a.out)
					answers = nil
					mgr.DismissBrowserDialog(false)
					continue
				}
				answerPrompt(mgr, line)
			case <-ctx.Done():
				break loop
			}
		case status := <-watcher.ended:
			runErr = fmt.Errorf("port forward to %s ended: %s", started.Target(), status)
			break loop
		}
	}

	logging.Debug("CLI", "Stopping port forward %s", started.ID)
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	mgr.StopAllSessions(stopCtx)
	if err := svc.Shutdown(stopCtx); err != nil {
		logging.Warn("CLI", "Failed to stop remaining port forwards: %v", err)
	}
	return runErr
}

// forwardSettings keeps a flag override in memory. Without one, answers
// like "always" are saved to the user config file.
func (a *Application) forwardSettings(override string) (session.Settings, error) {
	if override != "" {
		p, err := session.ParseOpenBrowserPreference(override)
		if err != nil {
			return nil, err
		}
		return session.NewMemorySettings(p), nil
	}
	return config.NewUserSettings(*a.config.PfctlConfig)
}

// RunServe runs the session manager behind the local control server until
// ctx is cancelled or an interrupt arrives.
func (a *Application) RunServe(ctx context.Context, opts ServeOptions) error {
	cfg := *a.config.PfctlConfig
	cfg.Server = a.serverConfig(opts)

	settings, err := config.NewUserSettings(cfg)
	if err != nil {
		return err
	}
	svc, err := a.newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	hub := server.NewHub()
	mgr := svc.NewManager(
		session.WithSettings(settings),
		session.WithNotifier(notify.Multi{notify.Log{}, hub}),
		session.WithBrowserOpener(browser.System{}),
		session.WithObserver(hub),
	)
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.Initialize(ctx)
	fmt.Fprintf(a.out, "Serving on http://%s (Ctrl+C to stop)\n", cfg.Server.Addr())
	runErr := server.New(mgr, hub).Run(ctx, cfg.Server.Addr())

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	mgr.StopAllSessions(stopCtx)
	if err := svc.Shutdown(stopCtx); err != nil {
		logging.Warn("Server", "Failed to stop remaining port forwards: %v", err)
	}
	return runErr
}

func (a *Application) serverConfig(opts ServeOptions) config.ServerConfig {
	s := a.config.PfctlConfig.Server
	if opts.Host != "" {
		s.Host = opts.Host
	}
	if opts.Port != 0 {
		s.Port = opts.Port
	}
	return s
}

// ListSessions prints the forwards of the running server as a table.
func (a *Application) ListSessions(ctx context.Context, opts ServeOptions) error {
	sessions, err := server.NewClient(a.serverConfig(opts).Addr()).Sessions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, notify.SessionTable(sessions, time.Now()))
	return nil
}

// CheckPort reports whether port is free for a new forward. A running
// server answers with the ports its forwards hold taken into account.
// Without one no forwards exist, and the port is bound once on the
// configured bind address instead.
func (a *Application) CheckPort(ctx context.Context, port int) (bool, error) {
	if port < 1 || port > 65535 {
		return false, fmt.Errorf("invalid port %d", port)
	}

	ok, err := server.NewClient(a.config.PfctlConfig.Server.Addr()).PortAvailable(ctx, port)
	if err == nil {
		return ok, nil
	}
	if !errors.Is(err, server.ErrUnreachable) {
		return false, err
	}
	logging.Debug("CLI", "No server running, checking port %d locally", port)
	return tunnel.PortAvailable(ctx, a.config.PfctlConfig.BindAddress, port)
}

// SetOpenBrowser saves the open-browser preference to the user config file.
func (a *Application) SetOpenBrowser(value string) (string, error) {
	p, err := session.ParseOpenBrowserPreference(value)
	if err != nil {
		return "", err
	}
	settings, err := config.NewUserSettings(*a.config.PfctlConfig)
	if err != nil {
		return "", err
	}
	if err := settings.SetOpenBrowser(p); err != nil {
		return "", err
	}
	a.config.PfctlConfig.PortForwardOpenBrowser = string(p)
	return settings.Path(), nil
}

type browserPrompt interface {
	ConfirmOpenBrowser(remember bool)
	DismissBrowserDialog(remember bool)
}

func answerPrompt(p browserPrompt, answer string) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		p.ConfirmOpenBrowser(false)
	case "a", "always":
		p.ConfirmOpenBrowser(true)
	case "v", "never":
		p.DismissBrowserDialog(true)
	default:
		p.DismissBrowserDialog(false)
	}
}

// readLines delivers r line by line and closes the channel at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// forwardWatcher turns manager state changes into prompts and the end of
// the forward. It runs on the manager loop and never blocks.
type forwardWatcher struct {
	prompts chan session.PendingBrowserOpen
	ended   chan session.Status

	lastPrompt string
	seen       bool
	done       bool
}

func newForwardWatcher() *forwardWatcher {
	return &forwardWatcher{
		prompts: make(chan session.PendingBrowserOpen, 4),
		ended:   make(chan session.Status, 1),
	}
}

func (w *forwardWatcher) StateChanged(st session.State) {
	if p := st.PendingBrowserOpen; p != nil {
		if key := fmt.Sprintf("%s:%d", p.SessionID, p.LocalPort); key != w.lastPrompt {
			w.lastPrompt = key
			select {
			case w.prompts <- *p:
			default:
			}
		}
	} else {
		w.lastPrompt = ""
	}

	if w.done {
		return
	}
	if len(st.Sessions) == 0 {
		if w.seen {
			w.finish(session.StatusStopped)
		}
		return
	}
	w.seen = true
	for _, s := range st.Sessions {
		if s.Status == session.StatusError || s.Status == session.StatusDisconnected {
			w.finish(s.Status)
			return
		}
	}
}

func (w *forwardWatcher) finish(s session.Status) {
	w.done = true
	w.ended <- s
}
