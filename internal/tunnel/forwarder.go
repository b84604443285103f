package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"pfctl/pkg/logging"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

var (
	// ErrReadyTimeout is returned when a tunnel does not become ready in time.
	ErrReadyTimeout = errors.New("timed out waiting for port forward to become ready")
	// ErrTunnelClosed is reported when the forwarder stops without an error.
	ErrTunnelClosed = errors.New("port forward connection closed")
)

// OpenRequest describes one tunnel to a pod.
type OpenRequest struct {
	ForwardID    string
	Namespace    string
	Pod          string
	BindAddress  string
	LocalPort    int
	RemotePort   int
	ReadyTimeout time.Duration
}

// Conn is an open tunnel. Done yields the reason the tunnel ended, once.
type Conn interface {
	LocalPort() int
	Done() <-chan error
	Close()
}

// Opener establishes tunnels. Open returns once the local listener is ready.
type Opener interface {
	Open(ctx context.Context, r OpenRequest) (Conn, error)
}

// SPDYOpener opens tunnels through the API server's portforward subresource.
type SPDYOpener struct {
	client kubernetes.Interface
	config *rest.Config
}

func NewSPDYOpener(client kubernetes.Interface, config *rest.Config) *SPDYOpener {
	return &SPDYOpener{client: client, config: config}
}

func (o *SPDYOpener) Open(ctx context.Context, r OpenRequest) (Conn, error) {
	subsystem := "Tunnel-" + r.ForwardID

	// POST https://<server>/api/v1/namespaces/<namespace>/pods/<pod>/portforward
	reqURL := o.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(r.Namespace).
		Name(r.Pod).
		SubResource("portforward").
		URL()

	transport, upgrader, err := spdy.RoundTripperFor(o.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPDY round tripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, reqURL)

	stopCh := make(chan struct{})
	readyCh := make(chan struct{})
	ports := []string{fmt.Sprintf("%d:%d", r.LocalPort, r.RemotePort)}
	out := &logWriter{subsystem: subsystem}
	errOut := &logWriter{subsystem: subsystem, asError: true}

	fw, err := portforward.NewOnAddresses(dialer, []string{r.BindAddress}, ports, stopCh, readyCh, out, errOut)
	if err != nil {
		return nil, fmt.Errorf("failed to create port forwarder: %w", err)
	}

	conn := &spdyConn{stop: stopCh, done: make(chan error, 1)}
	result := make(chan error, 1)
	go func() {
		result <- fw.ForwardPorts()
	}()

	timeout := r.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-readyCh:
	case err := <-result:
		if err == nil {
			err = errors.New("port forward closed before it became ready")
		}
		return nil, fmt.Errorf("failed to forward %s/%s: %w", r.Namespace, r.Pod, err)
	case <-timer.C:
		conn.Close()
		return nil, fmt.Errorf("forward to %s/%s: %w", r.Namespace, r.Pod, ErrReadyTimeout)
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}

	bound, err := fw.GetPorts()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not determine bound local port: %w", err)
	}
	if len(bound) == 0 {
		conn.Close()
		return nil, errors.New("port forwarder reported no bound ports")
	}
	conn.local = int(bound[0].Local)

	go func() {
		err := <-result
		if err == nil {
			err = ErrTunnelClosed
		}
		conn.done <- err
	}()

	logging.Debug(subsystem, "Forwarding %s:%d -> %s/%s:%d", r.BindAddress, conn.local, r.Namespace, r.Pod, r.RemotePort)
	return conn, nil
}

type spdyConn struct {
	local     int
	stop      chan struct{}
	done      chan error
	closeOnce sync.Once
}

func (c *spdyConn) LocalPort() int     { return c.local }
func (c *spdyConn) Done() <-chan error { return c.done }

func (c *spdyConn) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

// logWriter relays the forwarder's stdout/stderr lines to the log.
type logWriter struct {
	subsystem string
	asError   bool
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if w.asError {
			logging.Warn(w.subsystem, "%s", line)
		} else {
			logging.Debug(w.subsystem, "%s", line)
		}
	}
	return len(p), nil
}
