package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"pfctl/internal/events"
	"pfctl/internal/session"
	"pfctl/pkg/logging"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
)

// ErrNotFound is returned for operations on a forward the engine does not know.
var ErrNotFound = errors.New("port forward not found")

const (
	DefaultBindAddress       = "127.0.0.1"
	DefaultReadyTimeout      = 30 * time.Second
	DefaultReconnectAttempts = 5
	DefaultInitialBackoff    = time.Second
	DefaultMaxBackoff        = 30 * time.Second
)

// Options tunes an Engine.
type Options struct {
	BindAddress  string
	ReadyTimeout time.Duration
	// Reconnect drives rebinding after a pod or tunnel loss. Steps is the
	// number of attempts.
	Reconnect wait.Backoff
}

// NewBackoff builds a doubling backoff of attempts steps capped at maxDelay.
func NewBackoff(attempts int, initial, maxDelay time.Duration) wait.Backoff {
	if attempts < 1 {
		attempts = 1
	}
	return wait.Backoff{
		Duration: initial,
		Factor:   2,
		Jitter:   0.1,
		Steps:    attempts,
		Cap:      maxDelay,
	}
}

func DefaultOptions() Options {
	return Options{
		BindAddress:  DefaultBindAddress,
		ReadyTimeout: DefaultReadyTimeout,
		Reconnect:    NewBackoff(DefaultReconnectAttempts, DefaultInitialBackoff, DefaultMaxBackoff),
	}
}

// Publisher receives the lifecycle events of every forward.
type Publisher interface {
	Publish(ev events.Event)
}

// Engine runs port forwards and implements session.Engine.
type Engine struct {
	client kubernetes.Interface
	opener Opener
	bus    Publisher
	opts   Options
	now    func() time.Time

	mu       sync.Mutex
	forwards map[string]*forward
}

var _ session.Engine = (*Engine)(nil)

// NewEngine creates an engine that tunnels with opener and resolves
// targets through client.
func NewEngine(client kubernetes.Interface, opener Opener, bus Publisher, opts Options) *Engine {
	if opts.BindAddress == "" {
		opts.BindAddress = DefaultBindAddress
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Reconnect.Steps < 1 {
		opts.Reconnect = NewBackoff(DefaultReconnectAttempts, DefaultInitialBackoff, DefaultMaxBackoff)
	}
	return &Engine{
		client:   client,
		opener:   opener,
		bus:      bus,
		opts:     opts,
		now:      time.Now,
		forwards: make(map[string]*forward),
	}
}

// NewForCluster creates an engine that forwards through the cluster's API server.
func NewForCluster(c *Cluster, bus Publisher, opts Options) *Engine {
	return NewEngine(c.Client, NewSPDYOpener(c.Client, c.RESTConfig), bus, opts)
}

// forward is the engine-side record of one running tunnel.
type forward struct {
	id        string
	req       session.StartRequest
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	target    target
	localPort int
	status    session.Status
}

func (f *forward) setStatus(s session.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *forward) rebound(t target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = t
	f.status = session.StatusConnected
}

func (f *forward) pod() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target.Pod
}

func (f *forward) port() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localPort
}

func (f *forward) snapshot() session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Session{
		ID:         f.id,
		Namespace:  f.req.Namespace,
		Name:       f.req.Name,
		TargetType: f.req.TargetType,
		TargetPort: f.target.Port,
		LocalPort:  f.localPort,
		Status:     f.status,
		PodName:    f.target.Pod,
		PodUID:     f.target.UID,
		StartedAt:  f.startedAt,
	}
}

// Start resolves the target, opens the tunnel and publishes Started and
// Connected for id before returning.
func (e *Engine) Start(ctx context.Context, id string, req session.StartRequest) (session.StartResult, error) {
	if err := req.Validate(); err != nil {
		return session.StartResult{}, err
	}
	subsystem := "Tunnel-" + id

	e.mu.Lock()
	if _, exists := e.forwards[id]; exists {
		e.mu.Unlock()
		return session.StartResult{}, fmt.Errorf("port forward %s already exists", id)
	}
	if req.LocalPort > 0 {
		if owner := e.portOwnerLocked(req.LocalPort); owner != "" {
			e.mu.Unlock()
			return session.StartResult{}, fmt.Errorf("local port %d is already used by port forward %s", req.LocalPort, owner)
		}
	}
	e.mu.Unlock()

	tgt, err := resolveTarget(ctx, e.client, req)
	if err != nil {
		return session.StartResult{}, fmt.Errorf("failed to resolve %s/%s in %s: %w", req.TargetType, req.Name, req.Namespace, err)
	}
	logging.Debug(subsystem, "Resolved %s/%s to pod %s port %d", req.TargetType, req.Name, tgt.Pod, tgt.Port)

	conn, err := e.opener.Open(ctx, e.openRequest(id, req.Namespace, tgt, req.LocalPort))
	if err != nil {
		return session.StartResult{}, err
	}

	superCtx, cancel := context.WithCancel(context.Background())
	f := &forward{
		id:        id,
		req:       req,
		startedAt: e.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		target:    tgt,
		localPort: conn.LocalPort(),
		status:    session.StatusConnected,
	}
	e.mu.Lock()
	e.forwards[id] = f
	e.mu.Unlock()

	logging.Info(subsystem, "Forwarding %s:%d to %s/%s port %d", e.opts.BindAddress, f.localPort, req.Namespace, tgt.Pod, tgt.Port)
	e.bus.Publish(events.NewStarted(id, f.localPort))
	e.bus.Publish(events.NewConnected(id))

	go e.supervise(superCtx, f, conn)

	return session.StartResult{
		ForwardID:  id,
		LocalPort:  f.localPort,
		TargetPort: tgt.Port,
		PodName:    tgt.Pod,
		PodUID:     tgt.UID,
		Status:     session.StatusConnected,
	}, nil
}

// Stop tears the forward down and returns after its Stopped event has been
// published.
func (e *Engine) Stop(ctx context.Context, id string) error {
	e.mu.Lock()
	f, ok := e.forwards[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	f.cancel()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every forward.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.forwards))
	for id := range e.forwards {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := e.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the engine's forwards, oldest first.
func (e *Engine) List(ctx context.Context) ([]session.Session, error) {
	e.mu.Lock()
	out := make([]session.Session, 0, len(e.forwards))
	for _, f := range e.forwards {
		out = append(out, f.snapshot())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CheckPort reports whether port is free: not held by one of our forwards
// and bindable on the bind address.
func (e *Engine) CheckPort(ctx context.Context, port int) (bool, error) {
	if port < 1 || port > 65535 {
		return false, fmt.Errorf("invalid port %d", port)
	}

	e.mu.Lock()
	owner := e.portOwnerLocked(port)
	e.mu.Unlock()
	if owner != "" {
		logging.Debug("Tunnel", "Port %d is held by port forward %s", port, owner)
		return false, nil
	}

	return PortAvailable(ctx, e.opts.BindAddress, port)
}

// PortAvailable reports whether port can be bound on bindAddress right now.
func PortAvailable(ctx context.Context, bindAddress string, port int) (bool, error) {
	if port < 1 || port > 65535 {
		return false, fmt.Errorf("invalid port %d", port)
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
	if err != nil {
		logging.Debug("Tunnel", "Port %d is not available on %s: %v", port, bindAddress, err)
		return false, nil
	}
	_ = l.Close()
	return true, nil
}

func (e *Engine) portOwnerLocked(port int) string {
	for id, f := range e.forwards {
		if f.port() == port {
			return id
		}
	}
	return ""
}

func (e *Engine) openRequest(id, namespace string, t target, localPort int) OpenRequest {
	return OpenRequest{
		ForwardID:    id,
		Namespace:    namespace,
		Pod:          t.Pod,
		BindAddress:  e.opts.BindAddress,
		LocalPort:    localPort,
		RemotePort:   t.Port,
		ReadyTimeout: e.opts.ReadyTimeout,
	}
}
