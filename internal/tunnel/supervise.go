package tunnel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pfctl/internal/events"
	"pfctl/internal/session"
	"pfctl/pkg/logging"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
)

// supervise keeps f alive until ctx is cancelled. It is the only publisher
// of f's events after Start returns, and always ends with Stopped.
func (e *Engine) supervise(ctx context.Context, f *forward, conn Conn) {
	subsystem := "Tunnel-" + f.id
	defer func() {
		if conn != nil {
			conn.Close()
		}
		e.mu.Lock()
		delete(e.forwards, f.id)
		e.mu.Unlock()
		logging.Info(subsystem, "Port forward stopped")
		e.bus.Publish(events.NewStopped(f.id))
		close(f.done)
	}()

	for {
		reason := e.waitForFailure(ctx, f, conn)
		if ctx.Err() != nil {
			return
		}
		conn.Close()
		conn = nil

		oldPod := f.pod()
		logging.Warn(subsystem, "Port forward interrupted: %s", reason)
		f.setStatus(session.StatusReconnecting)
		e.bus.Publish(events.NewReconnecting(f.id, reason))

		next, tgt, err := e.rebind(ctx, f)
		if next != nil {
			conn = next
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrNoReadyPod) {
				logging.Warn(subsystem, "No replacement for pod %s: %v", oldPod, err)
				f.setStatus(session.StatusDisconnected)
				e.bus.Publish(events.NewPodDied(f.id, oldPod))
			} else {
				logging.Error(subsystem, err, "Giving up reconnecting")
				f.setStatus(session.StatusError)
				e.bus.Publish(events.NewError(f.id, err.Error()))
			}
			// The forward stays listed until it is stopped.
			<-ctx.Done()
			return
		}

		f.rebound(tgt)
		logging.Info(subsystem, "Reconnected to pod %s on local port %d", tgt.Pod, conn.LocalPort())
		e.bus.Publish(events.NewReconnected(f.id, tgt.Pod))
		e.bus.Publish(events.NewConnected(f.id))
	}
}

// waitForFailure blocks until the tunnel ends or its pod goes away and
// returns a short reason. It returns "" when ctx is cancelled.
func (e *Engine) waitForFailure(ctx context.Context, f *forward, conn Conn) string {
	subsystem := "Tunnel-" + f.id
	pod := f.pod()
	pods := e.client.CoreV1().Pods(f.req.Namespace)

	for {
		w, err := pods.Watch(ctx, metav1.ListOptions{
			FieldSelector: fields.OneTermEqualSelector("metadata.name", pod).String(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ""
			}
			logging.Warn(subsystem, "Failed to watch pod %s, only tunnel errors will trigger a reconnect: %v", pod, err)
			select {
			case <-ctx.Done():
				return ""
			case err := <-conn.Done():
				return tunnelLossReason(err)
			}
		}

		// A pod deleted before the watch was established produces no event.
		if _, err := pods.Get(ctx, pod, metav1.GetOptions{}); apierrors.IsNotFound(err) {
			w.Stop()
			return fmt.Sprintf("pod %s deleted", pod)
		}

		reason, expired := watchPod(ctx, w, pod, conn)
		w.Stop()
		if !expired {
			return reason
		}
		logging.Debug(subsystem, "Watch on pod %s expired, re-establishing", pod)
	}
}

// watchPod consumes w until something ends the forward. expired is set when
// the watch channel closes first.
func watchPod(ctx context.Context, w watch.Interface, pod string, conn Conn) (reason string, expired bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case err := <-conn.Done():
			return tunnelLossReason(err), false
		case ev, ok := <-w.ResultChan():
			if !ok {
				return "", true
			}
			p, isPod := ev.Object.(*corev1.Pod)
			if !isPod || p.Name != pod {
				continue
			}
			switch ev.Type {
			case watch.Deleted:
				return fmt.Sprintf("pod %s deleted", pod), false
			case watch.Added, watch.Modified:
				if p.DeletionTimestamp != nil {
					return fmt.Sprintf("pod %s terminating", pod), false
				}
				if p.Status.Phase == corev1.PodFailed || p.Status.Phase == corev1.PodSucceeded {
					return fmt.Sprintf("pod %s %s", pod, strings.ToLower(string(p.Status.Phase))), false
				}
			}
		}
	}
}

func tunnelLossReason(err error) string {
	if err == nil {
		err = ErrTunnelClosed
	}
	return "tunnel lost: " + err.Error()
}

// rebind finds a pod for f again and reopens the tunnel on f's local port,
// retrying with the engine's backoff. The last attempt's error is returned
// when every attempt fails.
func (e *Engine) rebind(ctx context.Context, f *forward) (Conn, target, error) {
	subsystem := "Tunnel-" + f.id
	var (
		conn    Conn
		tgt     target
		lastErr error
		attempt int
	)

	err := wait.ExponentialBackoffWithContext(ctx, e.opts.Reconnect, func(ctx context.Context) (bool, error) {
		attempt++
		t, err := resolveTarget(ctx, e.client, f.req)
		if err != nil {
			lastErr = err
			logging.Debug(subsystem, "Reconnect attempt %d/%d: %v", attempt, e.opts.Reconnect.Steps, err)
			return false, nil
		}
		c, err := e.opener.Open(ctx, e.openRequest(f.id, f.req.Namespace, t, f.port()))
		if err != nil {
			lastErr = err
			logging.Debug(subsystem, "Reconnect attempt %d/%d: %v", attempt, e.opts.Reconnect.Steps, err)
			return false, nil
		}
		conn, tgt = c, t
		return true, nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, target{}, lastErr
	}
	return conn, tgt, nil
}
