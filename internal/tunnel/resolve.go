package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pfctl/internal/session"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
)

// ErrNoReadyPod is returned when a target has no pod that can accept a forward.
var ErrNoReadyPod = errors.New("no ready pod")

// target is a resolved forward destination.
type target struct {
	Pod  string
	UID  string
	Port int
}

// resolveTarget maps a pod or service request onto a concrete pod and
// container port.
func resolveTarget(ctx context.Context, client kubernetes.Interface, req session.StartRequest) (target, error) {
	switch req.TargetType {
	case session.TargetPod:
		return resolvePod(ctx, client, req.Namespace, req.Name, req.TargetPort)
	case session.TargetService:
		return resolveService(ctx, client, req.Namespace, req.Name, req.TargetPort)
	default:
		return target{}, fmt.Errorf("unsupported target type %q", req.TargetType)
	}
}

func resolvePod(ctx context.Context, client kubernetes.Interface, namespace, name string, port int) (target, error) {
	pod, err := client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return target{}, fmt.Errorf("pod %s/%s not found: %w", namespace, name, ErrNoReadyPod)
		}
		return target{}, fmt.Errorf("failed to get pod %s/%s: %w", namespace, name, err)
	}
	if !isPodRunning(pod) {
		return target{}, fmt.Errorf("pod %s/%s is not running (phase %s): %w", namespace, name, pod.Status.Phase, ErrNoReadyPod)
	}
	return target{Pod: pod.Name, UID: string(pod.UID), Port: port}, nil
}

// resolveService picks a ready pod behind the service and translates the
// service port into the container port. Terminating pods are never chosen.
func resolveService(ctx context.Context, client kubernetes.Interface, namespace, name string, port int) (target, error) {
	svc, err := client.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return target{}, fmt.Errorf("failed to get service %s/%s: %w", namespace, name, err)
	}

	svcPort, err := findServicePort(svc, port)
	if err != nil {
		return target{}, err
	}

	if len(svc.Spec.Selector) == 0 {
		return target{}, fmt.Errorf("service %s/%s has no selector, cannot find backing pods", namespace, name)
	}
	selector := labels.SelectorFromSet(svc.Spec.Selector)
	podList, err := client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return target{}, fmt.Errorf("failed to list pods for service %s/%s: %w", namespace, name, err)
	}

	pods := podList.Items
	sort.Slice(pods, func(i, j int) bool { return pods[i].Name < pods[j].Name })
	for i := range pods {
		pod := &pods[i]
		if !isPodReady(pod) {
			continue
		}
		containerPort, err := containerPortFor(pod, svcPort)
		if err != nil {
			return target{}, fmt.Errorf("service %s/%s: %w", namespace, name, err)
		}
		return target{Pod: pod.Name, UID: string(pod.UID), Port: containerPort}, nil
	}
	return target{}, fmt.Errorf("service %s/%s (selector %s): %w", namespace, name, selector.String(), ErrNoReadyPod)
}

// findServicePort returns the service port exposed as port, falling back to
// one whose numeric targetPort equals port.
func findServicePort(svc *corev1.Service, port int) (corev1.ServicePort, error) {
	for _, p := range svc.Spec.Ports {
		if int(p.Port) == port {
			return p, nil
		}
	}
	for _, p := range svc.Spec.Ports {
		if p.TargetPort.Type == intstr.Int && int(p.TargetPort.IntVal) == port {
			return p, nil
		}
	}
	return corev1.ServicePort{}, fmt.Errorf("service %s/%s does not expose port %d", svc.Namespace, svc.Name, port)
}

// containerPortFor translates a service port's targetPort for pod. Named
// target ports are looked up in the pod's container ports.
func containerPortFor(pod *corev1.Pod, sp corev1.ServicePort) (int, error) {
	switch sp.TargetPort.Type {
	case intstr.String:
		name := sp.TargetPort.StrVal
		for _, c := range pod.Spec.Containers {
			for _, cp := range c.Ports {
				if cp.Name == name {
					return int(cp.ContainerPort), nil
				}
			}
		}
		return 0, fmt.Errorf("pod %s has no container port named %q", pod.Name, name)
	default:
		if sp.TargetPort.IntVal == 0 {
			// An unset targetPort defaults to the service port.
			return int(sp.Port), nil
		}
		return int(sp.TargetPort.IntVal), nil
	}
}

func isPodRunning(pod *corev1.Pod) bool {
	return pod.DeletionTimestamp == nil && pod.Status.Phase == corev1.PodRunning
}

// isPodReady reports whether pod is running, not terminating and passes its
// readiness checks.
func isPodReady(pod *corev1.Pod) bool {
	if !isPodRunning(pod) {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
