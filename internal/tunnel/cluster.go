package tunnel

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // auth provider plugins for kubeconfig users
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Cluster is an authenticated connection to one kubeconfig context.
type Cluster struct {
	Context    string
	Client     kubernetes.Interface
	RESTConfig *rest.Config
}

// requestTimeout bounds single API calls; port-forward streams are not affected.
const requestTimeout = 30 * time.Second

// LoadCluster builds a client for kubeContext using the default kubeconfig
// loading rules. An empty context selects the kubeconfig's current context.
func LoadCluster(kubeContext string) (*Cluster, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get REST config for context %q: %w", kubeContext, err)
	}

	name := kubeContext
	if name == "" {
		raw, err := kubeConfig.RawConfig()
		if err == nil {
			name = raw.CurrentContext
		}
	}

	// The forwarder shares this config; the timeout only applies to the
	// clientset built from a copy.
	apiConfig := rest.CopyConfig(restConfig)
	apiConfig.Timeout = requestTimeout
	clientset, err := kubernetes.NewForConfig(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	return &Cluster{Context: name, Client: clientset, RESTConfig: restConfig}, nil
}
