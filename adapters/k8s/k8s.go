// Package k8s adapts k8s.io/client-go into a substrate.HostProvider,
// generalizing the teacher's components/kubernetes Job-dispatch Terminus:
// instead of launching one Job per outgoing payload, it lists the Pods
// behind a label selector and hands their addresses to the scheduler as
// remote worker hosts, reusing the teacher's in-cluster/kubeconfig client
// construction.
package k8s

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	// enabling gcp auth
	_ "k8s.io/client-go/plugin/pkg/client/auth/gcp"

	"github.com/whitaker-io/substrate"
)

type hostProvider struct {
	clientset     *kubernetes.Clientset
	namespace     string
	labelSelector string
	port          string
}

// NewHostProvider builds a substrate.HostProvider that lists every Ready
// Pod matching labelSelector in namespace and reports its Pod IP (plus
// port) as a HostSpec, re-resolved on every call to Hosts so the scheduler
// sees pods as they come and go.
func NewHostProvider(v *viper.Viper) substrate.HostProvider {
	return &hostProvider{
		clientset:     client(v.GetBool("in_cluster")),
		namespace:     v.GetString("namespace"),
		labelSelector: v.GetString("label_selector"),
		port:          v.GetString("port"),
	}
}

func (h *hostProvider) Hosts(ctx context.Context) ([]substrate.HostSpec, error) {
	pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: h.labelSelector,
	})
	if err != nil {
		return nil, err
	}

	specs := make([]substrate.HostSpec, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if !podReady(&pod) || pod.Status.PodIP == "" {
			continue
		}
		addr := pod.Status.PodIP
		if h.port != "" {
			addr += ":" + h.port
		}
		specs = append(specs, substrate.HostSpec{Address: addr, Weight: 1})
	}
	return specs, nil
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

func client(inCluster bool) *kubernetes.Clientset {
	if inCluster {
		config, err := rest.InClusterConfig()
		if err != nil {
			panic(err.Error())
		}
		clientset, err := kubernetes.NewForConfig(config)
		if err != nil {
			panic(err.Error())
		}
		return clientset
	}

	var kubeconfig *string
	if home := homeDir(); home != "" {
		kubeconfig = flag.String("kubeconfig", filepath.Join(home, ".kube", "config"), "(optional) absolute path to the kubeconfig file")
	} else {
		kubeconfig = flag.String("kubeconfig", "", "absolute path to the kubeconfig file")
	}
	flag.Parse()

	config, err := clientcmd.BuildConfigFromFlags("", *kubeconfig)
	if err != nil {
		panic(err.Error())
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		panic(err.Error())
	}

	return clientset
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}
