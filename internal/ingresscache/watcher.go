package ingresscache

import (
	"context"
	"os"
	"path/filepath"

	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"
)

// labelSelector requires both "app" and "team" labels to be present,
// regardless of value — matching the original watcher's attribution
// precondition: an ingress with no app/team labels can never be resolved to
// an AppInfo anyway.
const labelSelector = "app,team"

// loadKubeConfig tries in-cluster config first, falling back to the local
// kubeconfig file for out-of-cluster runs (development, tests against a
// kind/minikube cluster).
func loadKubeConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// RunWatcher lists all Ingress resources cluster-wide once, inserting each
// into c, then runs a watch stream for the process lifetime, inserting
// every Added/Modified ingress as it arrives. It blocks until ctx is
// cancelled. The initial list is delivered as a sequence of Add events by
// the underlying informer, so list-then-watch is a single continuous
// sequence rather than two separate phases.
func RunWatcher(ctx context.Context, c *Cache) error {
	cfg, err := loadKubeConfig()
	if err != nil {
		return err
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return err
	}

	lw := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			options.LabelSelector = labelSelector
			return clientset.NetworkingV1().Ingresses(metav1.NamespaceAll).List(ctx, options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			options.LabelSelector = labelSelector
			return clientset.NetworkingV1().Ingresses(metav1.NamespaceAll).Watch(ctx, options)
		},
	}

	informer := cache.NewSharedInformer(lw, &networkingv1.Ingress{}, 0)
	_, err = informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) { c.upsertIngress(obj) },
		UpdateFunc: func(_, newObj any) {
			c.upsertIngress(newObj)
		},
	})
	if err != nil {
		return err
	}

	informer.Run(ctx.Done())
	return nil
}

func (c *Cache) upsertIngress(obj any) {
	ing, ok := obj.(*networkingv1.Ingress)
	if !ok {
		return
	}
	info, host, ok := ingressToAppInfo(ing)
	if !ok {
		return
	}
	c.Insert(host, info)
}

// ingressToAppInfo extracts an AppInfo from an Ingress resource. An ingress
// is skipped — no host means no attribution is ever possible — unless it
// carries an "app" label, a namespace, and at least one rule with a
// non-empty host.
func ingressToAppInfo(ing *networkingv1.Ingress) (AppInfo, string, bool) {
	app, ok := ing.Labels["app"]
	if !ok || app == "" {
		return AppInfo{}, "", false
	}
	if ing.Namespace == "" {
		return AppInfo{}, "", false
	}
	host := ""
	for _, rule := range ing.Spec.Rules {
		if rule.Host != "" {
			host = rule.Host
			break
		}
	}
	if host == "" {
		return AppInfo{}, "", false
	}
	return AppInfo{
		App:               app,
		Namespace:         ing.Namespace,
		Ingress:           host,
		CreationTimestamp: ing.CreationTimestamp.Time,
	}, host, true
}
