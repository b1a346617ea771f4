package ingresscache

import "time"

// AppInfo is the attribution record produced for one Kubernetes Ingress
// resource: which application and team own it, and when it was created.
// One record exists per ingress host observed by the watcher.
type AppInfo struct {
	App               string
	Namespace         string
	Ingress           string
	CreationTimestamp time.Time
}
