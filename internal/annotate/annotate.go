// Package annotate implements the Annotator: four non-failing mutations
// that attach proxy identification, location, and app/ingress attribution
// to an analytics event document.
//
// Location and app-info annotation share a reachability rule: walk every
// array and object in the document, and whenever an object has a child
// value under the key "event_properties" that is itself an object, write
// the annotation fields into that child. If the document has no such
// structure, nothing is written — annotation never fails.
package annotate

import "github.com/nais/umami-proxy/internal/ingresscache"

// WithProxyVersion sets the top-level "proxyVersion" key to v.
func WithProxyVersion(doc map[string]any, v string) {
	doc["proxyVersion"] = v
}

// WithProd sets the top-level "api_key" key to the configured production key.
func WithProd(doc map[string]any, apiKey string) {
	doc["api_key"] = apiKey
}

// WithLocation sets "[Amplitude] City" and "[Amplitude] Country" on every
// reachable event_properties object.
func WithLocation(v any, city, country string) {
	forEachEventProperties(v, func(props map[string]any) {
		props["[Amplitude] City"] = city
		props["[Amplitude] Country"] = country
	})
}

// WithAppInfo sets "team", "ingress", "app", "hostname" on every reachable
// event_properties object.
func WithAppInfo(v any, info ingresscache.AppInfo, host string) {
	forEachEventProperties(v, func(props map[string]any) {
		props["team"] = info.Namespace
		props["ingress"] = info.Ingress
		props["app"] = info.App
		props["hostname"] = host
	})
}

// forEachEventProperties walks v (arrays and objects) and invokes fn on
// every object found directly under a key named "event_properties" that is
// itself an object.
func forEachEventProperties(v any, fn func(map[string]any)) {
	switch val := v.(type) {
	case []any:
		for _, elem := range val {
			forEachEventProperties(elem, fn)
		}
	case map[string]any:
		if props, ok := val["event_properties"].(map[string]any); ok {
			fn(props)
		}
		for _, child := range val {
			switch child.(type) {
			case []any, map[string]any:
				forEachEventProperties(child, fn)
			}
		}
	}
}
