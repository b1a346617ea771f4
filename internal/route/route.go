// Package route implements the Route Classifier: a pure function mapping a
// request path prefix to a target upstream variant.
package route

import "strings"

// Kind discriminates the upstream variant a request is classified into.
type Kind int

const (
	Umami Kind = iota
	Amplitude
	AmplitudeCollect
	Unexpected
)

func (k Kind) String() string {
	switch k {
	case Umami:
		return "umami"
	case Amplitude:
		return "amplitude"
	case AmplitudeCollect:
		return "amplitude_collect"
	default:
		return "unexpected"
	}
}

// Route is the classification result: which upstream variant, and the raw
// request path that produced it.
type Route struct {
	Kind Kind
	Path string
}

// Classify maps a request path to a Route. Matching is a prefix test on the
// raw path string; no normalization is performed. Anything not matching a
// known prefix classifies as Unexpected — the stricter of the two
// historically-considered catch-all behaviors, rejected later in
// upstream-peer selection rather than silently forwarded to Amplitude.
func Classify(path string) Route {
	switch {
	case strings.HasPrefix(path, "/umami"):
		return Route{Kind: Umami, Path: path}
	case strings.HasPrefix(path, "/collect"):
		return Route{Kind: AmplitudeCollect, Path: path}
	case strings.HasPrefix(path, "/amplitude"):
		return Route{Kind: Amplitude, Path: path}
	default:
		return Route{Kind: Unexpected, Path: path}
	}
}
