// Package redact implements the JSON Redactor: a recursive traversal of a
// decoded JSON document that applies the PII scanner to string leaves and a
// fixed set of key-name rules to object fields.
//
// Traversal carries two pieces of state down the tree: a depth counter
// (starting at 0 for the document root) and the parent key of the current
// value, but only when that value is a string — containers are always
// visited with no parent key, since the url/referrer exception applies to
// scalar fields, not nested objects.
package redact

import "github.com/nais/umami-proxy/internal/privacy"

// advertisingIDKeys is wiped to a fixed marker rather than content-scanned;
// these values are opaque identifiers, not freeform text.
var advertisingIDKeys = map[string]bool{
	"idfa":           true,
	"idfv":           true,
	"adid":           true,
	"gaid":           true,
	"android_id":     true,
	"aaid":           true,
	"msai":           true,
	"advertising_id": true,
}

// passthroughKeys bypass content scanning entirely.
var passthroughKeys = map[string]bool{
	"api_key":   true,
	"device_id": true,
	"website":   true,
}

const genericLabel = "[" + privacy.LabelGeneric + "]"

// Redact returns a redacted copy of a decoded JSON value (the output of
// encoding/json.Unmarshal into `any`). The input is not mutated.
func Redact(v any) any {
	return redactValue(v, "", 0)
}

func redactValue(v any, parentKey string, depth int) any {
	switch val := v.(type) {
	case string:
		if depth == 2 && (parentKey == "url" || parentKey == "referrer") {
			return privacy.ScanURL(val)
		}
		return privacy.ScanPlain(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = redactValue(elem, "", depth+1)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			switch {
			case passthroughKeys[k]:
				out[k] = child
			case k == "ip":
				out[k] = "$remote"
			case advertisingIDKeys[k]:
				out[k] = genericLabel
			case k == "ip_address":
				// dropped entirely
			default:
				childKey := ""
				if _, isString := child.(string); isString {
					childKey = k
				}
				out[k] = redactValue(child, childKey, depth+1)
			}
		}
		return out
	default:
		// number, bool, nil pass through unchanged
		return v
	}
}
