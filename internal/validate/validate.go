// Package validate implements the Field-Length Validator: every string leaf
// in a decoded JSON document is checked against a fixed per-field ceiling,
// truncated if it exceeds that ceiling, and reported as a violation.
package validate

import (
	"fmt"
	"strings"
)

// MaxFieldLength is the per-string ceiling, in bytes. Overlong strings are
// truncated to MaxFieldLength total length, with TruncationMarker as the
// final suffix.
const MaxFieldLength = 500

// TruncationMarker is appended to the first keepLength bytes of an overlong
// string so that truncation is visible on the wire.
const TruncationMarker = "TRUNCATED"

var keepLength = MaxFieldLength - len(TruncationMarker)

// Violation records one string whose original length exceeded
// MaxFieldLength, identified by its dotted/bracketed path within the
// document (e.g. "payload.events[0].event_properties.description").
type Violation struct {
	Path   string
	Length int
}

// Validate returns a copy of v with every overlong string truncated, plus
// the list of violations found. v is not mutated.
func Validate(v any) (any, []Violation) {
	return traverse(v, "")
}

func traverse(v any, path string) (any, []Violation) {
	switch val := v.(type) {
	case string:
		if len(val) <= MaxFieldLength {
			return val, nil
		}
		truncated := val[:keepLength] + TruncationMarker
		return truncated, []Violation{{Path: path, Length: len(val)}}
	case []any:
		out := make([]any, len(val))
		var violations []Violation
		for i, elem := range val {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			result, v2 := traverse(elem, childPath)
			out[i] = result
			violations = append(violations, v2...)
		}
		return out, violations
	case map[string]any:
		out := make(map[string]any, len(val))
		var violations []Violation
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			result, v2 := traverse(child, childPath)
			out[k] = result
			violations = append(violations, v2...)
		}
		return out, violations
	default:
		return v, nil
	}
}

// FormatViolations renders violations as a single human-readable summary
// line for the JSON error body written back to the client.
func FormatViolations(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = fmt.Sprintf("%s (%d chars)", v.Path, v.Length)
	}
	return strings.Join(parts, ", ")
}
