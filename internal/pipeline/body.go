package pipeline

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// parseBody decodes a buffered request body into the document shape the
// rest of the pipeline operates on: always a JSON object at the root, with
// events reachable (directly or nested) for platform/website extraction.
//
// Form-encoded bodies are Amplitude's legacy wire format: the event batch
// travels JSON-encoded inside a single "e" form field, alongside a plain
// "api_key" field.
func parseBody(contentType string, body []byte) (map[string]any, error) {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		var events any
		if e := values.Get("e"); e != "" {
			if err := json.Unmarshal([]byte(e), &events); err != nil {
				return nil, err
			}
		}
		return map[string]any{"events": events, "api_key": values.Get("api_key")}, nil
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}
	switch d := decoded.(type) {
	case map[string]any:
		return d, nil
	case []any:
		return map[string]any{"events": d}, nil
	default:
		return nil, fmt.Errorf("top-level JSON value must be an object or array")
	}
}

// firstPlatform returns the "platform" field of the first event in root's
// events array that has a non-empty one.
func firstPlatform(root map[string]any) (string, bool) {
	events, _ := root["events"].([]any)
	for _, e := range events {
		event, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := event["platform"].(string); ok && p != "" {
			return p, true
		}
	}
	return "", false
}

// firstWebsite returns the website hostname from a Umami event payload,
// checked at the document root and under "payload" (Umami's event shape is
// {"type": "event", "payload": {"website": ..., "hostname": ..., ...}}).
func firstWebsite(root map[string]any) (string, bool) {
	if w, ok := root["website"].(string); ok && w != "" {
		return w, true
	}
	payload, ok := root["payload"].(map[string]any)
	if !ok {
		return "", false
	}
	if w, ok := payload["website"].(string); ok && w != "" {
		return w, true
	}
	if h, ok := payload["hostname"].(string); ok && h != "" {
		return h, true
	}
	return "", false
}
