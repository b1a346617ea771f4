package validate

import "testing"

func TestValidateTruncatesOverlongString(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "a"
	}
	doc := map[string]any{"bio": long}
	out, violations := Validate(doc)
	result := out.(map[string]any)
	bio := result["bio"].(string)
	if len(bio) != MaxFieldLength {
		t.Fatalf("expected length %d, got %d", MaxFieldLength, len(bio))
	}
	if bio[keepLength:] != TruncationMarker {
		t.Errorf("expected suffix %q, got %q", TruncationMarker, bio[keepLength:])
	}
	if len(violations) != 1 || violations[0].Path != "bio" || violations[0].Length != 600 {
		t.Errorf("unexpected violations: %+v", violations)
	}
}

func TestValidateLeavesShortStringsUntouched(t *testing.T) {
	doc := map[string]any{"name": "short"}
	out, violations := Validate(doc)
	result := out.(map[string]any)
	if result["name"] != "short" {
		t.Errorf("expected unchanged, got %v", result["name"])
	}
	if len(violations) != 0 {
		t.Errorf("expected no violations, got %+v", violations)
	}
}

func TestValidateNestedPathFormat(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "b"
	}
	doc := map[string]any{
		"payload": map[string]any{
			"events": []any{
				map[string]any{
					"event_properties": map[string]any{
						"description": long,
					},
				},
			},
		},
	}
	_, violations := Validate(doc)
	if len(violations) != 1 {
		t.Fatalf("expected one violation, got %d", len(violations))
	}
	want := "payload.events[0].event_properties.description"
	if violations[0].Path != want {
		t.Errorf("expected path %q, got %q", want, violations[0].Path)
	}
}

func TestValidateIdempotent(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "c"
	}
	doc := map[string]any{"bio": long}
	once, _ := Validate(doc)
	twice, violations2 := Validate(once)
	onceBio := once.(map[string]any)["bio"]
	twiceBio := twice.(map[string]any)["bio"]
	if onceBio != twiceBio {
		t.Errorf("expected idempotent truncation, once=%v twice=%v", onceBio, twiceBio)
	}
	if len(violations2) != 0 {
		t.Errorf("expected no violations on second pass, got %+v", violations2)
	}
}
