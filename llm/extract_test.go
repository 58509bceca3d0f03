package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string // if non-empty, check this key exists in parsed JSON
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"tccs": []}`,
			wantKey: "tccs",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"tccs\": []}\n```",
			wantKey: "tccs",
		},
		{
			name:    "prose before and after",
			input:   "Sure, here is the result:\n```json\n{\"a\":1}\n```\nHope this helps!",
			wantKey: "a",
		},
		{
			name:    "second object ignored",
			input:   `{"first": 1} {"second": 2}`,
			wantKey: "first",
		},
		{
			name:    "braces inside string values",
			input:   `{"note": "a { stray } brace", "ok": true}`,
			wantKey: "note",
		},
		{
			name:    "escaped quote inside string",
			input:   `{"note": "she said \"go\"", "ok": true}`,
			wantKey: "note",
		},
		{
			name:    "nested objects",
			input:   `{"rankings": {"a_line": {"tcc_id": "TCC_01"}}}`,
			wantKey: "rankings",
		},
		{
			name:    "JS comments in values",
			input:   "```json\n{\n  \"evidence_scenes\": [\n    \"S01\",          // opening\n    \"S04\"           // confrontation\n  ]\n}\n```",
			wantKey: "evidence_scenes",
		},
		{
			name:    "JS comments and trailing commas",
			input:   "```json\n{\n  \"items\": [\n    \"one\",  // first\n    \"two\",  // second\n  ]\n}\n```",
			wantKey: "items",
		},
		{
			name:    "URL in string not stripped",
			input:   `{"url": "http://example.com/path"}`,
			wantKey: "url",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "This is just text with no JSON.",
			wantErr: true,
		},
		{
			name:    "unbalanced braces",
			input:   `{"open": {"never": "closed"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExtractJSON(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got result: %s", result)
				}
				if !errors.Is(err, ErrNoJSON) {
					t.Errorf("error should wrap ErrNoJSON, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Verify it's valid JSON
			var parsed map[string]any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("result is not valid JSON: %v\nresult: %s", err, result)
			}

			if tt.wantKey != "" {
				if _, ok := parsed[tt.wantKey]; !ok {
					t.Errorf("expected key %q in parsed JSON, got keys: %v", tt.wantKey, keysOf(parsed))
				}
			}
		})
	}
}

// Extraction is idempotent: running it over its own output returns the
// same region unchanged.
func TestExtractJSONIdempotent(t *testing.T) {
	inputs := []string{
		`{"tccs": [{"tcc_id": "TCC_01"}]}`,
		"Intro text\n```json\n{\"a\": {\"b\": [1, 2,]}}\n```\nOutro",
		"{\n  \"items\": [\n    \"one\",  // comment\n  ]\n}",
	}
	for _, input := range inputs {
		first, err := ExtractJSON(input)
		if err != nil {
			t.Fatalf("first pass failed for %q: %v", input, err)
		}
		second, err := ExtractJSON(first)
		if err != nil {
			t.Fatalf("second pass failed for %q: %v", first, err)
		}
		if first != second {
			t.Errorf("extraction not idempotent:\nfirst:  %s\nsecond: %s", first, second)
		}
	}
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no comment",
			input:    `  "key": "value",`,
			expected: `  "key": "value",`,
		},
		{
			name:     "trailing comment",
			input:    `  "key": "value",  // a comment`,
			expected: `  "key": "value",`,
		},
		{
			name:     "URL in string preserved",
			input:    `  "url": "http://example.com",`,
			expected: `  "url": "http://example.com",`,
		},
		{
			name:     "URL with trailing comment",
			input:    `  "url": "http://example.com",  // the url`,
			expected: `  "url": "http://example.com",`,
		},
		{
			name:     "whole line comment",
			input:    `  // This is a comment`,
			expected: ``,
		},
		{
			name:     "escaped quote in string",
			input:    `  "path": "a\"b//c",  // comment`,
			expected: `  "path": "a\"b//c",`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripLineComment(tt.input)
			if got != tt.expected {
				t.Errorf("stripLineComment(%q)\ngot:  %q\nwant: %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "trailing comma in array",
			input: `{"items": ["one", "two",]}`,
		},
		{
			name:  "trailing comma in object",
			input: `{"a": 1, "b": 2,}`,
		},
		{
			name:  "comments and trailing commas",
			input: "{\n  \"items\": [\n    \"one\",  // first\n    \"two\",  // second\n  ]\n}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cleanJSON(tt.input)

			var parsed any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("cleaned JSON is invalid: %v\nresult: %s", err, result)
			}
		})
	}
}

// Comma-then-brace sequences inside string values are data, not syntax:
// they must survive cleaning while real trailing commas are still removed.
func TestStripTrailingCommasRespectsStrings(t *testing.T) {
	input := `{"note": "she paused, }", "aside": "a, ] b", "items": [1, 2,],}`

	result := cleanJSON(input)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("cleaned JSON is invalid: %v\nresult: %s", err, result)
	}
	if got := parsed["note"]; got != "she paused, }" {
		t.Errorf("note value rewritten: got %q", got)
	}
	if got := parsed["aside"]; got != "a, ] b" {
		t.Errorf("aside value rewritten: got %q", got)
	}
	items, ok := parsed["items"].([]any)
	if !ok || len(items) != 2 {
		t.Errorf("expected 2 items after trailing comma removal, got %v", parsed["items"])
	}
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
