package agent

import (
	"encoding/json"
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
			input:   `{"clear": true}`,
			wantKey: "clear",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"clear\": false, \"questions\": [\"Which database?\"]}\n```",
			wantKey: "questions",
		},
		{
			name:    "block with trailing prose",
			input:   "```json\n{\"approach\": \"add endpoint\"}\n```\n\nLet me know if you want changes.",
			wantKey: "approach",
		},
		{
			name:    "JS comments and trailing commas",
			input:   "{\n  \"files\": [\n    \"api/routes.go\",  // handler wiring\n    \"api/handlers.go\",\n  ]\n}",
			wantKey: "files",
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
			input:   "I need more information before I can plan this.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				if result != "" {
					t.Errorf("expected empty result, got: %s", result)
				}
				return
			}

			if result == "" {
				t.Fatal("expected JSON result, got empty string")
			}

			var parsed map[string]any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("result is not valid JSON: %v\n%s", err, result)
			}

			if tt.wantKey != "" {
				if _, ok := parsed[tt.wantKey]; !ok {
					t.Errorf("expected key %q in parsed JSON", tt.wantKey)
				}
			}
		})
	}
}
