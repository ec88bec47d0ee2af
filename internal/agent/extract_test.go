package agent

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtractFunctions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []FunctionCall
	}{
		{
			name:  "bare object",
			input: `{"reason": "saw a good post", "functions": [{"name": "like_post", "arguments": {"post_id": 7}}]}`,
			want:  []FunctionCall{{Name: "like_post", Arguments: json.RawMessage(`{"post_id": 7}`)}},
		},
		{
			name:  "prose wrapped",
			input: "Sure! Here is my choice:\n```json\n{\"functions\": [{\"name\": \"create_post\", \"arguments\": {\"content\": \"hello\"}}]}\n```\nHope that helps.",
			want:  []FunctionCall{{Name: "create_post", Arguments: json.RawMessage(`{"content": "hello"}`)}},
		},
		{
			name:  "reasoning block then do_nothing without arguments",
			input: "<reasoning about {braces} and \"quotes\"></think>\n{\"functions\": [{\"name\": \"do_nothing\"}]}",
			want:  []FunctionCall{{Name: "do_nothing", Arguments: json.RawMessage(`{}`)}},
		},
		{
			name:  "braces inside string content",
			input: `{"functions": [{"name": "create_post", "arguments": {"content": "set {a: 1} }}{"}}]}`,
			want:  []FunctionCall{{Name: "create_post", Arguments: json.RawMessage(`{"content": "set {a: 1} }}{"}`)}},
		},
		{
			name:  "junk object before the real one",
			input: `{"mood": "curious"} then {"functions": [{"name": "follow", "arguments": {"followee_id": 3}}]}`,
			want:  []FunctionCall{{Name: "follow", Arguments: json.RawMessage(`{"followee_id": 3}`)}},
		},
		{
			name:  "multiple calls preserve order",
			input: `{"functions": [{"name": "like_post", "arguments": {"post_id": 1}}, {"name": "do_nothing", "arguments": {}}]}`,
			want: []FunctionCall{
				{Name: "like_post", Arguments: json.RawMessage(`{"post_id": 1}`)},
				{Name: "do_nothing", Arguments: json.RawMessage(`{}`)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractFunctions(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			assertCallsEqual(t, got, tt.want)
		})
	}
}

func TestExtractFunctionsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"prose only", "I would rather not say."},
		{"object without functions", `{"reason": "thinking"}`},
		{"unbalanced object", `{"functions": [{"name": "like_post"`},
		{"functions not a list", `{"functions": "like_post"}`},
		{"missing arguments on dispatching call", `{"functions": [{"name": "like_post"}]}`},
		{"entry without name", `{"functions": [{"arguments": {}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ExtractFunctions(tt.input); !errors.Is(err, ErrMalformed) {
				t.Fatalf("got %v, want ErrMalformed", err)
			}
		})
	}
}

// Extraction over an already-clean document returns the same calls.
func TestExtractFunctionsIdempotent(t *testing.T) {
	input := `noise before {"functions": [{"name": "create_comment", "arguments": {"post_id": 2, "content": "nice"}}, {"name": "do_nothing"}]} noise after`

	first, err := ExtractFunctions(input)
	if err != nil {
		t.Fatal(err)
	}
	clean, err := json.Marshal(functionList{Functions: first})
	if err != nil {
		t.Fatal(err)
	}
	second, err := ExtractFunctions(string(clean))
	if err != nil {
		t.Fatal(err)
	}
	assertCallsEqual(t, second, first)
}

func assertCallsEqual(t *testing.T, got, want []FunctionCall) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d calls, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name {
			t.Errorf("call %d: name %q, want %q", i, got[i].Name, want[i].Name)
		}
		var g, w any
		if err := json.Unmarshal(got[i].Arguments, &g); err != nil {
			t.Fatalf("call %d: bad got arguments: %v", i, err)
		}
		if err := json.Unmarshal(want[i].Arguments, &w); err != nil {
			t.Fatalf("call %d: bad want arguments: %v", i, err)
		}
		gj, _ := json.Marshal(g)
		wj, _ := json.Marshal(w)
		if string(gj) != string(wj) {
			t.Errorf("call %d: arguments %s, want %s", i, gj, wj)
		}
	}
}
