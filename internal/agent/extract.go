package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks model output the controller could not turn into
// function calls. The turn retry loop keys off this.
var ErrMalformed = errors.New("agent: malformed model output")

const thinkClose = "</think>"

// FunctionCall is one {name, arguments} pair extracted from model output.
// Arguments stays raw until the catalog binds it to a typed action payload.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type functionList struct {
	Functions []FunctionCall `json:"functions"`
}

// ExtractFunctions pulls the function-call list out of free-form model text.
//
// Models wrap the structured part in prose, markdown fences, or a reasoning
// block, so this is structural, not positional: everything through a
// "</think>" marker is discarded, then the first balanced {...} fragment that decodes
// to an object with a "functions" list wins. Running the result back through
// extraction yields the same calls.
func ExtractFunctions(raw string) ([]FunctionCall, error) {
	text := raw
	if i := strings.Index(text, thinkClose); i >= 0 {
		text = text[i+len(thinkClose):]
	}

	for start := 0; start < len(text); {
		open := strings.IndexByte(text[start:], '{')
		if open < 0 {
			break
		}
		open += start

		fragment, ok := balancedObject(text[open:])
		if !ok {
			start = open + 1
			continue
		}

		var parsed functionList
		if err := json.Unmarshal([]byte(fragment), &parsed); err != nil || parsed.Functions == nil {
			start = open + 1
			continue
		}
		return normalize(parsed.Functions)
	}
	return nil, fmt.Errorf("%w: no object with a functions list", ErrMalformed)
}

// balancedObject returns the shortest balanced {...} prefix of s, tracking
// string literals so braces inside content don't break the count.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// normalize validates each call. do_nothing may arrive without arguments and
// gets an empty object; any other call missing arguments is malformed.
func normalize(calls []FunctionCall) ([]FunctionCall, error) {
	out := make([]FunctionCall, 0, len(calls))
	for _, call := range calls {
		if call.Name == "" {
			return nil, fmt.Errorf("%w: function entry missing name", ErrMalformed)
		}
		if len(call.Arguments) == 0 || string(call.Arguments) == "null" {
			if call.Name != FuncDoNothing {
				return nil, fmt.Errorf("%w: %s missing arguments", ErrMalformed, call.Name)
			}
			call.Arguments = json.RawMessage("{}")
		}
		out = append(out, call)
	}
	return out, nil
}
