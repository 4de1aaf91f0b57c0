package perception

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrEmptyCompletion signals a blank model response.
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrMissingJSON signals a response with no JSON object to extract.
	ErrMissingJSON = errors.New("no JSON object found in completion")
)

// DecodePayload digs the first complete JSON object out of raw completion
// text and unmarshals it into v. The object may be wrapped in a fenced code
// block or surrounded by prose; both are stripped before parsing. Unknown
// fields are tolerated: agents only read what they validate.
func DecodePayload(raw string, v any) error {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return err
	}
	return nil
}

// ExtractJSON returns the first balanced JSON object in raw, looking inside
// a fenced code block first if one is present.
func ExtractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyCompletion
	}

	candidate := trimmed
	if strings.HasPrefix(trimmed, "```") {
		start := strings.Index(trimmed, "```")
		if start != -1 {
			end := strings.Index(trimmed[start+3:], "```")
			if end != -1 {
				content := trimmed[start+3 : start+3+end]
				// Drop the language tag line ("json", "javascript", ...).
				if idx := strings.Index(content, "\n"); idx != -1 {
					content = content[idx+1:]
				}
				candidate = strings.TrimSpace(content)
			}
		}
	}

	if payload, ok := findJSONObject(candidate); ok {
		return payload, nil
	}
	if payload, ok := findJSONObject(trimmed); ok {
		return payload, nil
	}
	return "", ErrMissingJSON
}

// findJSONObject scans input for the first balanced top-level {...},
// respecting string literals and escapes.
func findJSONObject(input string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
			continue
		}
		if ch == '}' {
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return input[start : i+1], true
			}
		}
	}
	return "", false
}
