package aidirector

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONResponse extracts the outermost brace-delimited object from a
// model response, ignoring any prose or code fences around it.
func ParseJSONResponse(text string) (map[string]any, error) {
	var out map[string]any
	if err := ParseJSONInto(text, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseJSONInto is ParseJSONResponse decoding into v.
func ParseJSONInto(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ErrNoJSONFound
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrParseJSON, err)
	}
	return nil
}
