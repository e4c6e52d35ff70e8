package inference

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExtractJSON extracts JSON content from a response, handling markdown code
// blocks. It strips a leading/trailing fence with an optional language tag,
// or returns the input if it already looks like raw JSON. Returns "" when no
// JSON candidate is found.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	// Try to extract from markdown code block with json language tag
	jsonBlockRe := regexp.MustCompile("(?s)```json\\s*\\n?(.*?)\\s*```")
	if matches := jsonBlockRe.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	// Try to extract from generic markdown code block
	genericBlockRe := regexp.MustCompile("(?s)```\\s*\\n?(.*?)\\s*```")
	if matches := genericBlockRe.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	// Check if the string itself looks like JSON (starts with { or [)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}

	return ""
}

// DecodeStrict extracts the JSON payload from response and unmarshals it into
// v. Unparsable responses return an error wrapping ErrSchemaValidation so
// callers can drop the unit of work without retrying.
func DecodeStrict(response string, v any) error {
	jsonStr := ExtractJSON(response)
	if jsonStr == "" {
		return fmt.Errorf("%w: no JSON found in response", ErrSchemaValidation)
	}

	dec := json.NewDecoder(strings.NewReader(jsonStr))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}

	return nil
}
