package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/avandelay-labs/refinery/internal/domain"
)

var errNoJSONObject = errors.New("no balanced JSON object found in response")

// decodeOutput extracts and decodes the contract-shaped JSON from a raw
// model response. For structured-object the whole response must be JSON;
// for structured-text the first balanced object embedded in prose is used.
func decodeOutput(format domain.SerializationFormat, content string) (json.RawMessage, any, error) {
	var raw string
	switch format {
	case domain.FormatStructuredObject:
		raw = strings.TrimSpace(stripCodeFence(content))
	case domain.FormatStructuredText:
		extracted, err := firstBalancedObject(content)
		if err != nil {
			return nil, nil, err
		}
		raw = extracted
	default:
		return nil, nil, fmt.Errorf("unknown serialization format %q", format)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return json.RawMessage(raw), value, nil
}

// stripCodeFence removes a surrounding markdown fence when the model wraps
// its JSON despite instructions. Anything else passes through untouched.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return trimmed
}

// firstBalancedObject scans for the first top-level {...} in the text,
// tracking string literals and escapes so braces inside values don't
// unbalance the count.
func firstBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoJSONObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errNoJSONObject
}

// validate checks the decoded value against the compiled schema, returning
// a single-line violation message suitable for correction hints.
func validate(schema *jsonschema.Schema, value any) error {
	if err := schema.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("schema violation: %s", flattenValidation(ve))
		}
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}

// flattenValidation renders the leaf causes of a validation error on one
// line. The full error tree is too verbose to feed back to a model.
func flattenValidation(ve *jsonschema.ValidationError) string {
	leaves := leafCauses(ve)
	parts := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", loc, leaf.Message))
	}
	return strings.Join(parts, "; ")
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var leaves []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		leaves = append(leaves, leafCauses(cause)...)
	}
	return leaves
}
