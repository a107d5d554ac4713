package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LooseYAML attempts to parse YAML content, stripping Markdown code
// fences when present, and returns the canonical JSON encoding of the
// parsed value. Returns false when the content is not valid YAML.
func LooseYAML(raw string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	if v, ok := tryYAML(trimmed); ok {
		return v, true
	}

	extracted := stripBacktickFences(raw)
	if v, ok := tryYAML(strings.TrimSpace(extracted)); ok {
		return v, true
	}

	return nil, false
}

func tryYAML(s string) (json.RawMessage, bool) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	// A bare scalar string is valid YAML but never a valid typed
	// response; treat it as a parse failure so retries kick in.
	if _, isScalar := v.(string); isScalar {
		return nil, false
	}
	normalized, err := yamlToJSONValue(v)
	if err != nil {
		return nil, false
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return nil, false
	}
	return canonical, true
}

// yamlToJSONValue rewrites YAML-decoded values into JSON-encodable
// ones: map keys become strings and timestamps become RFC 3339 strings.
func yamlToJSONValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			conv, err := yamlToJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			conv, err := yamlToJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprintf("%v", k)] = conv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			conv, err := yamlToJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	default:
		return v, nil
	}
}
