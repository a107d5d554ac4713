package llm

import (
	"encoding/json"
	"strings"

	"github.com/BurntSushi/toml"
)

// LooseTOML attempts to parse TOML content, stripping Markdown code
// fences first when present. Basic multiline strings (""") are converted
// to literal ones (''') before the fenced attempt, since models often
// emit markdown-heavy values that break basic-string escaping. The
// result is the canonical JSON encoding of the parsed table. Returns
// false when neither strategy parses; unmatched fences do not parse.
func LooseTOML(raw string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}"), true
	}

	if v, ok := tryTOML(trimmed); ok {
		return v, true
	}

	extracted := stripBacktickFences(raw)
	preprocessed := strings.ReplaceAll(extracted, `"""`, "'''")
	if v, ok := tryTOML(strings.TrimSpace(preprocessed)); ok {
		return v, true
	}

	return nil, false
}

func tryTOML(s string) (json.RawMessage, bool) {
	var table map[string]any
	if err := toml.Unmarshal([]byte(s), &table); err != nil {
		return nil, false
	}
	canonical, err := json.Marshal(table)
	if err != nil {
		return nil, false
	}
	return canonical, true
}

// stripBacktickFences removes a matched triple- or single-backtick
// wrapper. A letters-or-digits-only language tag on the first fenced
// line is skipped. Unmatched fences leave the content untouched so the
// subsequent parse fails rather than silently eating a delimiter.
func stripBacktickFences(content string) string {
	if strings.HasPrefix(content, "```") && strings.HasSuffix(content, "```") && len(content) >= 6 {
		inner := content[3 : len(content)-3]
		inner = strings.TrimPrefix(inner, "\n")
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
			if isAlphanumeric(inner[:nl]) {
				inner = inner[nl+1:]
			}
		}
		inner = strings.TrimSuffix(inner, "\n")
		return inner
	}

	if strings.HasPrefix(content, "`") && strings.HasSuffix(content, "`") && len(content) >= 2 {
		return content[1 : len(content)-1]
	}

	return content
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}
