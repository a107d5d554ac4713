package llm

import (
	"encoding/json"
	"strings"
)

// LooseJSON attempts to parse a string as a JSON value using several
// heuristics: direct parse, isolating the outermost structure, escaping
// control characters inside string literals, and global newline
// rewrites. It exists because LLM output is frequently JSON embedded in
// prose or JSON with unescaped newlines inside long string values.
// Returns false when no strategy yields valid JSON.
func LooseJSON(raw string) (json.RawMessage, bool) {
	if v, ok := tryJSON(raw); ok {
		return v, true
	}

	content := outermostStructure(raw)

	// Escape newlines, carriage returns and tabs only within string
	// literals. This is the most common breakage in model output.
	if v, ok := tryJSON(escapeControlCharsInStrings(content)); ok {
		return v, true
	}

	// Long markdown-ish strings blur the string boundaries; try the
	// aggressive global escape early for those.
	if hasLongFormattedStrings(content) {
		if v, ok := tryJSON(globalEscape(content)); ok {
			return v, true
		}
	}

	// Replace newlines with spaces globally. Lossy for string content
	// but fixes structural breakage outside strings.
	flattened := strings.NewReplacer("\n", " ", "\r", " ").Replace(content)
	if v, ok := tryJSON(flattened); ok {
		return v, true
	}

	if v, ok := tryJSON(escapeControlCharsInStrings(flattened)); ok {
		return v, true
	}

	// Last resort: global escape without the heuristic gate.
	if v, ok := tryJSON(globalEscape(content)); ok {
		return v, true
	}

	return nil, false
}

func tryJSON(s string) (json.RawMessage, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return canonical, true
}

func globalEscape(s string) string {
	return strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(s)
}

// outermostStructure slices from the earliest opening brace/bracket to
// the latest closing one, dropping any surrounding prose.
func outermostStructure(content string) string {
	firstBrace := strings.IndexByte(content, '{')
	firstBracket := strings.IndexByte(content, '[')
	lastBrace := strings.LastIndexByte(content, '}')
	lastBracket := strings.LastIndexByte(content, ']')

	var start, end int
	switch {
	case firstBrace >= 0 && firstBracket >= 0 && lastBrace >= 0 && lastBracket >= 0:
		start = min(firstBrace, firstBracket)
		end = max(lastBrace, lastBracket) + 1
	case firstBrace >= 0 && lastBrace >= 0 && firstBracket < 0:
		start, end = firstBrace, lastBrace+1
	case firstBracket >= 0 && lastBracket >= 0 && firstBrace < 0:
		start, end = firstBracket, lastBracket+1
	default:
		return content
	}
	if start >= end {
		return content
	}
	return content[start:end]
}

// hasLongFormattedStrings detects markdown-like content in JSON string
// values, which tends to break string boundaries.
func hasLongFormattedStrings(content string) bool {
	return strings.Contains(content, "### ") ||
		strings.Contains(content, "**") ||
		strings.Contains(content, "\n\n-") ||
		strings.Contains(content, "\n\n*") ||
		strings.Count(content, "\n") > 50
}

// escapeControlCharsInStrings escapes newlines, carriage returns and
// tabs that appear inside JSON string literals, leaving structural
// whitespace untouched.
func escapeControlCharsInStrings(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + len(s)/10)
	inString := false
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && inString:
			sb.WriteRune('\\')
			if i+1 < len(runes) {
				switch runes[i+1] {
				case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
					i++
					sb.WriteRune(runes[i])
				}
			}
		case r == '"':
			// A quote preceded by an even number of backslashes
			// toggles string state.
			backslashes := 0
			for j := i - 1; j >= 0 && runes[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				inString = !inString
			}
			sb.WriteRune('"')
		case r == '\n' && inString:
			sb.WriteString(`\n`)
		case r == '\r' && inString:
			sb.WriteString(`\r`)
		case r == '\t' && inString:
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
