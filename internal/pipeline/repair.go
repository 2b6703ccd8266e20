package pipeline

import (
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// RepairJSON massages near-JSON model output into something parseable:
// markdown code fences are stripped, text outside the outermost object is
// discarded, trailing commas are removed, and unclosed braces are balanced.
// It never guarantees valid JSON; the caller still validates the parse.
func RepairJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Keep from the first { through the last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	} else if start >= 0 {
		text = text[start:]
	}
	text = strings.TrimSpace(text)

	text = trailingComma.ReplaceAllString(text, "$1")

	// Balance braces, ignoring ones inside string literals.
	depth := 0
	inString := false
	escaped := false
	for _, r := range text {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case !inString && r == '{':
			depth++
		case !inString && r == '}':
			depth--
		}
	}
	if inString {
		text += `"`
	}
	for ; depth > 0; depth-- {
		text += "}"
	}
	return text
}
