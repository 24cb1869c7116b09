package llm

import (
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// CleanJSON strips markdown code fences, surrounding chatter and trailing
// commas that models tend to add around a JSON object.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	if start, end := strings.IndexAny(s, "{["), strings.LastIndexAny(s, "}]"); start > 0 && end > start {
		s = s[start : end+1]
	}

	return trailingComma.ReplaceAllString(s, "$1")
}
