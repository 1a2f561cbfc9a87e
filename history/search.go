package history

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseQuery converts user input into FTS5 syntax
// Supports: "phrase search", you:term, ai:term
func ParseQuery(input string) string {
	var parts []string

	// Normalize spaces
	input = strings.TrimSpace(input)

	// This is a naive parser. For robust handling, we'd need a lexer.
	// We'll process space-separated tokens, respecting quotes.

	// Regex to split by space but keep quotes
	re := regexp.MustCompile(`[^\s"']+|"([^"]*)"|'([^']*)'`)
	tokens := re.FindAllString(input, -1)

	for _, token := range tokens {
		// Handle quotes
		if strings.HasPrefix(token, "\"") || strings.HasPrefix(token, "'") {
			// Pass through exact phrases
			parts = append(parts, token)
			continue
		}

		// Field filters: you:/query: hit the submitted query column,
		// ai:/answer: the backend's answer column.
		lower := strings.ToLower(token)
		if strings.HasPrefix(lower, "you:") || strings.HasPrefix(lower, "query:") {
			idx := strings.Index(token, ":")
			term := token[idx+1:]
			if term != "" {
				parts = append(parts, fmt.Sprintf("query:%s", term))
			}
		} else if strings.HasPrefix(lower, "ai:") || strings.HasPrefix(lower, "answer:") {
			idx := strings.Index(token, ":")
			term := token[idx+1:]
			if term != "" {
				parts = append(parts, fmt.Sprintf("answer:%s", term))
			}
		} else {
			// Standard match
			// Add * for prefix matching if it's a word
			if len(token) > 3 && regexp.MustCompile(`^[a-zA-Z0-9]+$`).MatchString(token) {
				parts = append(parts, token+"*")
			} else {
				parts = append(parts, token)
			}
		}
	}

	if len(parts) == 0 {
		return ""
	}

	return strings.Join(parts, " AND ")
}
