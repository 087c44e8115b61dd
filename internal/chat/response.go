package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.Join(lines[1:endIdx], "\n")
}

// extractObject returns the outermost {...} span of text.
func extractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("no closing } found")
	}
	return text[start : end+1], nil
}

// parseJSON decodes a model response into T. Schema-constrained responses
// are bare JSON, but fenced or prose-wrapped output is tolerated.
func parseJSON[T any](raw string) (T, error) {
	var result T
	jsonStr, err := extractObject(stripMarkdownFences(raw))
	if err != nil {
		return result, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("invalid JSON: %w (text: %s)", err, truncate(jsonStr, 200))
	}
	return result, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
