package workflow

import (
	"strings"

	"echoflow/pkg/transcript"
)

// ProductInfo is the finalized product description produced at chat-stage
// completion. Immutable thereafter.
type ProductInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	TargetMarket string   `json:"targetMarket"`
	Features     []string `json:"features"`
}

// extractProductInfo derives the finalized ProductInfo from the user's
// answers in question order: the first answer names and describes the
// product, the second gives the target market, and the remaining answers
// contribute the feature list.
func extractProductInfo(userMessages []transcript.Message) ProductInfo {
	answers := make([]string, 0, len(userMessages))
	for i := range userMessages {
		if text := strings.TrimSpace(userMessages[i].Content); text != "" {
			answers = append(answers, text)
		}
	}

	info := ProductInfo{}
	if len(answers) > 0 {
		info.Name = firstLine(answers[0])
		info.Description = answers[0]
	}
	if len(answers) > 1 {
		info.TargetMarket = answers[1]
	}
	if len(answers) > 2 {
		for _, answer := range answers[2:] {
			info.Features = append(info.Features, splitItems(answer)...)
		}
	}

	// A product with no enumerable features still has its description.
	if len(info.Features) == 0 && info.Description != "" {
		info.Features = []string{info.Description}
	}

	return info
}

// firstLine returns the first non-empty line of text, trimmed.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(text)
}

// splitItems breaks an answer into list items on newlines, commas, and
// semicolons, dropping empties.
func splitItems(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	})

	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
