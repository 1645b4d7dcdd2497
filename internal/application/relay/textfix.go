package relay

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/ai"
)

var (
	leadingFence  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("(?i)\\s*```$")
)

// SelectText joins the non-thought text parts. When those are blank it falls
// back to every text part, thoughts included, rather than returning nothing.
func SelectText(parts []ai.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Text != "" && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(b.String()) != "" {
		return b.String()
	}

	b.Reset()
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// StripCodeFence removes a ```json ... ``` wrapper and surrounding space.
func StripCodeFence(text string) string {
	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// RepairJSON balances brackets and braces on text that is not valid JSON by
// appending the missing "]" and then the missing "}". Counts ignore string
// literals and ordering, so this only rescues output truncated after a
// complete value. When the result still does not parse, text is returned
// unchanged.
func RepairJSON(text string) string {
	if text == "" || json.Valid([]byte(text)) {
		return text
	}

	missingBrackets := strings.Count(text, "[") - strings.Count(text, "]")
	missingBraces := strings.Count(text, "{") - strings.Count(text, "}")
	if missingBrackets <= 0 && missingBraces <= 0 {
		return text
	}

	var b strings.Builder
	b.WriteString(text)
	for i := 0; i < missingBrackets; i++ {
		b.WriteByte(']')
	}
	for i := 0; i < missingBraces; i++ {
		b.WriteByte('}')
	}

	repaired := b.String()
	if !json.Valid([]byte(repaired)) {
		return text
	}
	return repaired
}
