// Package sanitize cleans free-text edit instructions and flags dangerous intent.
package sanitize

import (
	"regexp"
	"strings"

	"siteeditor/api/internal/util"
)

// MaxInstructionLength is the rune limit applied to cleaned instructions.
const MaxInstructionLength = 500

// Result is the outcome of cleaning one instruction.
type Result struct {
	Cleaned string `json:"cleaned"`
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

var (
	fencedCodePattern  = regexp.MustCompile("(?s)```.*?(```|$)")
	scriptBlockPattern = regexp.MustCompile(`(?is)<\s*(script|style)\b.*?(<\s*/\s*(script|style)\s*>|$)`)
	tagPattern         = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

type dangerPattern struct {
	reason  string
	pattern *regexp.Regexp
}

// Order matters only for which reason is reported; any hit flags the instruction.
var dangerPatterns = []dangerPattern{
	{
		reason:  "full content deletion",
		pattern: regexp.MustCompile(`(?i)\b(delete|remove|erase|wipe|clear|destroy|empty)\b.{0,40}?\b(everything|all\s+(of\s+)?(the\s+)?(content|text|sections?|pages?|copy)|(the\s+)?(whole|entire)\s+(page|site|website|document|homepage))\b`),
	},
	{
		reason:  "script or markup injection",
		pattern: regexp.MustCompile(`(?i)<\s*/?\s*(script|style|object|embed|applet|meta|link)\b`),
	},
	{
		reason:  "event handler injection",
		pattern: regexp.MustCompile(`(?i)\bon(click|dblclick|load|unload|error|abort|mouse\w*|pointer\w*|key\w*|focus|blur|submit|change|input|toggle|animation\w*|transition\w*)\s*=`),
	},
	{
		reason:  "embedded frame",
		pattern: regexp.MustCompile(`(?i)(<\s*i?frame\b|\biframes?\b|\bframeset\b)`),
	},
	{
		reason:  "script uri",
		pattern: regexp.MustCompile(`(?i)(javascript\s*:|vbscript\s*:|data\s*:\s*text/html|\beval\s*\()`),
	},
}

// Instruction strips markup from raw and checks it against the dangerous-intent
// patterns. Both the raw and cleaned forms are checked so injected tags are still
// caught after they have been removed from the cleaned text.
func Instruction(raw string) Result {
	cleaned := fencedCodePattern.ReplaceAllString(raw, " ")
	cleaned = scriptBlockPattern.ReplaceAllString(cleaned, " ")
	cleaned = tagPattern.ReplaceAllString(cleaned, " ")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = truncateRunes(cleaned, MaxInstructionLength)

	result := Result{Cleaned: cleaned}
	for _, candidate := range []string{cleaned, raw} {
		if reason, ok := firstDanger(candidate); ok {
			result.Flagged = true
			result.Reason = reason
			break
		}
	}
	return result
}

func firstDanger(text string) (string, bool) {
	for _, dp := range dangerPatterns {
		if dp.pattern.MatchString(text) {
			return dp.reason, true
		}
	}
	return "", false
}

func truncateRunes(value string, limit int) string {
	if len([]rune(value)) <= limit {
		return value
	}
	return strings.TrimSpace(util.Truncate(value, limit))
}
