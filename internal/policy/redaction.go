package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern   = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern    = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	profilePattern = regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?(?:linkedin\.com/in|github\.com)/[A-Za-z0-9_\-]+/?`)
)

// RedactPII masks common high-risk PII patterns found in resumes and answers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	next = profilePattern.ReplaceAllString(out, "[REDACTED_PROFILE]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// LogPreview redacts text and clips it to maxRunes for log fields.
func LogPreview(text string, maxRunes int) string {
	out, _ := RedactPII(strings.Join(strings.Fields(text), " "))
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	r := []rune(out)
	return string(r[:maxRunes]) + "…"
}
