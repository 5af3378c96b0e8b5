// Package redact masks sensitive text before it reaches logs.
package redact

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// PII masks e-mail addresses, card numbers and phone numbers. Memo titles
// and chat messages are user text and go through here before being logged.
func PII(input string) string {
	out := emailPattern.ReplaceAllString(input, "[REDACTED_EMAIL]")
	// Cards first, or the phone pattern claims them.
	out = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	return phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
}

// Secret removes every occurrence of secret from msg.
func Secret(msg, secret string) string {
	if secret == "" {
		return msg
	}
	return strings.ReplaceAll(msg, secret, "[REDACTED]")
}
