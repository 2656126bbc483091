package moderation

import (
	"regexp"
	"strings"
)

// DefaultAllowList holds the words the operator lets through even though the
// upstream scorer flags them.
var DefaultAllowList = []string{"fuck", "shit", "bitch"}

// Redactor strips allow-listed words, and any word they prefix, from text
// before it is scored.
type Redactor struct {
	patterns []*regexp.Regexp
}

func NewRedactor(allow []string) *Redactor {
	r := &Redactor{}
	for _, w := range allow {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		r.patterns = append(r.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\w*\b`))
	}
	return r
}

// Redact returns message with allow-listed words removed and outer
// whitespace trimmed.
func (r *Redactor) Redact(message string) string {
	for _, p := range r.patterns {
		message = p.ReplaceAllString(message, "")
	}
	return strings.TrimSpace(message)
}

// Redact is a convenience for one-off calls.
func Redact(message string, allow []string) string {
	return NewRedactor(allow).Redact(message)
}
