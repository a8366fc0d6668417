package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// PlainTextSanitizer strips every tag from user supplied text. Script and style bodies are dropped
// with their tags.
type PlainTextSanitizer struct {
	policy *bluemonday.Policy
}

// NewPlainTextSanitizer returns a sanitizer backed by bluemonday's strict policy.
func NewPlainTextSanitizer() *PlainTextSanitizer {
	return &PlainTextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize removes markup, decodes the entities the policy escaped and collapses whitespace.
func (s *PlainTextSanitizer) Sanitize(value string) string {
	if s == nil || s.policy == nil {
		return CollapseWhitespace(value)
	}
	if !strings.ContainsAny(value, "<>&") {
		return CollapseWhitespace(value)
	}
	return CollapseWhitespace(html.UnescapeString(s.policy.Sanitize(value)))
}

// CollapseWhitespace trims the value and folds runs of whitespace into single spaces.
func CollapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
