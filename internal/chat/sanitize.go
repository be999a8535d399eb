package chat

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer turns raw client text into the text that gets stored. It must be
// a pure function; the pipeline treats its output as authoritative and
// rejects the send when nothing survives.
type Sanitizer func(string) string

// NewStrictSanitizer strips every HTML tag and attribute, keeping only text
// content, then trims surrounding whitespace.
func NewStrictSanitizer() Sanitizer {
	policy := bluemonday.StrictPolicy()
	return func(raw string) string {
		return strings.TrimSpace(policy.Sanitize(raw))
	}
}
