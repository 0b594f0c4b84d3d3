// Package langfilter detects the dominant language of record text and
// applies the configured allow-list.
package langfilter

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Unknown is returned when detection fails. Records with Unknown language are
// only kept when no allow-list is configured.
const Unknown = "unknown"

// Filter keeps records whose detected language is on an allow-list.
type Filter struct {
	allowed map[string]bool
}

// New returns a Filter for the given ISO 639-3 codes (e.g. "eng"). An empty
// list means no filtering.
func New(langs []string) *Filter {
	allowed := map[string]bool{}
	for _, l := range langs {
		allowed[strings.ToLower(l)] = true
	}
	return &Filter{allowed: allowed}
}

// Detect returns the ISO 639-3 code of the dominant language of text, or
// Unknown when the text is empty or undetectable.
func Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return Unknown
	}
	info := whatlanggo.Detect(text)
	code := whatlanggo.LangToString(info.Lang)
	if code == "" {
		return Unknown
	}
	return code
}

// Include reports whether a record with the given text passes the filter.
func (f *Filter) Include(text string) bool {
	if len(f.allowed) == 0 {
		return true
	}
	return f.allowed[Detect(text)]
}
