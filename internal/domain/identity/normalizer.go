package identity

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalizer canonicalizes lookup keys so lookups are case-insensitive.
type Normalizer interface {
	Normalize(s string) string
}

// UpperInvariantNormalizer upper-cases with language-independent Unicode rules.
type UpperInvariantNormalizer struct{}

// Normalize implements Normalizer. Empty input stays empty so it is never indexed.
func (UpperInvariantNormalizer) Normalize(s string) string {
	if s == "" {
		return ""
	}
	// A Caser keeps state, so one is built per call.
	return cases.Upper(language.Und).String(s)
}
