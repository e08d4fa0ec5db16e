// Package policy implements the content-policy gate: a synchronous keyword
// check applied before any outbound publish and before engaging with
// discovered content. A violation is a hard stop, never retried and never
// overridden.
package policy

import "strings"

// defaultLexicon covers the political, sensitive and spam terms the personas
// must never touch. Matching is case-insensitive substring.
var defaultLexicon = []string{
	"election",
	"vote for",
	"democrat",
	"republican",
	"politician",
	"abortion",
	"gun control",
	"conspiracy",
	"crypto giveaway",
	"click here",
	"free money",
	"onlyfans",
	"nsfw",
	"suicide",
	"self harm",
}

// Filter is a lexicon-based content checker.
type Filter struct {
	terms []string
}

// NewFilter builds a Filter from the default lexicon plus any extra terms.
func NewFilter(extra ...string) *Filter {
	terms := make([]string, 0, len(defaultLexicon)+len(extra))
	for _, t := range defaultLexicon {
		terms = append(terms, strings.ToLower(t))
	}
	for _, t := range extra {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return &Filter{terms: terms}
}

// IsViolating reports whether the text matches any lexicon term.
func (f *Filter) IsViolating(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range f.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
