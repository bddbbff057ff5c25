package generation

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// DefaultBlockedTerms trip the high-fidelity provider's safety filter.
var DefaultBlockedTerms = []string{
	"fighting", "fight", "blood", "gore", "violence", "kill", "death", "dead",
	"corpse", "weapon", "gun", "sword", "attack", "battle", "war",
}

const replacementTerm = "action"

// Sanitizer replaces whole-word blocked terms, keeping the leading case.
type Sanitizer struct {
	re *regexp.Regexp
}

func NewSanitizer(terms []string) *Sanitizer {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	if len(quoted) == 0 {
		return &Sanitizer{}
	}
	slices.SortFunc(quoted, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	return &Sanitizer{re: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)}
}

func (s *Sanitizer) Sanitize(prompt string) string {
	if s == nil || s.re == nil {
		return prompt
	}
	return s.re.ReplaceAllStringFunc(prompt, func(match string) string {
		if r := []rune(match); len(r) > 0 && unicode.IsUpper(r[0]) {
			return "Action"
		}
		return replacementTerm
	})
}
