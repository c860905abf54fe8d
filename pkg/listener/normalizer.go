package listener

import (
	"regexp"
	"sort"
	"strings"
)

// Normalizer rewrites phrases the recognizer habitually gets wrong, such as
// a misheard assistant name. Matching is case-insensitive on whole words.
type Normalizer struct {
	rules []replacement
}

type replacement struct {
	re *regexp.Regexp
	to string
}

// NewNormalizer compiles replacements. Longer phrases are applied first so
// "hey artur" wins over "artur".
func NewNormalizer(replacements map[string]string) *Normalizer {
	froms := make([]string, 0, len(replacements))
	for from := range replacements {
		if strings.TrimSpace(from) != "" {
			froms = append(froms, from)
		}
	}
	sort.Slice(froms, func(i, j int) bool {
		if len(froms[i]) != len(froms[j]) {
			return len(froms[i]) > len(froms[j])
		}
		return froms[i] < froms[j]
	})
	n := &Normalizer{}
	for _, from := range froms {
		pattern := `(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(from)) + `\b`
		n.rules = append(n.rules, replacement{re: regexp.MustCompile(pattern), to: replacements[from]})
	}
	return n
}

// Apply returns text with every replacement applied.
func (n *Normalizer) Apply(text string) string {
	if n == nil {
		return text
	}
	for _, r := range n.rules {
		text = r.re.ReplaceAllLiteralString(text, r.to)
	}
	return text
}
