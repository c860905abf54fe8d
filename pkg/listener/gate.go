package listener

import (
	"strings"
	"sync"
	"unicode"
)

// Decision explains why an utterance was or was not dispatched.
type Decision struct {
	Dispatch bool
	Hotword  bool
	Expected bool
}

// Gate decides whether an utterance is addressed to the assistant: it
// carries an activation phrase, or the previous answer was a question.
type Gate struct {
	phrases []string

	mu        sync.Mutex
	expecting bool
}

func NewGate(phrases []string) *Gate {
	g := &Gate{}
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			g.phrases = append(g.phrases, n)
		}
	}
	return g
}

// Expect arms the pending-answer flag when answer ends with a question mark.
func (g *Gate) Expect(answer string) {
	g.mu.Lock()
	g.expecting = strings.HasSuffix(strings.TrimSpace(answer), "?")
	g.mu.Unlock()
}

func (g *Gate) Expecting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expecting
}

// Evaluate decides on one utterance and consumes the pending-answer flag
// whatever the outcome.
func (g *Gate) Evaluate(text string) Decision {
	g.mu.Lock()
	expected := g.expecting
	g.expecting = false
	g.mu.Unlock()
	hot := g.HasActivation(text)
	return Decision{Dispatch: hot || expected, Hotword: hot, Expected: expected}
}

// HasActivation reports whether text contains an activation phrase,
// ignoring case and punctuation. Each phrase word must start a word of the
// utterance, in order, so "arturos" counts for "arturo" but "sarturo" does
// not.
func (g *Gate) HasActivation(text string) bool {
	words := strings.Fields(normalize(text))
	for _, p := range g.phrases {
		if containsPrefixRun(words, strings.Fields(p)) {
			return true
		}
	}
	return false
}

func containsPrefixRun(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, w := range phrase {
			if !strings.HasPrefix(words[i+j], w) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
