// Package tarot holds the card vocabulary, spread catalogue, and the pure
// structural metrics computed over generated narratives. Nothing in this
// package performs I/O or model calls; everything is deterministic and cheap
// enough for the synchronous response path.
package tarot

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed deck.yaml
var deckYAML []byte

// Alias is an alternate printed name for a card in some deck tradition.
type Alias struct {
	Text string `yaml:"text"`
	// Ambiguous aliases collide with ordinary prose words ("art", "lust");
	// they count toward coverage but are excluded from hallucination scans.
	Ambiguous bool `yaml:"ambiguous"`
}

// Card is one entry in the deck vocabulary.
type Card struct {
	Name      string  `yaml:"name"`
	Arcana    string  `yaml:"arcana"`
	Ambiguous bool    `yaml:"ambiguous"`
	Aliases   []Alias `yaml:"aliases"`
}

type deckFile struct {
	Cards []Card `yaml:"cards"`
}

// matcher is a precompiled word-boundary pattern for one name or alias.
type matcher struct {
	card      string // canonical card name
	pattern   *regexp.Regexp
	ambiguous bool
}

// Vocabulary is the full card vocabulary with precompiled matchers.
type Vocabulary struct {
	cards    map[string]Card // canonical name (lowercased) -> card
	matchers []matcher
}

var (
	vocabOnce sync.Once
	vocab     *Vocabulary
	vocabErr  error
)

// DefaultVocabulary returns the embedded Rider-Waite vocabulary, parsed once.
func DefaultVocabulary() (*Vocabulary, error) {
	vocabOnce.Do(func() {
		vocab, vocabErr = loadVocabulary(deckYAML)
	})
	return vocab, vocabErr
}

func loadVocabulary(data []byte) (*Vocabulary, error) {
	var file deckFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse deck vocabulary: %w", err)
	}
	if len(file.Cards) == 0 {
		return nil, fmt.Errorf("deck vocabulary is empty")
	}

	v := &Vocabulary{cards: make(map[string]Card, len(file.Cards))}
	for _, card := range file.Cards {
		key := strings.ToLower(card.Name)
		if _, dup := v.cards[key]; dup {
			return nil, fmt.Errorf("duplicate card %q", card.Name)
		}
		v.cards[key] = card

		v.matchers = append(v.matchers, matcher{
			card:      card.Name,
			pattern:   wordPattern(card.Name),
			ambiguous: card.Ambiguous,
		})
		for _, alias := range card.Aliases {
			v.matchers = append(v.matchers, matcher{
				card:      card.Name,
				pattern:   wordPattern(alias.Text),
				ambiguous: alias.Ambiguous,
			})
		}
	}
	return v, nil
}

// wordPattern compiles a case-insensitive whole-phrase matcher.
func wordPattern(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
}

// Canonical resolves a card name (any known alias, any case) to its
// canonical form. The second return is false if the name is unknown.
func (v *Vocabulary) Canonical(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if card, ok := v.cards[lower]; ok {
		return card.Name, true
	}
	for _, card := range v.cards {
		for _, alias := range card.Aliases {
			if strings.EqualFold(alias.Text, lower) {
				return card.Name, true
			}
		}
	}
	return "", false
}

// Size returns the number of cards in the vocabulary.
func (v *Vocabulary) Size() int {
	return len(v.cards)
}

// mentions returns the canonical names of all cards referenced in text.
// With strict set, ambiguous names and aliases are skipped; the
// hallucination scan uses strict matching so that narratives using "death"
// or "justice" as ordinary words are not flagged.
func (v *Vocabulary) mentions(text string, strict bool) map[string]bool {
	found := make(map[string]bool)
	for _, m := range v.matchers {
		if strict && m.ambiguous {
			continue
		}
		if found[m.card] {
			continue
		}
		if m.pattern.MatchString(text) {
			found[m.card] = true
		}
	}
	return found
}
