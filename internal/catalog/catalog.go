// Package catalog selects the active character from the roster exposed by
// the remote service.
//
// Selection is by exact id when one is configured, with a fallback to the
// first roster entry. [Catalog.FindByName] additionally resolves free-form
// names (typed or transcribed) against the roster using Double Metaphone
// phonetic codes ranked by Jaro-Winkler similarity, so "selene" still finds
// "Selene" and "selena" does too.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/soulink-ai/soulink/pkg/chatwire"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// ErrEmptyRoster is returned when the service reports no characters at all.
var ErrEmptyRoster = errors.New("catalog: character roster is empty")

// ErrNoMatch is returned by [Catalog.FindByName] when no roster entry is
// close enough to the requested name.
var ErrNoMatch = errors.New("catalog: no character matches the given name")

// Lister fetches the character roster. Implemented by [chatwire.Client].
type Lister interface {
	Characters(ctx context.Context) ([]chatwire.Character, error)
}

// Option is a functional option for configuring a [Catalog].
type Option func(*Catalog)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Catalog) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Catalog) {
		c.fuzzyThreshold = threshold
	}
}

// Catalog resolves character selections against the remote roster. All
// methods are safe for concurrent use; the Catalog itself holds no roster
// state and queries the Lister on every call.
type Catalog struct {
	lister            Lister
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Catalog backed by the given roster source.
func New(lister Lister, opts ...Option) *Catalog {
	c := &Catalog{
		lister:            lister,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Select returns the character with the given id, or the first roster entry
// when id is empty or not present. An empty roster is an error.
func (c *Catalog) Select(ctx context.Context, id string) (*chatwire.Character, error) {
	roster, err := c.lister.Characters(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching roster: %w", err)
	}
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}
	if id != "" {
		for i := range roster {
			if roster[i].ID == id {
				return &roster[i], nil
			}
		}
	}
	first := roster[0]
	return &first, nil
}

// FindByName resolves a free-form name against the roster.
//
// Exact (case-insensitive) matches win immediately. Otherwise candidates
// whose Double Metaphone codes overlap with the input are ranked by
// Jaro-Winkler similarity against the phonetic threshold; if no candidate
// overlaps phonetically, a pure similarity pass runs against the stricter
// fuzzy threshold.
func (c *Catalog) FindByName(ctx context.Context, name string) (*chatwire.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoMatch
	}
	roster, err := c.lister.Characters(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching roster: %w", err)
	}
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}

	input := strings.ToLower(name)
	inputCodes := phoneticCodes(input)

	type candidate struct {
		idx      int
		score    float64
		phonetic bool
	}
	best := candidate{idx: -1}

	for i := range roster {
		entry := strings.ToLower(strings.TrimSpace(roster[i].Name))
		if entry == "" {
			continue
		}
		if entry == input {
			return &roster[i], nil
		}

		score := bestSimilarity(input, entry)
		phonetic := codesOverlap(inputCodes, phoneticCodes(entry))

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !best.phonetic || score > best.score {
				best = candidate{idx: i, score: score, phonetic: true}
			}
		case !phonetic && !best.phonetic:
			if score >= c.fuzzyThreshold && score > best.score {
				best = candidate{idx: i, score: score}
			}
		}
	}

	if best.idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, name)
	}
	return &roster[best.idx], nil
}

// phoneticCodes returns the union of Double Metaphone codes across the
// tokens of s. Tokens too short to encode contribute nothing.
func phoneticCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 4)
	for _, tok := range strings.Fields(s) {
		p, sec := matchr.DoubleMetaphone(tok)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the highest Jaro-Winkler score between the full
// strings, the space-stripped strings, and any token pair. Multi-word
// names ("Lady Selene") match on either word this way.
func bestSimilarity(input, entry string) float64 {
	score := matchr.JaroWinkler(input, entry, false)

	inputTokens := strings.Fields(input)
	entryTokens := strings.Fields(entry)
	if len(inputTokens) > 1 || len(entryTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(entryTokens, ""), false)
		if joined > score {
			score = joined
		}
	}
	for _, it := range inputTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(it, et, false); s > score {
				score = s
			}
		}
	}
	return score
}
