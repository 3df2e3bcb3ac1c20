package strategy

import (
	"sort"
	"strings"
)

// TermSet is the flat search vocabulary derived from a strategy: lower-cased
// canonical terms plus a synonym expansion map keyed by canonical term.
type TermSet struct {
	Terms    []string
	Synonyms map[string][]string
}

// ExtractTerms derives the scoring vocabulary from a strategy. Core concepts
// and technical features contribute whole terms; phrases contribute their
// individual words longer than two characters; each synonym group contributes
// its canonical term mapped to the remaining members.
func ExtractTerms(s SearchStrategy) TermSet {
	seen := map[string]struct{}{}
	add := func(raw string) {
		t := strings.ToLower(strings.TrimSpace(raw))
		if t == "" {
			return
		}
		seen[t] = struct{}{}
	}

	for _, c := range s.CoreConcepts {
		add(c)
	}
	for _, f := range s.TechnicalFeatures {
		add(f)
	}
	for _, p := range s.Phrases {
		for _, w := range strings.Fields(p) {
			w = strings.Trim(w, ".,;:()[]\"'")
			if len(w) > 2 {
				add(w)
			}
		}
	}

	synonyms := map[string][]string{}
	for canonical, members := range s.SynonymGroups {
		key := strings.ToLower(strings.TrimSpace(canonical))
		if key == "" {
			continue
		}
		seen[key] = struct{}{}
		expanded := make([]string, 0, len(members))
		for _, m := range members {
			m = strings.ToLower(strings.TrimSpace(m))
			if m == "" || m == key {
				continue
			}
			expanded = append(expanded, m)
		}
		if len(expanded) > 0 {
			synonyms[key] = expanded
		}
	}

	terms := make([]string, 0, len(seen))
	for t := range seen {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return TermSet{Terms: terms, Synonyms: synonyms}
}

// Expand returns the term itself followed by its synonyms.
func (ts TermSet) Expand(term string) []string {
	out := []string{term}
	return append(out, ts.Synonyms[term]...)
}
