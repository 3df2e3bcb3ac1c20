// Package relevance scores candidate documents against a strategy's term set
// and selects the data-dependent shortlist cutoff.
package relevance

import (
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/joelkehle/novelty-engine/internal/strategy"
)

const (
	// TitleWeight is added once per term whose variant appears in the title.
	TitleWeight = 3
	// termCeiling is the per-term score used for normalization: the title
	// bonus plus one expected abstract occurrence. A document matching most
	// terms lands near but rarely above 100%.
	termCeiling = 4
)

// Result is the outcome of scoring one document.
type Result struct {
	TitleMatches    int      `json:"title_matches"`
	AbstractMatches int      `json:"abstract_matches"`
	TotalScore      int      `json:"total_score"`
	Percent         int      `json:"percent"`
	MatchedTerms    []string `json:"matched_terms"`
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func occurrencePattern(variant string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[variant]; ok {
		return re
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(variant))
	patternCache[variant] = re
	return re
}

// Score evaluates one document title/abstract pair against the term set.
// Each term counts at most once for the title bonus; abstract occurrences of
// every variant of a term accumulate one point each.
func Score(title, abstract string, ts strategy.TermSet) Result {
	res := Result{MatchedTerms: []string{}}
	if len(ts.Terms) == 0 {
		return res
	}
	lowerTitle := strings.ToLower(title)

	for _, term := range ts.Terms {
		matched := false
		titleHit := false
		for _, variant := range ts.Expand(term) {
			if variant == "" {
				continue
			}
			if !titleHit && strings.Contains(lowerTitle, strings.ToLower(variant)) {
				res.TitleMatches++
				res.TotalScore += TitleWeight
				titleHit = true
				matched = true
			}
			if abstract != "" {
				n := len(occurrencePattern(variant).FindAllStringIndex(abstract, -1))
				if n > 0 {
					res.AbstractMatches += n
					res.TotalScore += n
					matched = true
				}
			}
		}
		if matched {
			res.MatchedTerms = append(res.MatchedTerms, term)
		}
	}

	pct := math.Round(float64(res.TotalScore) / float64(len(ts.Terms)*termCeiling) * 100)
	if pct > 100 {
		pct = 100
	}
	res.Percent = int(pct)
	return res
}
