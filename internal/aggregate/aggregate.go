// Package aggregate merges the raw results of all (variant × source)
// executions into one deduplicated candidate set per run, classifies
// cross-variant intersection, and selects the shortlist that feeds novelty
// assessment.
package aggregate

import (
	"sort"

	"github.com/joelkehle/novelty-engine/internal/relevance"
	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/strategy"
)

type IntersectionType string

const (
	IntersectionNone IntersectionType = "NONE"
	IntersectionI2   IntersectionType = "I2"
	IntersectionI3   IntersectionType = "I3"
)

// ClassifyIntersection is a pure function of the variant-label set size.
func ClassifyIntersection(variantCount int) IntersectionType {
	switch variantCount {
	case 3:
		return IntersectionI3
	case 2:
		return IntersectionI2
	default:
		return IntersectionNone
	}
}

// UnifiedCandidate is the per-run, per-identifier aggregate. One row per
// distinct identifier per run; upserted as results arrive.
type UnifiedCandidate struct {
	RunID           string                         `json:"run_id"`
	Identifier      string                         `json:"identifier"`
	ContentType     search.ContentType             `json:"content_type"`
	Title           string                         `json:"title"`
	Abstract        string                         `json:"abstract"`
	VariantLabels   []strategy.VariantLabel        `json:"variant_labels"`
	VariantPercents map[strategy.VariantLabel]int  `json:"variant_percents"`
	AggregateScore  float64                        `json:"aggregate_score"`
	Intersection    IntersectionType               `json:"intersection"`
	Shortlisted     bool                           `json:"shortlisted"`
	MatchedTerms    []string                       `json:"matched_terms,omitempty"`
}

// Config carries the aggregation tuning knobs.
type Config struct {
	Threshold relevance.ThresholdConfig
	// FallbackPerVariant is the per-variant shortlist size used when no
	// candidate intersects across variants.
	FallbackPerVariant int
}

func DefaultConfig() Config {
	return Config{Threshold: relevance.DefaultThresholdConfig(), FallbackPerVariant: 5}
}

// Result is the merged candidate pool plus the informational cutoff.
type Result struct {
	Candidates []UnifiedCandidate
	Cutoff     int
}

// Merge produces the unified candidate set for a run. Patent-type documents
// are scored against the strategy's term set per variant; scholarly documents
// are recorded unscored with NONE intersection. Idempotent for a given input:
// re-merging the same executions yields the same candidates.
func Merge(runID string, executions []search.Execution, strat strategy.SearchStrategy, cfg Config) Result {
	if cfg.FallbackPerVariant <= 0 {
		cfg.FallbackPerVariant = DefaultConfig().FallbackPerVariant
	}
	terms := strategy.ExtractTerms(strat)

	byID := map[string]*UnifiedCandidate{}
	for _, exec := range executions {
		if exec.Failed {
			continue
		}
		for _, doc := range exec.Documents {
			if doc.Identifier == "" {
				continue
			}
			cand := byID[doc.Identifier]
			if cand == nil {
				cand = &UnifiedCandidate{
					RunID:           runID,
					Identifier:      doc.Identifier,
					ContentType:     exec.SourceType,
					VariantPercents: map[strategy.VariantLabel]int{},
				}
				byID[doc.Identifier] = cand
			}
			// last writer wins on non-key fields, labels accumulate
			if doc.Title != "" {
				cand.Title = doc.Title
			}
			if doc.Abstract != "" {
				cand.Abstract = doc.Abstract
			}
			if exec.SourceType == search.ContentPatent {
				cand.ContentType = search.ContentPatent
			}
			addLabel(cand, exec.Variant)

			if exec.SourceType == search.ContentPatent {
				scored := relevance.Score(cand.Title, cand.Abstract, terms)
				cand.VariantPercents[exec.Variant] = scored.Percent
				cand.MatchedTerms = scored.MatchedTerms
			}
		}
	}

	candidates := make([]UnifiedCandidate, 0, len(byID))
	bestPercents := make([]int, 0, len(byID))
	for _, cand := range byID {
		if cand.ContentType == search.ContentScholarly {
			// scholarly results are out of scope for novelty ranking
			cand.VariantPercents = map[strategy.VariantLabel]int{}
			cand.AggregateScore = 0
			cand.Intersection = IntersectionNone
		} else {
			cand.Intersection = ClassifyIntersection(len(cand.VariantLabels))
			cand.AggregateScore = meanPercent(cand.VariantPercents)
			bestPercents = append(bestPercents, bestPercent(cand.VariantPercents))
		}
		candidates = append(candidates, *cand)
	}

	shortlist := selectShortlist(candidates, cfg.FallbackPerVariant)
	for i := range candidates {
		_, ok := shortlist[candidates[i].Identifier]
		candidates[i].Shortlisted = ok
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Shortlisted != candidates[j].Shortlisted {
			return candidates[i].Shortlisted
		}
		if candidates[i].AggregateScore != candidates[j].AggregateScore {
			return candidates[i].AggregateScore > candidates[j].AggregateScore
		}
		return candidates[i].Identifier < candidates[j].Identifier
	})

	return Result{
		Candidates: candidates,
		Cutoff:     relevance.SelectThreshold(bestPercents, cfg.Threshold),
	}
}

// selectShortlist returns the identifiers promoted to Level 1 screening.
// Multi-variant candidates win outright; when variants never intersect, the
// top candidates per variant are unioned instead. The union may hold more or
// fewer than the target size; that is accepted behavior.
func selectShortlist(candidates []UnifiedCandidate, perVariant int) map[string]struct{} {
	out := map[string]struct{}{}
	multi := false
	for _, cand := range candidates {
		if cand.ContentType != search.ContentPatent {
			continue
		}
		if len(cand.VariantLabels) >= 2 {
			multi = true
			out[cand.Identifier] = struct{}{}
		}
	}
	if multi {
		return out
	}

	for _, label := range strategy.VariantLabels {
		inVariant := []UnifiedCandidate{}
		for _, cand := range candidates {
			if cand.ContentType != search.ContentPatent {
				continue
			}
			if _, ok := cand.VariantPercents[label]; ok {
				inVariant = append(inVariant, cand)
			}
		}
		sort.SliceStable(inVariant, func(i, j int) bool {
			pi, pj := inVariant[i].VariantPercents[label], inVariant[j].VariantPercents[label]
			if pi != pj {
				return pi > pj
			}
			return inVariant[i].Identifier < inVariant[j].Identifier
		})
		if len(inVariant) > perVariant {
			inVariant = inVariant[:perVariant]
		}
		for _, cand := range inVariant {
			out[cand.Identifier] = struct{}{}
		}
	}
	return out
}

func addLabel(cand *UnifiedCandidate, label strategy.VariantLabel) {
	for _, existing := range cand.VariantLabels {
		if existing == label {
			return
		}
	}
	cand.VariantLabels = append(cand.VariantLabels, label)
	sort.Slice(cand.VariantLabels, func(i, j int) bool {
		return labelRank(cand.VariantLabels[i]) < labelRank(cand.VariantLabels[j])
	})
}

func labelRank(label strategy.VariantLabel) int {
	for i, l := range strategy.VariantLabels {
		if l == label {
			return i
		}
	}
	return len(strategy.VariantLabels)
}

func meanPercent(percents map[strategy.VariantLabel]int) float64 {
	if len(percents) == 0 {
		return 0
	}
	total := 0
	for _, p := range percents {
		total += p
	}
	return float64(total) / float64(len(percents))
}

func bestPercent(percents map[strategy.VariantLabel]int) int {
	best := 0
	for _, p := range percents {
		if p > best {
			best = p
		}
	}
	return best
}
