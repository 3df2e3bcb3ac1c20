package assessment

import "sort"

// DecideStage1 applies the screening policy over the per-patent verdicts.
// The model's own overall_determination is ignored: any HIGH relevance means
// not novel, any MEDIUM leaves doubt to escalate, and an all-LOW (or empty)
// screen clears the invention.
func DecideStage1(assessments []PatentAssessment) Determination {
	anyMedium := false
	for _, a := range assessments {
		switch normalizeRelevance(a.Relevance) {
		case RelevanceHigh:
			return DeterminationNotNovel
		case RelevanceMedium:
			anyMedium = true
		}
	}
	if anyMedium {
		return DeterminationDoubt
	}
	return DeterminationNovel
}

// MediumIdentifiers returns the candidates Stage 2 carries forward, in the
// order Stage 1 assessed them, deduplicated.
func MediumIdentifiers(assessments []PatentAssessment) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, a := range assessments {
		if normalizeRelevance(a.Relevance) != RelevanceMedium {
			continue
		}
		if _, ok := seen[a.Identifier]; ok {
			continue
		}
		seen[a.Identifier] = struct{}{}
		out = append(out, a.Identifier)
	}
	return out
}

// AggregateStage2 folds the per-candidate detailed verdicts into the final
// determination: any NOT_NOVEL dominates, then any PARTIALLY_NOVEL, else all
// candidates cleared and the invention is NOVEL.
func AggregateStage2(results []Stage2CandidateResult) Determination {
	anyPartial := false
	for _, r := range results {
		switch normalizeDetermination(r.Determination) {
		case DeterminationNotNovel:
			return DeterminationNotNovel
		case DeterminationPartiallyNovel:
			anyPartial = true
		}
	}
	if anyPartial {
		return DeterminationPartiallyNovel
	}
	return DeterminationNovel
}

// UnionAspects deduplicates aspect lists across candidates, preserving first
// appearance order.
func UnionAspects(results []Stage2CandidateResult, pick func(Stage2CandidateResult) []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, r := range results {
		for _, aspect := range pick(r) {
			if aspect == "" {
				continue
			}
			if _, ok := seen[aspect]; ok {
				continue
			}
			seen[aspect] = struct{}{}
			out = append(out, aspect)
		}
	}
	return out
}

// terminalStatus maps a final determination onto its terminal state. The
// partially-novel outcome is recorded as DOUBT_RESOLVED.
func terminalStatus(d Determination) Status {
	switch d {
	case DeterminationNotNovel:
		return StatusNotNovel
	case DeterminationPartiallyNovel:
		return StatusDoubtResolved
	default:
		return StatusNovel
	}
}

// sortedIdentifiers is a test/display helper returning candidate identifiers
// in stable order.
func sortedIdentifiers(candidates []Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Identifier)
	}
	sort.Strings(ids)
	return ids
}
