// Package strategy defines the search strategy model: the immutable
// specification of a prior-art search for one invention, its three query
// variants, and the term/synonym extraction used for relevance scoring.
package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid wraps all strategy validation failures.
var ErrInvalid = errors.New("invalid search strategy")

type VariantLabel string

const (
	VariantBroad    VariantLabel = "broad"
	VariantBaseline VariantLabel = "baseline"
	VariantNarrow   VariantLabel = "narrow"
)

// VariantLabels lists the three required variant labels in canonical order.
var VariantLabels = []VariantLabel{VariantBroad, VariantBaseline, VariantNarrow}

// SourceScope selects which source families a search executes against.
// The default is explicit rather than an optional field so the "both when
// unspecified" behavior is visible in the type.
type SourceScope string

const (
	ScopePatentOnly    SourceScope = "PATENT_ONLY"
	ScopeScholarlyOnly SourceScope = "SCHOLARLY_ONLY"
	ScopeBoth          SourceScope = "BOTH"
)

func NormalizeScope(s SourceScope) SourceScope {
	switch strings.ToUpper(strings.TrimSpace(string(s))) {
	case string(ScopePatentOnly):
		return ScopePatentOnly
	case string(ScopeScholarlyOnly):
		return ScopeScholarlyOnly
	default:
		return ScopeBoth
	}
}

// QueryVariant is one of the three pre-defined query formulations.
type QueryVariant struct {
	Label    VariantLabel `json:"label"`
	Query    string       `json:"query"`
	PageSize int          `json:"page_size"`
	Page     int          `json:"page"`
}

// SearchStrategy is created once per invention, approved before execution,
// and never mutated after approval.
type SearchStrategy struct {
	InventionTitle    string              `json:"invention_title"`
	InventionSummary  string              `json:"invention_summary"`
	CoreConcepts      []string            `json:"core_concepts"`
	TechnicalFeatures []string            `json:"technical_features"`
	SynonymGroups     map[string][]string `json:"synonym_groups"`
	Phrases           []string            `json:"phrases"`
	ExcludeTerms      []string            `json:"exclude_terms"`
	Scope             SourceScope         `json:"scope"`
	Variants          []QueryVariant      `json:"variants"`
}

// Validate enforces the structural invariants: exactly three variants carrying
// the broad/baseline/narrow labels (in any order), each with a non-empty query.
func Validate(s SearchStrategy) error {
	if len(s.Variants) != 3 {
		return fmt.Errorf("%w: expected 3 variants, got %d", ErrInvalid, len(s.Variants))
	}
	seen := map[VariantLabel]struct{}{}
	for _, v := range s.Variants {
		label := VariantLabel(strings.ToLower(strings.TrimSpace(string(v.Label))))
		switch label {
		case VariantBroad, VariantBaseline, VariantNarrow:
		default:
			return fmt.Errorf("%w: unknown variant label %q", ErrInvalid, v.Label)
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("%w: duplicate variant label %q", ErrInvalid, label)
		}
		seen[label] = struct{}{}
		if strings.TrimSpace(v.Query) == "" {
			return fmt.Errorf("%w: variant %q has empty query", ErrInvalid, label)
		}
		if v.PageSize < 0 || v.Page < 0 {
			return fmt.Errorf("%w: variant %q has negative paging", ErrInvalid, label)
		}
	}
	if len(s.CoreConcepts) == 0 && len(s.TechnicalFeatures) == 0 && len(s.Phrases) == 0 {
		return fmt.Errorf("%w: no core concepts, features or phrases", ErrInvalid)
	}
	return nil
}

// Variant returns the variant carrying label, matching case-insensitively.
func (s SearchStrategy) Variant(label VariantLabel) (QueryVariant, bool) {
	for _, v := range s.Variants {
		if strings.EqualFold(string(v.Label), string(label)) {
			return v, true
		}
	}
	return QueryVariant{}, false
}
