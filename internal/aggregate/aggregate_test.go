package aggregate

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/strategy"
)

func mergeStrategy() strategy.SearchStrategy {
	return strategy.SearchStrategy{
		CoreConcepts: []string{"manifold", "valve"},
		Scope:        strategy.ScopeBoth,
		Variants: []strategy.QueryVariant{
			{Label: strategy.VariantBroad, Query: "manifold", PageSize: 50, Page: 1},
			{Label: strategy.VariantBaseline, Query: "manifold valve", PageSize: 50, Page: 1},
			{Label: strategy.VariantNarrow, Query: "\"adaptive manifold valve\"", PageSize: 50, Page: 1},
		},
	}
}

func patentExec(label strategy.VariantLabel, docs ...search.RawDocument) search.Execution {
	return search.Execution{Variant: label, Source: "patentsview", SourceType: search.ContentPatent, Documents: docs}
}

func doc(id string) search.RawDocument {
	return search.RawDocument{Identifier: id, Title: "manifold " + id, Abstract: "valve assembly"}
}

func TestMergeIntersectionClassification(t *testing.T) {
	execs := []search.Execution{
		patentExec(strategy.VariantBroad, doc("A"), doc("B"), doc("C")),
		patentExec(strategy.VariantBaseline, doc("A"), doc("B")),
		patentExec(strategy.VariantNarrow, doc("A")),
	}
	res := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	got := map[string]IntersectionType{}
	for _, c := range res.Candidates {
		got[c.Identifier] = c.Intersection
	}
	want := map[string]IntersectionType{"A": IntersectionI3, "B": IntersectionI2, "C": IntersectionNone}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("intersection mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeShortlistPrefersMultiVariant(t *testing.T) {
	execs := []search.Execution{
		patentExec(strategy.VariantBroad, doc("A"), doc("C")),
		patentExec(strategy.VariantBaseline, doc("A")),
	}
	res := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	for _, c := range res.Candidates {
		wantShort := c.Identifier == "A"
		if c.Shortlisted != wantShort {
			t.Fatalf("candidate %s shortlisted=%t", c.Identifier, c.Shortlisted)
		}
	}
}

func TestMergeFallbackTopPerVariant(t *testing.T) {
	// 20 documents, no cross-variant overlap: shortlist is the union of the
	// top 5 per variant and nothing is classified I2/I3.
	var broad, baseline, narrow []search.RawDocument
	for i := 0; i < 8; i++ {
		broad = append(broad, doc(fmt.Sprintf("B%02d", i)))
		baseline = append(baseline, doc(fmt.Sprintf("M%02d", i)))
	}
	for i := 0; i < 4; i++ {
		narrow = append(narrow, doc(fmt.Sprintf("N%02d", i)))
	}
	execs := []search.Execution{
		patentExec(strategy.VariantBroad, broad...),
		patentExec(strategy.VariantBaseline, baseline...),
		patentExec(strategy.VariantNarrow, narrow...),
	}
	res := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	if len(res.Candidates) != 20 {
		t.Fatalf("candidates: %d", len(res.Candidates))
	}
	shortlisted := 0
	for _, c := range res.Candidates {
		if c.Intersection != IntersectionNone {
			t.Fatalf("unexpected intersection %s for %s", c.Intersection, c.Identifier)
		}
		if c.Shortlisted {
			shortlisted++
		}
	}
	// 5 + 5 from the 8-doc variants, all 4 from the narrow variant.
	if shortlisted != 14 {
		t.Fatalf("shortlisted: got %d want 14", shortlisted)
	}
}

func TestMergeScholarlyUnscored(t *testing.T) {
	execs := []search.Execution{
		patentExec(strategy.VariantBroad, doc("A")),
		{Variant: strategy.VariantBroad, Source: "openalex", SourceType: search.ContentScholarly,
			Documents: []search.RawDocument{{Identifier: "10.1/x", Title: "manifold valve paper", Abstract: "manifold valve"}}},
		{Variant: strategy.VariantBaseline, Source: "openalex", SourceType: search.ContentScholarly,
			Documents: []search.RawDocument{{Identifier: "10.1/x", Title: "manifold valve paper", Abstract: "manifold valve"}}},
	}
	res := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	var scholarly *UnifiedCandidate
	for i := range res.Candidates {
		if res.Candidates[i].Identifier == "10.1/x" {
			scholarly = &res.Candidates[i]
		}
	}
	if scholarly == nil {
		t.Fatal("scholarly candidate missing")
	}
	if scholarly.AggregateScore != 0 || scholarly.Intersection != IntersectionNone || scholarly.Shortlisted {
		t.Fatalf("scholarly candidate scored: %+v", scholarly)
	}
}

func TestMergeSkipsFailedExecutions(t *testing.T) {
	execs := []search.Execution{
		patentExec(strategy.VariantBroad, doc("A")),
		{Variant: strategy.VariantBaseline, Source: "patentsview", SourceType: search.ContentPatent,
			Failed: true, FailReason: "boom", Documents: []search.RawDocument{doc("Z")}},
	}
	res := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	for _, c := range res.Candidates {
		if c.Identifier == "Z" {
			t.Fatal("document from failed execution merged")
		}
	}
}

func TestMergeAggregateScoreIsMean(t *testing.T) {
	execs := []search.Execution{
		patentExec(strategy.VariantBroad, doc("A")),
		patentExec(strategy.VariantBaseline, doc("A")),
	}
	res := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	c := res.Candidates[0]
	sum := 0
	for _, p := range c.VariantPercents {
		sum += p
	}
	want := float64(sum) / float64(len(c.VariantPercents))
	if c.AggregateScore != want {
		t.Fatalf("aggregate score: got %f want %f", c.AggregateScore, want)
	}
}

func TestMergeIdempotent(t *testing.T) {
	execs := []search.Execution{
		patentExec(strategy.VariantBroad, doc("A"), doc("B")),
		patentExec(strategy.VariantBaseline, doc("A")),
	}
	first := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	second := Merge("run-1", execs, mergeStrategy(), DefaultConfig())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("merge not deterministic (-first +second):\n%s", diff)
	}
}

func TestClassifyIntersection(t *testing.T) {
	if ClassifyIntersection(3) != IntersectionI3 || ClassifyIntersection(2) != IntersectionI2 {
		t.Fatal("multi-variant classification wrong")
	}
	for _, n := range []int{0, 1, 4} {
		if ClassifyIntersection(n) != IntersectionNone {
			t.Fatalf("ClassifyIntersection(%d) != NONE", n)
		}
	}
}
