package assessment

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecideStage1AnyHighWins(t *testing.T) {
	got := DecideStage1([]PatentAssessment{
		{Identifier: "A", Relevance: RelevanceLow},
		{Identifier: "B", Relevance: RelevanceHigh},
		{Identifier: "C", Relevance: RelevanceMedium},
	})
	if got != DeterminationNotNovel {
		t.Fatalf("got %s", got)
	}
}

func TestDecideStage1MediumMeansDoubt(t *testing.T) {
	got := DecideStage1([]PatentAssessment{
		{Identifier: "A", Relevance: RelevanceLow},
		{Identifier: "B", Relevance: RelevanceMedium},
	})
	if got != DeterminationDoubt {
		t.Fatalf("got %s", got)
	}
}

func TestDecideStage1AllLowOrEmptyIsNovel(t *testing.T) {
	if got := DecideStage1([]PatentAssessment{{Identifier: "A", Relevance: RelevanceLow}}); got != DeterminationNovel {
		t.Fatalf("all low: got %s", got)
	}
	if got := DecideStage1(nil); got != DeterminationNovel {
		t.Fatalf("empty: got %s", got)
	}
}

func TestDecideStage1NormalizesCasing(t *testing.T) {
	if got := DecideStage1([]PatentAssessment{{Identifier: "A", Relevance: "high "}}); got != DeterminationNotNovel {
		t.Fatalf("got %s", got)
	}
	// Unknown ratings degrade to LOW rather than escalating.
	if got := DecideStage1([]PatentAssessment{{Identifier: "A", Relevance: "CRITICAL"}}); got != DeterminationNovel {
		t.Fatalf("got %s", got)
	}
}

func TestMediumIdentifiersOrderAndDedup(t *testing.T) {
	got := MediumIdentifiers([]PatentAssessment{
		{Identifier: "B", Relevance: RelevanceMedium},
		{Identifier: "A", Relevance: RelevanceHigh},
		{Identifier: "C", Relevance: RelevanceMedium},
		{Identifier: "B", Relevance: RelevanceMedium},
	})
	if diff := cmp.Diff([]string{"B", "C"}, got); diff != "" {
		t.Fatalf("mediums mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateStage2Dominance(t *testing.T) {
	cases := []struct {
		name string
		in   []Determination
		want Determination
	}{
		{"not novel dominates", []Determination{DeterminationNovel, DeterminationNotNovel, DeterminationPartiallyNovel}, DeterminationNotNovel},
		{"partial beats novel", []Determination{DeterminationNovel, DeterminationPartiallyNovel}, DeterminationPartiallyNovel},
		{"all novel", []Determination{DeterminationNovel, DeterminationNovel}, DeterminationNovel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var results []Stage2CandidateResult
			for _, d := range tc.in {
				results = append(results, Stage2CandidateResult{Determination: d})
			}
			if got := AggregateStage2(results); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestUnionAspectsDedupes(t *testing.T) {
	results := []Stage2CandidateResult{
		{NovelAspects: []string{"adaptive control", "sealed housing"}},
		{NovelAspects: []string{"sealed housing", "", "thermal relief"}},
	}
	got := UnionAspects(results, func(r Stage2CandidateResult) []string { return r.NovelAspects })
	if diff := cmp.Diff([]string{"adaptive control", "sealed housing", "thermal relief"}, got); diff != "" {
		t.Fatalf("aspects mismatch (-want +got):\n%s", diff)
	}
}

func TestTerminalStatusMapping(t *testing.T) {
	if terminalStatus(DeterminationNotNovel) != StatusNotNovel {
		t.Fatal("not novel mapping")
	}
	if terminalStatus(DeterminationPartiallyNovel) != StatusDoubtResolved {
		t.Fatal("partially novel mapping")
	}
	if terminalStatus(DeterminationNovel) != StatusNovel {
		t.Fatal("novel mapping")
	}
}
