package relevance

import (
	"testing"

	"github.com/joelkehle/novelty-engine/internal/strategy"
)

func termSet() strategy.TermSet {
	return strategy.ExtractTerms(strategy.SearchStrategy{
		CoreConcepts: []string{"manifold", "valve"},
		SynonymGroups: map[string][]string{
			"coolant": {"refrigerant"},
		},
	})
}

func TestScoreTitleBonusCountsOncePerTerm(t *testing.T) {
	// "manifold" twice in the title still earns a single title bonus.
	res := Score("Manifold within a manifold", "", termSet())
	if res.TitleMatches != 1 {
		t.Fatalf("title matches: got %d want 1", res.TitleMatches)
	}
	if res.TotalScore != TitleWeight {
		t.Fatalf("total score: got %d want %d", res.TotalScore, TitleWeight)
	}
}

func TestScoreTitleBonusSurvivesEarlierAbstractMatch(t *testing.T) {
	// The canonical form hits the abstract before the synonym hits the title;
	// the title bonus for that term must still be awarded.
	res := Score("Refrigerant circuit", "coolant loop", termSet())
	if res.TitleMatches != 1 {
		t.Fatalf("title matches: got %d want 1", res.TitleMatches)
	}
	if res.AbstractMatches != 1 {
		t.Fatalf("abstract matches: got %d want 1", res.AbstractMatches)
	}
	if res.TotalScore != TitleWeight+1 {
		t.Fatalf("total score: got %d want %d", res.TotalScore, TitleWeight+1)
	}
	if len(res.MatchedTerms) != 1 || res.MatchedTerms[0] != "coolant" {
		t.Fatalf("matched terms: %v", res.MatchedTerms)
	}
}

func TestScoreAbstractCountsEveryOccurrence(t *testing.T) {
	res := Score("", "The coolant loop recycles coolant; the refrigerant is inert.", termSet())
	if res.AbstractMatches != 3 {
		t.Fatalf("abstract matches: got %d want 3", res.AbstractMatches)
	}
	if res.TotalScore != 3 {
		t.Fatalf("total score: got %d want 3", res.TotalScore)
	}
	if len(res.MatchedTerms) != 1 || res.MatchedTerms[0] != "coolant" {
		t.Fatalf("matched terms: %v", res.MatchedTerms)
	}
}

func TestScoreIsCaseInsensitive(t *testing.T) {
	res := Score("ADAPTIVE VALVE", "The VALVE modulates flow.", termSet())
	if res.TitleMatches != 1 || res.AbstractMatches != 1 {
		t.Fatalf("got %+v", res)
	}
}

func TestScorePercentBounded(t *testing.T) {
	abstract := ""
	for i := 0; i < 200; i++ {
		abstract += "manifold valve coolant refrigerant "
	}
	res := Score("manifold valve coolant", abstract, termSet())
	if res.Percent != 100 {
		t.Fatalf("percent not capped: %d", res.Percent)
	}

	if res := Score("", "", termSet()); res.Percent != 0 {
		t.Fatalf("empty document percent: %d", res.Percent)
	}
}

func TestScoreMonotonicInOccurrences(t *testing.T) {
	ts := termSet()
	prev := -1
	doc := ""
	for i := 0; i < 12; i++ {
		doc += "manifold "
		res := Score("", doc, ts)
		if res.Percent < prev {
			t.Fatalf("percent decreased at %d occurrences: %d < %d", i+1, res.Percent, prev)
		}
		prev = res.Percent
	}
}

func TestScoreNormalization(t *testing.T) {
	// 3 terms, ceiling 12: one title match (3) + one abstract hit (1) = 4/12.
	res := Score("manifold", "one valve", termSet())
	if res.TotalScore != 4 {
		t.Fatalf("total: got %d want 4", res.TotalScore)
	}
	if res.Percent != 33 {
		t.Fatalf("percent: got %d want 33", res.Percent)
	}
}

func TestScoreEmptyTermSet(t *testing.T) {
	res := Score("anything", "anything", strategy.TermSet{})
	if res.Percent != 0 || res.TotalScore != 0 {
		t.Fatalf("got %+v", res)
	}
}
