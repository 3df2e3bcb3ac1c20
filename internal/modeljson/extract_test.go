package modeljson

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractValidJSONUnchanged(t *testing.T) {
	raw := `{"overall_determination":"NOVEL","patent_assessments":[{"identifier":"US1","note":"a, }"}]}`
	got, err := Extract(raw, false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.JSON != raw {
		t.Fatalf("valid JSON altered:\n got %s\nwant %s", got.JSON, raw)
	}
	if got.Partial {
		t.Fatal("valid JSON flagged partial")
	}
}

func TestExtractIdempotent(t *testing.T) {
	first, err := Extract("```json\n{\"a\": [1, 2,]}\n```", false)
	if err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	second, err := Extract(first.JSON, false)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if first.JSON != second.JSON {
		t.Fatalf("repair not idempotent: %s vs %s", first.JSON, second.JSON)
	}
}

func TestExtractStripsFence(t *testing.T) {
	got, err := Extract("```json\n{\"x\": 1}\n```", false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.JSON != `{"x": 1}` {
		t.Fatalf("got %s", got.JSON)
	}
}

func TestExtractSlicesSurroundingProse(t *testing.T) {
	got, err := Extract("Here is the result you asked for:\n{\"x\": 1}\nLet me know!", false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.JSON != `{"x": 1}` {
		t.Fatalf("got %s", got.JSON)
	}
}

func TestExtractNormalizesCommasAndBareKeys(t *testing.T) {
	got, err := Extract(`{relevance: "HIGH",, "ids": ["a", "b",],}`, false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var parsed struct {
		Relevance string   `json:"relevance"`
		IDs       []string `json:"ids"`
	}
	if err := got.Unmarshal(&parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed.Relevance != "HIGH" || len(parsed.IDs) != 2 {
		t.Fatalf("parsed %+v", parsed)
	}
}

func TestExtractClosesTruncatedResponse(t *testing.T) {
	raw := `{"overall_determination": "NOT_NOVEL", "patent_assessments": [{"identifier": "US-111", "relevance": "HIGH"`
	got, err := Extract(raw, true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var parsed struct {
		Overall     string `json:"overall_determination"`
		Assessments []struct {
			Identifier string `json:"identifier"`
			Relevance  string `json:"relevance"`
		} `json:"patent_assessments"`
	}
	if err := got.Unmarshal(&parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed.Overall != "NOT_NOVEL" || len(parsed.Assessments) != 1 || parsed.Assessments[0].Relevance != "HIGH" {
		t.Fatalf("parsed %+v", parsed)
	}
}

func TestExtractSalvagesDeterminationWithoutTruncationSignal(t *testing.T) {
	// Bracket closing is reserved for length-limited stops; without the
	// signal the response falls through to field salvage.
	raw := `{"overall_determination": "NOVEL", "patent_assessments": [`
	got, err := Extract(raw, false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !got.Partial {
		t.Fatal("expected partial result")
	}
	var parsed struct {
		Overall string `json:"overall_determination"`
	}
	if err := got.Unmarshal(&parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed.Overall != "NOVEL" {
		t.Fatalf("parsed %+v", parsed)
	}
}

func TestExtractSalvagesFields(t *testing.T) {
	// Broken tail after a complete assessments array: full parse fails even
	// after closing, but the array and determination are independently
	// recoverable.
	raw := `{"patent_assessments": [{"identifier": "US-9", "relevance": "MEDIUM"}], "overall_determination": "NOVEL", "summary_remarks": "trailing garbage` + "\x00"
	got, err := Extract(raw, false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !got.Partial {
		t.Fatal("salvaged result not flagged partial")
	}
	var parsed struct {
		Overall     string           `json:"overall_determination"`
		Assessments []map[string]any `json:"patent_assessments"`
	}
	if err := got.Unmarshal(&parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed.Overall != "NOVEL" || len(parsed.Assessments) != 1 {
		t.Fatalf("parsed %+v", parsed)
	}
}

func TestExtractFailureCarriesBoundedExcerpt(t *testing.T) {
	raw := "no json here " + strings.Repeat("x", 1000)
	_, err := Extract(raw, false)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if len(pe.Excerpt) > excerptLimit+3 {
		t.Fatalf("excerpt too long: %d", len(pe.Excerpt))
	}
}
