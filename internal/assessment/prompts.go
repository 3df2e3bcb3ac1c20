package assessment

import (
	"fmt"
	"strings"

	"github.com/joelkehle/novelty-engine/internal/search"
)

// abstractWordLimit bounds how much of each candidate abstract the screening
// prompt carries. Level 2 sends full text.
const abstractWordLimit = 200

func truncateWords(s string, limit int) string {
	fields := strings.Fields(s)
	if len(fields) <= limit {
		return strings.TrimSpace(s)
	}
	return strings.Join(fields[:limit], " ") + " ..."
}

// buildStage1Prompt assembles the single screening prompt covering the whole
// shortlist. The model rates each document HIGH/MEDIUM/LOW against the
// invention; the decision policy is applied afterward over those ratings.
func buildStage1Prompt(inventionSummary string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Screen the following prior-art documents against the invention disclosure below.\n\n")
	b.WriteString("INVENTION DISCLOSURE:\n")
	b.WriteString(strings.TrimSpace(inventionSummary))
	b.WriteString("\n\nPRIOR-ART DOCUMENTS:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n[%d] identifier: %s\ntitle: %s\nabstract: %s\n",
			i+1, c.Identifier, strings.TrimSpace(c.Title), truncateWords(c.Abstract, abstractWordLimit))
	}
	b.WriteString("\nFor each document, rate its relevance to the novelty of the invention:\n")
	b.WriteString("- HIGH: the document clearly anticipates the invention's core claims\n")
	b.WriteString("- MEDIUM: the document overlaps materially and needs detailed review\n")
	b.WriteString("- LOW: the document does not threaten novelty\n")
	b.WriteString("\nRespond with strict JSON, no markdown, in exactly this shape:\n")
	b.WriteString(`{
  "overall_determination": "NOVEL|NOT_NOVEL|DOUBT",
  "patent_assessments": [
    {"identifier": "...", "relevance": "HIGH|MEDIUM|LOW", "reasoning": "..."}
  ],
  "summary_remarks": "..."
}`)
	b.WriteString("\nInclude one entry per document, in the order given.\n")
	return b.String()
}

// buildStage2Prompt assembles the detailed single-candidate prompt. Sections
// the detail fetch could not supply are omitted rather than sent empty.
func buildStage2Prompt(inventionSummary string, identifier string, detail search.Detail) string {
	var b strings.Builder
	b.WriteString("Perform a detailed novelty comparison between the invention disclosure and one prior-art document.\n\n")
	b.WriteString("INVENTION DISCLOSURE:\n")
	b.WriteString(strings.TrimSpace(inventionSummary))
	fmt.Fprintf(&b, "\n\nPRIOR-ART DOCUMENT %s:\n", identifier)
	if t := strings.TrimSpace(detail.Title); t != "" {
		fmt.Fprintf(&b, "title: %s\n", t)
	}
	if a := strings.TrimSpace(detail.Abstract); a != "" {
		fmt.Fprintf(&b, "abstract: %s\n", a)
	}
	if cl := strings.TrimSpace(detail.Claims); cl != "" {
		b.WriteString("claims:\n")
		b.WriteString(cl)
		b.WriteString("\n")
	} else {
		b.WriteString("claims: unavailable, assess from title and abstract only\n")
	}
	b.WriteString("\nIdentify which aspects of the invention are anticipated by this document and which remain novel.\n")
	b.WriteString("Respond with strict JSON, no markdown, in exactly this shape:\n")
	fmt.Fprintf(&b, `{
  "identifier": "%s",
  "determination": "NOVEL|NOT_NOVEL|PARTIALLY_NOVEL",
  "confidence_level": "HIGH|MEDIUM|LOW",
  "novel_aspects": ["..."],
  "non_novel_aspects": ["..."],
  "technical_reasoning": "...",
  "suggestions": "..."
}`, identifier)
	b.WriteString("\n")
	return b.String()
}
