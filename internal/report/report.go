// Package report renders a novelty assessment and its source run into a
// human-readable markdown document.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/novelty-engine/internal/aggregate"
	"github.com/joelkehle/novelty-engine/internal/assessment"
	"github.com/joelkehle/novelty-engine/internal/strategy"
)

// Input bundles everything the report draws from. Candidates may be nil when
// the assessment was created without a linked run.
type Input struct {
	Assessment *assessment.NoveltyAssessment
	Candidates []aggregate.UnifiedCandidate
	Strategy   strategy.SearchStrategy
	Cutoff     int
	Now        time.Time
}

// BuildMarkdown renders the full report.
func BuildMarkdown(in Input) string {
	a := in.Assessment
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Prior-Art Novelty Report\n\n")
	fmt.Fprintf(&b, "- Assessment ID: %s\n", a.ID)
	if a.RunID != "" {
		fmt.Fprintf(&b, "- Search Run: %s\n", a.RunID)
	}
	fmt.Fprintf(&b, "- Date: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Status: `%s`\n\n", a.Status)
	fmt.Fprintf(&b, "%s\n\n", assessment.Disclaimer)

	fmt.Fprintf(&b, "## Determination\n\n")
	if a.Final != "" {
		fmt.Fprintf(&b, "**%s**\n\n", a.Final)
	} else {
		fmt.Fprintf(&b, "No determination reached.\n\n")
	}
	if a.FailReason != "" {
		fmt.Fprintf(&b, "> FAILED: %s\n\n", sanitize(a.FailReason))
	}
	if a.Remarks != "" {
		fmt.Fprintf(&b, "%s\n\n", sanitize(a.Remarks))
	}

	fmt.Fprintf(&b, "## Invention\n\n%s\n\n---\n\n", sanitize(a.InventionSummary))

	writeShortlist(&b, a)
	writeScreening(&b, a)
	writeDetailed(&b, a)
	writeAspects(&b, a)
	writeRunAppendix(&b, in)

	return b.String()
}

func writeShortlist(b *strings.Builder, a *assessment.NoveltyAssessment) {
	fmt.Fprintf(b, "## Assessed Prior Art\n\n")
	if len(a.Candidates) == 0 {
		fmt.Fprintf(b, "No prior-art candidates were shortlisted; the invention cleared by default.\n\n---\n\n")
		return
	}
	fmt.Fprintf(b, "| # | Identifier | Title |\n|---|-----------|-------|\n")
	for i, c := range a.Candidates {
		fmt.Fprintf(b, "| %d | %s | %s |\n", i+1, sanitizeCell(c.Identifier), sanitizeCell(c.Title))
	}
	fmt.Fprintf(b, "\n---\n\n")
}

func writeScreening(b *strings.Builder, a *assessment.NoveltyAssessment) {
	if a.Stage1 == nil {
		return
	}
	fmt.Fprintf(b, "## Screening\n\n")
	if a.Stage1.Partial {
		fmt.Fprintf(b, "> PARTIAL: the screening response was recovered from a damaged model reply. Treat ratings as indicative.\n\n")
	}
	fmt.Fprintf(b, "| Identifier | Relevance | Reasoning |\n|-----------|-----------|----------|\n")
	for _, pa := range a.Stage1.Assessments {
		fmt.Fprintf(b, "| %s | `%s` | %s |\n", sanitizeCell(pa.Identifier), pa.Relevance, sanitizeCell(pa.Reasoning))
	}
	if a.Stage1.SummaryRemarks != "" {
		fmt.Fprintf(b, "\n%s\n", sanitize(a.Stage1.SummaryRemarks))
	}
	fmt.Fprintf(b, "\n---\n\n")
}

func writeDetailed(b *strings.Builder, a *assessment.NoveltyAssessment) {
	if len(a.Stage2) == 0 {
		return
	}
	fmt.Fprintf(b, "## Detailed Comparison\n\n")
	for _, r := range a.Stage2 {
		fmt.Fprintf(b, "### %s — `%s`\n\n", sanitize(r.Identifier), r.Determination)
		if r.ConfidenceLevel != "" {
			fmt.Fprintf(b, "- Confidence: `%s`\n", r.ConfidenceLevel)
		}
		if r.TechnicalReasoning != "" {
			fmt.Fprintf(b, "\n%s\n", sanitize(r.TechnicalReasoning))
		}
		if r.Suggestions != "" {
			fmt.Fprintf(b, "\n**Suggested follow-up**: %s\n", sanitize(r.Suggestions))
		}
		fmt.Fprintf(b, "\n")
	}
	fmt.Fprintf(b, "---\n\n")
}

func writeAspects(b *strings.Builder, a *assessment.NoveltyAssessment) {
	if len(a.NovelAspects) == 0 && len(a.NonNovelAspects) == 0 {
		return
	}
	fmt.Fprintf(b, "## Aspect Summary\n\n")
	if len(a.NovelAspects) > 0 {
		fmt.Fprintf(b, "**Novel aspects**:\n\n")
		for _, s := range a.NovelAspects {
			fmt.Fprintf(b, "- %s\n", sanitize(s))
		}
		fmt.Fprintf(b, "\n")
	}
	if len(a.NonNovelAspects) > 0 {
		fmt.Fprintf(b, "**Anticipated aspects**:\n\n")
		for _, s := range a.NonNovelAspects {
			fmt.Fprintf(b, "- %s\n", sanitize(s))
		}
		fmt.Fprintf(b, "\n")
	}
	fmt.Fprintf(b, "---\n\n")
}

func writeRunAppendix(b *strings.Builder, in Input) {
	if len(in.Candidates) == 0 {
		return
	}
	fmt.Fprintf(b, "## Appendix: Search Coverage\n\n")
	if len(in.Strategy.Variants) > 0 {
		fmt.Fprintf(b, "Queries executed per variant:\n\n")
		for _, v := range in.Strategy.Variants {
			fmt.Fprintf(b, "- `%s`: %s\n", v.Label, sanitize(v.Query))
		}
		fmt.Fprintf(b, "\n")
	}
	fmt.Fprintf(b, "Relevance cutoff for this run: %d%%.\n\n", in.Cutoff)

	cands := append([]aggregate.UnifiedCandidate(nil), in.Candidates...)
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Shortlisted != cands[j].Shortlisted {
			return cands[i].Shortlisted
		}
		if cands[i].AggregateScore != cands[j].AggregateScore {
			return cands[i].AggregateScore > cands[j].AggregateScore
		}
		return cands[i].Identifier < cands[j].Identifier
	})
	fmt.Fprintf(b, "| Identifier | Type | Intersection | Score | Shortlisted |\n")
	fmt.Fprintf(b, "|-----------|------|--------------|-------|-------------|\n")
	for _, c := range cands {
		fmt.Fprintf(b, "| %s | %s | %s | %.1f | %s |\n",
			sanitizeCell(c.Identifier), c.ContentType, c.Intersection, c.AggregateScore, yesNo(c.Shortlisted))
	}
	fmt.Fprintf(b, "\n")
}

func sanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

func sanitizeCell(s string) string {
	s = sanitize(s)
	return strings.ReplaceAll(s, "|", "\\|")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
