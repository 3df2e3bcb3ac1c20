package assessment

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joelkehle/novelty-engine/internal/modeljson"
	"github.com/joelkehle/novelty-engine/internal/search"
)

const (
	stageScreening = "STAGE1"
	stageDetailed  = "STAGE2"
)

// DetailFetcher supplies the full document text for a Level 2 candidate.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, identifier string) (search.Detail, error)
}

// Recorder persists machine progress. AppendCall is append-only; a call row
// is never rewritten. UpdateAssessment must refuse writes that would move the
// assessment backward or out of a terminal state, so a late result from an
// abandoned assessment is discarded at the store.
type Recorder interface {
	AppendCall(ctx context.Context, call Call) error
	UpdateAssessment(ctx context.Context, a *NoveltyAssessment) error
}

// Machine runs one assessment from PENDING to a terminal status.
type Machine struct {
	gateway  Gateway
	details  DetailFetcher
	recorder Recorder
}

func NewMachine(gateway Gateway, details DetailFetcher, recorder Recorder) *Machine {
	return &Machine{gateway: gateway, details: details, recorder: recorder}
}

// Run drives the assessment to a terminal status. The assessment entity is
// mutated in place and persisted after every transition. Run returns an error
// only for infrastructure problems (persistence); a determination of FAILED
// is a normal terminal outcome, not an error.
func (m *Machine) Run(ctx context.Context, a *NoveltyAssessment) error {
	if a.Status != StatusPending {
		return fmt.Errorf("assessment %s not runnable from status %s", a.ID, a.Status)
	}
	if len(a.Candidates) == 0 {
		// Nothing to compare against clears the invention outright.
		a.Final = DeterminationNovel
		a.Remarks = "no prior-art candidates were shortlisted"
		return m.transition(ctx, a, StatusNovel)
	}

	log.Printf("assessment stage1_start id=%s candidates=%d ids=%v", a.ID, len(a.Candidates), sortedIdentifiers(a.Candidates))
	if err := m.transition(ctx, a, StatusStage1Screening); err != nil {
		return err
	}

	stage1, err := m.runStage1(ctx, a)
	if err != nil {
		return m.fail(ctx, a, stageScreening, err)
	}
	a.Stage1 = stage1
	a.Remarks = stage1.SummaryRemarks
	if err := m.transition(ctx, a, StatusStage1Completed); err != nil {
		return err
	}

	switch DecideStage1(stage1.Assessments) {
	case DeterminationNotNovel:
		a.Final = DeterminationNotNovel
		log.Printf("assessment stage1_decided id=%s determination=%s", a.ID, a.Final)
		return m.transition(ctx, a, StatusNotNovel)
	case DeterminationNovel:
		a.Final = DeterminationNovel
		log.Printf("assessment stage1_decided id=%s determination=%s", a.ID, a.Final)
		return m.transition(ctx, a, StatusNovel)
	}

	mediums := MediumIdentifiers(stage1.Assessments)
	log.Printf("assessment stage2_start id=%s mediums=%d", a.ID, len(mediums))
	if err := m.transition(ctx, a, StatusStage2Assessment); err != nil {
		return err
	}

	results, skipped := m.runStage2(ctx, a, mediums)
	if len(results) == 0 {
		return m.fail(ctx, a, stageDetailed,
			fmt.Errorf("%w: all %d detailed comparisons failed", ErrAssessmentFailed, len(mediums)))
	}
	a.Stage2 = results
	if err := m.transition(ctx, a, StatusStage2Completed); err != nil {
		return err
	}

	final := AggregateStage2(results)
	a.Final = final
	a.NovelAspects = UnionAspects(results, func(r Stage2CandidateResult) []string { return r.NovelAspects })
	a.NonNovelAspects = UnionAspects(results, func(r Stage2CandidateResult) []string { return r.NonNovelAspects })
	a.Remarks = joinRemarks(a.Remarks, results)
	for _, r := range results {
		if s := strings.TrimSpace(r.Suggestions); s != "" {
			a.Suggestions = append(a.Suggestions, s)
		}
	}
	if skipped > 0 {
		a.Remarks = strings.TrimSpace(a.Remarks + fmt.Sprintf("\n%d of %d detailed comparisons were skipped after failures.", skipped, len(mediums)))
	}
	log.Printf("assessment stage2_decided id=%s determination=%s assessed=%d skipped=%d", a.ID, final, len(results), skipped)
	return m.transition(ctx, a, terminalStatus(final))
}

// runStage1 issues the screening call and interprets its response. A parse
// failure earns one fresh invocation under the same idempotency key before it
// is treated as a call failure.
func (m *Machine) runStage1(ctx context.Context, a *NoveltyAssessment) (*Stage1Result, error) {
	prompt := buildStage1Prompt(a.InventionSummary, a.Candidates)
	key := IdempotencyKey(a.ID, stageScreening, "")

	var result Stage1Result
	if err := m.invokeAndParse(ctx, a.ID, stageScreening, "", prompt, key, &result); err != nil {
		return nil, err
	}
	if len(result.Assessments) == 0 {
		return nil, fmt.Errorf("%w: screening returned no per-document assessments", ErrResponseUnparseable)
	}
	return &result, nil
}

// runStage2 assesses each doubtful candidate in sequence. Individual failures
// are logged and skipped so one bad candidate does not sink the rest.
func (m *Machine) runStage2(ctx context.Context, a *NoveltyAssessment, identifiers []string) ([]Stage2CandidateResult, int) {
	var results []Stage2CandidateResult
	skipped := 0
	for _, id := range identifiers {
		detail, err := m.details.FetchDetail(ctx, id)
		if err != nil {
			skipped++
			log.Printf("assessment stage2_detail_skip id=%s candidate=%s err=%q", a.ID, id, err.Error())
			continue
		}
		prompt := buildStage2Prompt(a.InventionSummary, id, detail)
		key := IdempotencyKey(a.ID, stageDetailed, id)
		var result Stage2CandidateResult
		if err := m.invokeAndParse(ctx, a.ID, stageDetailed, id, prompt, key, &result); err != nil {
			skipped++
			log.Printf("assessment stage2_candidate_skip id=%s candidate=%s err=%q", a.ID, id, err.Error())
			continue
		}
		result.Identifier = id
		results = append(results, result)
	}
	return results, skipped
}

// invokeAndParse is the shared call-then-interpret step. Every invocation,
// successful or not, lands one audit row.
func (m *Machine) invokeAndParse(ctx context.Context, assessmentID, stage, candidateID, prompt, key string, out any) error {
	for attempt := 1; attempt <= 2; attempt++ {
		res, err := m.gateway.Invoke(ctx, stage, prompt, key)
		if err != nil {
			m.record(ctx, Call{
				AssessmentID: assessmentID, Stage: stage, CandidateID: candidateID,
				IdempotencyKey: key, Prompt: prompt, Error: err.Error(),
			})
			return err
		}
		extracted, perr := modeljson.Extract(res.OutputText, res.FinishReason == FinishLength)
		if perr == nil {
			uerr := extracted.Unmarshal(out)
			if uerr == nil {
				markPartial(out, extracted.Partial)
				m.record(ctx, Call{
					AssessmentID: assessmentID, Stage: stage, CandidateID: candidateID,
					IdempotencyKey: key, Prompt: prompt, RawResponse: res.OutputText,
					ParsedResponse: extracted.JSON, OutputTokens: res.OutputTokens,
					ModelClass: res.ModelClass, FinishReason: res.FinishReason, Success: true,
				})
				return nil
			}
			perr = fmt.Errorf("decode repaired JSON: %w", uerr)
		}
		m.record(ctx, Call{
			AssessmentID: assessmentID, Stage: stage, CandidateID: candidateID,
			IdempotencyKey: key, Prompt: prompt, RawResponse: res.OutputText,
			OutputTokens: res.OutputTokens, ModelClass: res.ModelClass,
			FinishReason: res.FinishReason, Error: perr.Error(),
		})
		if attempt == 1 {
			log.Printf("assessment parse_retry id=%s stage=%s candidate=%s err=%q", assessmentID, stage, candidateID, perr.Error())
		}
	}
	return fmt.Errorf("%w: %s response unusable after retry", ErrResponseUnparseable, stage)
}

// markPartial propagates the salvage flag for result types that carry one.
func markPartial(out any, partial bool) {
	if !partial {
		return
	}
	if r, ok := out.(*Stage1Result); ok {
		r.Partial = true
	}
}

func (m *Machine) fail(ctx context.Context, a *NoveltyAssessment, stage string, cause error) error {
	a.FailReason = (&StageError{Stage: stage, Err: cause}).Error()
	log.Printf("assessment failed id=%s stage=%s err=%q", a.ID, stage, cause.Error())
	return m.transition(ctx, a, StatusFailed)
}

func (m *Machine) transition(ctx context.Context, a *NoveltyAssessment, next Status) error {
	if statusRank(next) < statusRank(a.Status) {
		return fmt.Errorf("illegal transition %s -> %s for assessment %s", a.Status, next, a.ID)
	}
	a.Status = next
	a.UpdatedAt = time.Now().UTC()
	if err := m.recorder.UpdateAssessment(ctx, a); err != nil {
		return fmt.Errorf("persist assessment %s at %s: %w", a.ID, next, err)
	}
	return nil
}

func (m *Machine) record(ctx context.Context, call Call) {
	call.CreatedAt = time.Now().UTC()
	if err := m.recorder.AppendCall(ctx, call); err != nil {
		log.Printf("assessment call_record_failed id=%s stage=%s err=%q", call.AssessmentID, call.Stage, err.Error())
	}
}

func joinRemarks(existing string, results []Stage2CandidateResult) string {
	parts := []string{}
	if strings.TrimSpace(existing) != "" {
		parts = append(parts, strings.TrimSpace(existing))
	}
	for _, r := range results {
		if t := strings.TrimSpace(r.TechnicalReasoning); t != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Identifier, t))
		}
	}
	return strings.Join(parts, "\n")
}
