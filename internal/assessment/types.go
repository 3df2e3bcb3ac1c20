// Package assessment drives the two-level novelty determination: a single
// screening call over the shortlist, then one detailed call per candidate the
// screen left in doubt. Every model response passes through the modeljson
// interpreter; decision policy is pure and never trusts a model-supplied
// aggregate.
package assessment

import (
	"strings"
	"time"
)

const Disclaimer = "This is an automated novelty recommendation, not a legal opinion. " +
	"Consult qualified patent counsel for a formal novelty assessment."

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusStage1Screening  Status = "STAGE1_SCREENING"
	StatusStage1Completed  Status = "STAGE1_COMPLETED"
	StatusStage2Assessment Status = "STAGE2_ASSESSMENT"
	StatusStage2Completed  Status = "STAGE2_COMPLETED"
	StatusNovel            Status = "NOVEL"
	StatusNotNovel         Status = "NOT_NOVEL"
	StatusDoubtResolved    Status = "DOUBT_RESOLVED"
	StatusFailed           Status = "FAILED"
	StatusAbandoned        Status = "ABANDONED"
)

// statusRank orders statuses so transitions are monotonic: a write can never
// move an assessment backward.
func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusStage1Screening:
		return 1
	case StatusStage1Completed, StatusStage2Assessment:
		return 2
	case StatusStage2Completed:
		return 3
	case StatusNovel, StatusNotNovel, StatusDoubtResolved, StatusFailed, StatusAbandoned:
		return 4
	default:
		return -1
	}
}

// Rank exposes the transition order for persistence guards.
func (s Status) Rank() int { return statusRank(s) }

// IsTerminal reports whether no further stage may run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusNovel, StatusNotNovel, StatusDoubtResolved, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

type Determination string

const (
	DeterminationNovel          Determination = "NOVEL"
	DeterminationNotNovel       Determination = "NOT_NOVEL"
	DeterminationPartiallyNovel Determination = "PARTIALLY_NOVEL"
	DeterminationDoubt          Determination = "DOUBT"
)

type Relevance string

const (
	RelevanceHigh   Relevance = "HIGH"
	RelevanceMedium Relevance = "MEDIUM"
	RelevanceLow    Relevance = "LOW"
)

func normalizeRelevance(r Relevance) Relevance {
	switch strings.ToUpper(strings.TrimSpace(string(r))) {
	case string(RelevanceHigh):
		return RelevanceHigh
	case string(RelevanceMedium):
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

func normalizeDetermination(d Determination) Determination {
	switch strings.ToUpper(strings.TrimSpace(string(d))) {
	case string(DeterminationNotNovel):
		return DeterminationNotNovel
	case string(DeterminationPartiallyNovel):
		return DeterminationPartiallyNovel
	default:
		return DeterminationNovel
	}
}

// Candidate is the snapshot of one shortlisted prior-art document carried
// into the assessment. It is frozen at assessment start.
type Candidate struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Abstract   string `json:"abstract"`
}

// PatentAssessment is one Level 1 screening verdict.
type PatentAssessment struct {
	Identifier string    `json:"identifier"`
	Relevance  Relevance `json:"relevance"`
	Reasoning  string    `json:"reasoning"`
}

// Stage1Result is the interpreted Level 1 screening output.
type Stage1Result struct {
	OverallDetermination string             `json:"overall_determination"`
	Assessments          []PatentAssessment `json:"patent_assessments"`
	SummaryRemarks       string             `json:"summary_remarks"`
	Partial              bool               `json:"partial,omitempty"`
}

// Stage2CandidateResult is one Level 2 detailed verdict.
type Stage2CandidateResult struct {
	Identifier         string        `json:"identifier"`
	Determination      Determination `json:"determination"`
	ConfidenceLevel    string        `json:"confidence_level"`
	NovelAspects       []string      `json:"novel_aspects"`
	NonNovelAspects    []string      `json:"non_novel_aspects"`
	TechnicalReasoning string        `json:"technical_reasoning"`
	Suggestions        string        `json:"suggestions"`
}

// NoveltyAssessment is the state-machine entity: one per invention and
// optional linked search run, mutated only by the machine, terminal once a
// terminal status is reached.
type NoveltyAssessment struct {
	ID               string                  `json:"id"`
	RunID            string                  `json:"run_id,omitempty"`
	Status           Status                  `json:"status"`
	InventionSummary string                  `json:"invention_summary"`
	Candidates       []Candidate             `json:"candidates"`
	Stage1           *Stage1Result           `json:"stage1,omitempty"`
	Stage2           []Stage2CandidateResult `json:"stage2,omitempty"`
	Final            Determination           `json:"final_determination,omitempty"`
	NovelAspects     []string                `json:"novel_aspects,omitempty"`
	NonNovelAspects  []string                `json:"non_novel_aspects,omitempty"`
	Remarks          string                  `json:"remarks,omitempty"`
	Suggestions      []string                `json:"suggestions,omitempty"`
	FailReason       string                  `json:"fail_reason,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// Call is the append-only audit record of one model invocation.
type Call struct {
	AssessmentID   string    `json:"assessment_id"`
	Stage          string    `json:"stage"`
	CandidateID    string    `json:"candidate_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	Prompt         string    `json:"prompt"`
	RawResponse    string    `json:"raw_response"`
	ParsedResponse string    `json:"parsed_response,omitempty"`
	OutputTokens   int       `json:"output_tokens"`
	ModelClass     string    `json:"model_class"`
	FinishReason   string    `json:"finish_reason"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
