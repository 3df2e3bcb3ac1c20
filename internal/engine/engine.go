// Package engine orchestrates the pipeline: execute a search strategy,
// aggregate the results into a run, and drive novelty assessments over the
// resulting shortlist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/novelty-engine/internal/aggregate"
	"github.com/joelkehle/novelty-engine/internal/assessment"
	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/store"
	"github.com/joelkehle/novelty-engine/internal/strategy"
)

var (
	ErrAlreadyTerminal = errors.New("assessment already terminal")
	ErrNotConfigured   = errors.New("dependency not configured")
)

// Storage is the persistence surface the engine needs. *store.Store
// implements it.
type Storage interface {
	SaveRun(ctx context.Context, run store.SearchRun) error
	GetRun(ctx context.Context, runID string) (store.SearchRun, error)
	SaveExecutions(ctx context.Context, runID string, execs []search.Execution) error
	ListExecutions(ctx context.Context, runID string) ([]search.Execution, error)
	UpsertCandidates(ctx context.Context, cands []aggregate.UnifiedCandidate) error
	ListCandidates(ctx context.Context, runID string) ([]aggregate.UnifiedCandidate, error)
	CreateAssessment(ctx context.Context, a *assessment.NoveltyAssessment) error
	UpdateAssessment(ctx context.Context, a *assessment.NoveltyAssessment) error
	GetAssessment(ctx context.Context, id string) (*assessment.NoveltyAssessment, error)
	AppendCall(ctx context.Context, call assessment.Call) error
}

// Searcher runs all variant and source executions for one strategy.
type Searcher interface {
	Run(ctx context.Context, strat strategy.SearchStrategy) ([]search.Execution, error)
}

// Notifier receives every terminal assessment transition. Implementations
// must not block; delivery is best effort.
type Notifier interface {
	NotifyTerminal(ctx context.Context, a *assessment.NoveltyAssessment)
}

// LogNotifier is the default terminal notifier.
type LogNotifier struct{}

func (LogNotifier) NotifyTerminal(_ context.Context, a *assessment.NoveltyAssessment) {
	log.Printf("novelty-engine assessment_terminal assessment_id=%s status=%s determination=%s",
		a.ID, a.Status, a.Final)
}

type Engine struct {
	storage  Storage
	searcher Searcher
	gateway  assessment.Gateway
	details  assessment.DetailFetcher
	notifier Notifier
	aggCfg   aggregate.Config
}

func New(storage Storage, searcher Searcher, gateway assessment.Gateway, details assessment.DetailFetcher, notifier Notifier, aggCfg aggregate.Config) *Engine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if aggCfg.FallbackPerVariant <= 0 {
		aggCfg.FallbackPerVariant = aggregate.DefaultConfig().FallbackPerVariant
	}
	return &Engine{
		storage:  storage,
		searcher: searcher,
		gateway:  gateway,
		details:  details,
		notifier: notifier,
		aggCfg:   aggCfg,
	}
}

// RunResults bundles one run's header, execution audit and candidate pool.
type RunResults struct {
	Run        store.SearchRun              `json:"run"`
	Executions []search.Execution           `json:"executions"`
	Candidates []aggregate.UnifiedCandidate `json:"candidates"`
}

// StartSearch executes the strategy, merges the results and persists the run.
func (e *Engine) StartSearch(ctx context.Context, strat strategy.SearchStrategy) (RunResults, error) {
	if e.searcher == nil {
		return RunResults{}, fmt.Errorf("searcher: %w", ErrNotConfigured)
	}
	runID := uuid.NewString()
	log.Printf("novelty-engine search_start run_id=%s variants=%d scope=%s", runID, len(strat.Variants), strat.Scope)

	execs, err := e.searcher.Run(ctx, strat)
	if err != nil {
		return RunResults{}, fmt.Errorf("run search %s: %w", runID, err)
	}
	merged := aggregate.Merge(runID, execs, strat, e.aggCfg)

	run := store.SearchRun{
		ID:        runID,
		Strategy:  strat,
		Cutoff:    merged.Cutoff,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.storage.SaveRun(ctx, run); err != nil {
		return RunResults{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := e.storage.SaveExecutions(ctx, runID, execs); err != nil {
		return RunResults{}, fmt.Errorf("save executions %s: %w", runID, err)
	}
	if err := e.storage.UpsertCandidates(ctx, merged.Candidates); err != nil {
		return RunResults{}, fmt.Errorf("save candidates %s: %w", runID, err)
	}
	log.Printf("novelty-engine search_done run_id=%s candidates=%d cutoff=%d", runID, len(merged.Candidates), merged.Cutoff)
	return RunResults{Run: run, Executions: stripDocuments(execs), Candidates: merged.Candidates}, nil
}

// stripDocuments drops raw result payloads from execution audit records; the
// merged candidates are the canonical document view.
func stripDocuments(execs []search.Execution) []search.Execution {
	out := make([]search.Execution, len(execs))
	for i, e := range execs {
		e.Documents = nil
		out[i] = e
	}
	return out
}

func (e *Engine) GetRunResults(ctx context.Context, runID string) (RunResults, error) {
	run, err := e.storage.GetRun(ctx, runID)
	if err != nil {
		return RunResults{}, err
	}
	execs, err := e.storage.ListExecutions(ctx, runID)
	if err != nil {
		return RunResults{}, err
	}
	cands, err := e.storage.ListCandidates(ctx, runID)
	if err != nil {
		return RunResults{}, err
	}
	return RunResults{Run: run, Executions: execs, Candidates: cands}, nil
}

// StartAssessment freezes the run's shortlist into a new assessment and
// drives it to a terminal status. The candidate snapshot is immutable from
// here on; later changes to the run do not affect it.
func (e *Engine) StartAssessment(ctx context.Context, runID, inventionSummary string) (*assessment.NoveltyAssessment, error) {
	if e.gateway == nil {
		return nil, fmt.Errorf("model gateway: %w", ErrNotConfigured)
	}
	if e.details == nil {
		return nil, fmt.Errorf("detail source: %w", ErrNotConfigured)
	}
	cands, err := e.storage.ListCandidates(ctx, runID)
	if err != nil {
		return nil, err
	}
	if _, err := e.storage.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &assessment.NoveltyAssessment{
		ID:               uuid.NewString(),
		RunID:            runID,
		Status:           assessment.StatusPending,
		InventionSummary: inventionSummary,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, c := range cands {
		if !c.Shortlisted {
			continue
		}
		a.Candidates = append(a.Candidates, assessment.Candidate{
			Identifier: c.Identifier,
			Title:      c.Title,
			Abstract:   c.Abstract,
		})
	}
	if err := e.storage.CreateAssessment(ctx, a); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}

	m := assessment.NewMachine(e.gateway, e.details, e.storage)
	if err := m.Run(ctx, a); err != nil {
		// Infrastructure failure mid-run; the row keeps its last persisted
		// status and can be inspected.
		return a, err
	}
	e.notifyIfTerminal(ctx, a)
	return a, nil
}

func (e *Engine) GetAssessment(ctx context.Context, id string) (*assessment.NoveltyAssessment, error) {
	return e.storage.GetAssessment(ctx, id)
}

// AbandonAssessment moves a non-terminal assessment to ABANDONED. In-flight
// stage results for it are discarded by the store's status guard.
func (e *Engine) AbandonAssessment(ctx context.Context, id string) (*assessment.NoveltyAssessment, error) {
	a, err := e.storage.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, fmt.Errorf("assessment %s at %s: %w", id, a.Status, ErrAlreadyTerminal)
	}
	a.Status = assessment.StatusAbandoned
	a.UpdatedAt = time.Now().UTC()
	if err := e.storage.UpdateAssessment(ctx, a); err != nil {
		return nil, err
	}
	log.Printf("novelty-engine assessment_abandoned assessment_id=%s", id)
	e.notifyIfTerminal(ctx, a)
	return a, nil
}

func (e *Engine) notifyIfTerminal(ctx context.Context, a *assessment.NoveltyAssessment) {
	if a.Status.IsTerminal() {
		e.notifier.NotifyTerminal(ctx, a)
	}
}
