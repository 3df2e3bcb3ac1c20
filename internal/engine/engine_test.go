package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/joelkehle/novelty-engine/internal/aggregate"
	"github.com/joelkehle/novelty-engine/internal/assessment"
	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/store"
	"github.com/joelkehle/novelty-engine/internal/strategy"
)

type memStorage struct {
	runs        map[string]store.SearchRun
	executions  map[string][]search.Execution
	candidates  map[string][]aggregate.UnifiedCandidate
	assessments map[string]*assessment.NoveltyAssessment
	calls       []assessment.Call
}

func newMemStorage() *memStorage {
	return &memStorage{
		runs:        map[string]store.SearchRun{},
		executions:  map[string][]search.Execution{},
		candidates:  map[string][]aggregate.UnifiedCandidate{},
		assessments: map[string]*assessment.NoveltyAssessment{},
	}
}

func (m *memStorage) SaveRun(_ context.Context, run store.SearchRun) error {
	m.runs[run.ID] = run
	return nil
}

func (m *memStorage) GetRun(_ context.Context, runID string) (store.SearchRun, error) {
	run, ok := m.runs[runID]
	if !ok {
		return store.SearchRun{}, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return run, nil
}

func (m *memStorage) SaveExecutions(_ context.Context, runID string, execs []search.Execution) error {
	m.executions[runID] = append(m.executions[runID], execs...)
	return nil
}

func (m *memStorage) ListExecutions(_ context.Context, runID string) ([]search.Execution, error) {
	return m.executions[runID], nil
}

func (m *memStorage) UpsertCandidates(_ context.Context, cands []aggregate.UnifiedCandidate) error {
	for _, c := range cands {
		m.candidates[c.RunID] = append(m.candidates[c.RunID], c)
	}
	return nil
}

func (m *memStorage) ListCandidates(_ context.Context, runID string) ([]aggregate.UnifiedCandidate, error) {
	return m.candidates[runID], nil
}

func (m *memStorage) CreateAssessment(_ context.Context, a *assessment.NoveltyAssessment) error {
	cp := *a
	m.assessments[a.ID] = &cp
	return nil
}

func (m *memStorage) UpdateAssessment(_ context.Context, a *assessment.NoveltyAssessment) error {
	existing, ok := m.assessments[a.ID]
	if !ok {
		return fmt.Errorf("assessment %s: %w", a.ID, store.ErrNotFound)
	}
	if existing.Status.IsTerminal() || existing.Status.Rank() > a.Status.Rank() {
		return fmt.Errorf("assessment %s: %w", a.ID, store.ErrSuperseded)
	}
	cp := *a
	m.assessments[a.ID] = &cp
	return nil
}

func (m *memStorage) GetAssessment(_ context.Context, id string) (*assessment.NoveltyAssessment, error) {
	a, ok := m.assessments[id]
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", id, store.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memStorage) AppendCall(_ context.Context, call assessment.Call) error {
	m.calls = append(m.calls, call)
	return nil
}

type fakeSearcher struct {
	execs []search.Execution
	err   error
}

func (f *fakeSearcher) Run(context.Context, strategy.SearchStrategy) ([]search.Execution, error) {
	return f.execs, f.err
}

type scriptedGateway struct {
	byStage map[string]string
}

func (g *scriptedGateway) Invoke(_ context.Context, taskCode, _, _ string) (assessment.ModelResult, error) {
	out, ok := g.byStage[taskCode]
	if !ok {
		return assessment.ModelResult{}, fmt.Errorf("%w: no script for %s", assessment.ErrModelCallFailed, taskCode)
	}
	return assessment.ModelResult{OutputText: out, FinishReason: "stop", ModelClass: "test"}, nil
}

type nilDetails struct{}

func (nilDetails) FetchDetail(context.Context, string) (search.Detail, error) {
	return search.Detail{Title: "t", Abstract: "a", Claims: "1. A device."}, nil
}

type captureNotifier struct {
	seen []*assessment.NoveltyAssessment
}

func (n *captureNotifier) NotifyTerminal(_ context.Context, a *assessment.NoveltyAssessment) {
	n.seen = append(n.seen, a)
}

func engineStrategy() strategy.SearchStrategy {
	return strategy.SearchStrategy{
		CoreConcepts: []string{"manifold"},
		Scope:        strategy.ScopePatentOnly,
		Variants: []strategy.QueryVariant{
			{Label: strategy.VariantBroad, Query: "manifold", PageSize: 50, Page: 1},
			{Label: strategy.VariantBaseline, Query: "manifold valve", PageSize: 50, Page: 1},
			{Label: strategy.VariantNarrow, Query: "\"manifold valve\"", PageSize: 50, Page: 1},
		},
	}
}

func patentExecs() []search.Execution {
	doc := search.RawDocument{Identifier: "US1", Title: "manifold valve", Abstract: "a manifold"}
	return []search.Execution{
		{Variant: strategy.VariantBroad, Source: "patentsview", SourceType: search.ContentPatent, ResultCount: 1, Documents: []search.RawDocument{doc}},
		{Variant: strategy.VariantBaseline, Source: "patentsview", SourceType: search.ContentPatent, ResultCount: 1, Documents: []search.RawDocument{doc}},
	}
}

func TestStartSearchPersistsRun(t *testing.T) {
	st := newMemStorage()
	e := New(st, &fakeSearcher{execs: patentExecs()}, nil, nil, nil, aggregate.DefaultConfig())
	res, err := e.StartSearch(context.Background(), engineStrategy())
	if err != nil {
		t.Fatalf("start search: %v", err)
	}
	if res.Run.ID == "" {
		t.Fatal("run id empty")
	}
	if _, ok := st.runs[res.Run.ID]; !ok {
		t.Fatal("run not saved")
	}
	if len(st.candidates[res.Run.ID]) != 1 {
		t.Fatalf("candidates saved: %d", len(st.candidates[res.Run.ID]))
	}
	for _, exec := range res.Executions {
		if exec.Documents != nil {
			t.Fatal("raw documents leaked into run results")
		}
	}
}

func TestStartSearchPropagatesSearchFailure(t *testing.T) {
	st := newMemStorage()
	e := New(st, &fakeSearcher{err: search.ErrSourceUnavailable}, nil, nil, nil, aggregate.DefaultConfig())
	if _, err := e.StartSearch(context.Background(), engineStrategy()); !errors.Is(err, search.ErrSourceUnavailable) {
		t.Fatalf("err: %v", err)
	}
	if len(st.runs) != 0 {
		t.Fatal("failed search persisted a run")
	}
}

func seedRun(t *testing.T, st *memStorage, e *Engine) string {
	t.Helper()
	res, err := e.StartSearch(context.Background(), engineStrategy())
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return res.Run.ID
}

func TestStartAssessmentFreezesShortlistAndNotifies(t *testing.T) {
	st := newMemStorage()
	gw := &scriptedGateway{byStage: map[string]string{
		"STAGE1": `{"overall_determination": "NOVEL", "patent_assessments": [{"identifier": "US1", "relevance": "LOW", "reasoning": "distinct"}], "summary_remarks": "clear"}`,
	}}
	notifier := &captureNotifier{}
	e := New(st, &fakeSearcher{execs: patentExecs()}, gw, nilDetails{}, notifier, aggregate.DefaultConfig())
	runID := seedRun(t, st, e)

	a, err := e.StartAssessment(context.Background(), runID, "An adaptive manifold valve.")
	if err != nil {
		t.Fatalf("start assessment: %v", err)
	}
	if a.Status != assessment.StatusNovel {
		t.Fatalf("status %s", a.Status)
	}
	if len(a.Candidates) != 1 || a.Candidates[0].Identifier != "US1" {
		t.Fatalf("candidates %+v", a.Candidates)
	}
	if len(notifier.seen) != 1 || notifier.seen[0].ID != a.ID {
		t.Fatalf("notifications %d", len(notifier.seen))
	}
	stored, err := e.GetAssessment(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get assessment: %v", err)
	}
	if stored.Status != assessment.StatusNovel {
		t.Fatalf("stored status %s", stored.Status)
	}
}

func TestStartAssessmentUnknownRun(t *testing.T) {
	st := newMemStorage()
	e := New(st, &fakeSearcher{}, &scriptedGateway{}, nilDetails{}, nil, aggregate.DefaultConfig())
	if _, err := e.StartAssessment(context.Background(), "missing", "summary"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err: %v", err)
	}
}

func TestUnwiredDependenciesRejected(t *testing.T) {
	st := newMemStorage()
	e := New(st, nil, nil, nil, nil, aggregate.DefaultConfig())
	if _, err := e.StartSearch(context.Background(), engineStrategy()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("start search err: %v", err)
	}
	if _, err := e.StartAssessment(context.Background(), "run-1", "summary"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("start assessment err: %v", err)
	}
}

func TestAbandonAssessment(t *testing.T) {
	st := newMemStorage()
	notifier := &captureNotifier{}
	e := New(st, &fakeSearcher{}, nil, nil, notifier, aggregate.DefaultConfig())
	a := &assessment.NoveltyAssessment{ID: "asm-1", Status: assessment.StatusPending}
	if err := st.CreateAssessment(context.Background(), a); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := e.AbandonAssessment(context.Background(), "asm-1")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if got.Status != assessment.StatusAbandoned {
		t.Fatalf("status %s", got.Status)
	}
	if len(notifier.seen) != 1 {
		t.Fatalf("notifications %d", len(notifier.seen))
	}

	if _, err := e.AbandonAssessment(context.Background(), "asm-1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second abandon err: %v", err)
	}
}

func TestFailedAssessmentStillNotifies(t *testing.T) {
	st := newMemStorage()
	gw := &scriptedGateway{byStage: map[string]string{}}
	notifier := &captureNotifier{}
	e := New(st, &fakeSearcher{execs: patentExecs()}, gw, nilDetails{}, notifier, aggregate.DefaultConfig())
	runID := seedRun(t, st, e)

	a, err := e.StartAssessment(context.Background(), runID, "summary")
	if err != nil {
		t.Fatalf("start assessment: %v", err)
	}
	if a.Status != assessment.StatusFailed {
		t.Fatalf("status %s", a.Status)
	}
	if len(notifier.seen) != 1 {
		t.Fatalf("notifications %d", len(notifier.seen))
	}
}
