// Package store persists search runs, unified candidates, execution audit
// rows and novelty assessments to SQLite with write-through semantics.
// Assessment status writes are guarded so a row never moves backward or out
// of a terminal state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/novelty-engine/internal/aggregate"
	"github.com/joelkehle/novelty-engine/internal/assessment"
	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/strategy"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSuperseded marks a write refused by the monotonic status guard. A
	// late stage result landing after abandonment surfaces as this.
	ErrSuperseded = errors.New("assessment status superseded")
)

// SearchRun is the persisted header of one prior-art search.
type SearchRun struct {
	ID        string                  `json:"id"`
	Strategy  strategy.SearchStrategy `json:"strategy"`
	Cutoff    int                     `json:"cutoff"`
	CreatedAt time.Time               `json:"created_at"`
}

type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS search_runs (
	run_id     TEXT PRIMARY KEY,
	strategy   TEXT NOT NULL DEFAULT '{}',
	cutoff     INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS query_executions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	variant      TEXT NOT NULL,
	source       TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	query        TEXT NOT NULL DEFAULT '',
	requested    INTEGER NOT NULL DEFAULT 0,
	api_calls    INTEGER NOT NULL DEFAULT 0,
	result_count INTEGER NOT NULL DEFAULT 0,
	started_at   TEXT NOT NULL DEFAULT '',
	completed_at TEXT NOT NULL DEFAULT '',
	failed       INTEGER NOT NULL DEFAULT 0,
	fail_reason  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS candidates (
	run_id           TEXT NOT NULL,
	identifier       TEXT NOT NULL,
	content_type     TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	abstract         TEXT NOT NULL DEFAULT '',
	variant_labels   TEXT NOT NULL DEFAULT '[]',
	variant_percents TEXT NOT NULL DEFAULT '{}',
	aggregate_score  REAL NOT NULL DEFAULT 0,
	intersection     TEXT NOT NULL DEFAULT 'NONE',
	shortlisted      INTEGER NOT NULL DEFAULT 0,
	matched_terms    TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, identifier)
);

CREATE TABLE IF NOT EXISTS assessments (
	assessment_id     TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	status_rank       INTEGER NOT NULL DEFAULT 0,
	invention_summary TEXT NOT NULL DEFAULT '',
	candidates        TEXT NOT NULL DEFAULT '[]',
	stage1            TEXT,
	stage2            TEXT,
	final             TEXT NOT NULL DEFAULT '',
	novel_aspects     TEXT NOT NULL DEFAULT '[]',
	non_novel_aspects TEXT NOT NULL DEFAULT '[]',
	remarks           TEXT NOT NULL DEFAULT '',
	suggestions       TEXT NOT NULL DEFAULT '[]',
	fail_reason       TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_calls (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	assessment_id   TEXT NOT NULL,
	stage           TEXT NOT NULL,
	candidate_id    TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL,
	prompt          TEXT NOT NULL DEFAULT '',
	raw_response    TEXT NOT NULL DEFAULT '',
	parsed_response TEXT NOT NULL DEFAULT '',
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	model_class     TEXT NOT NULL DEFAULT '',
	finish_reason   TEXT NOT NULL DEFAULT '',
	success         INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
`

func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- persist helpers ---

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullableJSON(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- search runs ---

func (s *Store) SaveRun(ctx context.Context, run SearchRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO search_runs (run_id, strategy, cutoff, created_at)
		VALUES (?, ?, ?, ?)`,
		run.ID, marshalJSON(run.Strategy), run.Cutoff, timeToString(run.CreatedAt))
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (SearchRun, error) {
	var run SearchRun
	var strategyJSON, createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT run_id, strategy, cutoff, created_at FROM search_runs WHERE run_id = ?`, runID).
		Scan(&run.ID, &strategyJSON, &run.Cutoff, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SearchRun{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return SearchRun{}, err
	}
	_ = json.Unmarshal([]byte(strategyJSON), &run.Strategy)
	run.CreatedAt = parseTime(createdAt)
	return run, nil
}

// --- execution audit ---

func (s *Store) SaveExecutions(ctx context.Context, runID string, execs []search.Execution) error {
	for _, e := range execs {
		_, err := s.db.ExecContext(ctx, `INSERT INTO query_executions
			(run_id, variant, source, source_type, query, requested, api_calls, result_count, started_at, completed_at, failed, fail_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, string(e.Variant), e.Source, string(e.SourceType), e.Query,
			e.Requested, e.APICalls, e.ResultCount,
			timeToString(e.StartedAt), timeToString(e.CompletedAt),
			boolToInt(e.Failed), e.FailReason)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, runID string) ([]search.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variant, source, source_type, query, requested, api_calls, result_count, started_at, completed_at, failed, fail_reason
		FROM query_executions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []search.Execution
	for rows.Next() {
		var e search.Execution
		var variant, sourceType, startedAt, completedAt string
		var failed int
		if err := rows.Scan(&variant, &e.Source, &sourceType, &e.Query, &e.Requested,
			&e.APICalls, &e.ResultCount, &startedAt, &completedAt, &failed, &e.FailReason); err != nil {
			return nil, err
		}
		e.Variant = strategy.VariantLabel(variant)
		e.SourceType = search.ContentType(sourceType)
		e.StartedAt = parseTime(startedAt)
		e.CompletedAt = parseTime(completedAt)
		e.Failed = failed != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- unified candidates ---

func (s *Store) UpsertCandidates(ctx context.Context, cands []aggregate.UnifiedCandidate) error {
	for _, c := range cands {
		_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO candidates
			(run_id, identifier, content_type, title, abstract, variant_labels, variant_percents, aggregate_score, intersection, shortlisted, matched_terms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.RunID, c.Identifier, string(c.ContentType), c.Title, c.Abstract,
			marshalJSON(c.VariantLabels), marshalJSON(c.VariantPercents),
			c.AggregateScore, string(c.Intersection), boolToInt(c.Shortlisted),
			marshalJSON(c.MatchedTerms))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListCandidates(ctx context.Context, runID string) ([]aggregate.UnifiedCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, identifier, content_type, title, abstract, variant_labels, variant_percents, aggregate_score, intersection, shortlisted, matched_terms
		FROM candidates WHERE run_id = ? ORDER BY shortlisted DESC, aggregate_score DESC, identifier`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []aggregate.UnifiedCandidate
	for rows.Next() {
		var c aggregate.UnifiedCandidate
		var contentType, labelsJSON, percentsJSON, intersection, termsJSON string
		var shortlisted int
		if err := rows.Scan(&c.RunID, &c.Identifier, &contentType, &c.Title, &c.Abstract,
			&labelsJSON, &percentsJSON, &c.AggregateScore, &intersection, &shortlisted, &termsJSON); err != nil {
			return nil, err
		}
		c.ContentType = search.ContentType(contentType)
		c.Intersection = aggregate.IntersectionType(intersection)
		c.Shortlisted = shortlisted != 0
		_ = json.Unmarshal([]byte(labelsJSON), &c.VariantLabels)
		_ = json.Unmarshal([]byte(percentsJSON), &c.VariantPercents)
		_ = json.Unmarshal([]byte(termsJSON), &c.MatchedTerms)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- assessments ---

func (s *Store) CreateAssessment(ctx context.Context, a *assessment.NoveltyAssessment) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO assessments
		(assessment_id, run_id, status, status_rank, invention_summary, candidates, stage1, stage2, final, novel_aspects, non_novel_aspects, remarks, suggestions, fail_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, string(a.Status), a.Status.Rank(), a.InventionSummary,
		marshalJSON(a.Candidates), nullableJSON(a.Stage1), nullableJSON(a.Stage2),
		string(a.Final), marshalJSON(a.NovelAspects), marshalJSON(a.NonNovelAspects),
		a.Remarks, marshalJSON(a.Suggestions), a.FailReason,
		timeToString(a.CreatedAt), timeToString(a.UpdatedAt))
	return err
}

// UpdateAssessment writes the full row under the monotonic guard: the stored
// row must not be terminal and must not outrank the incoming status.
func (s *Store) UpdateAssessment(ctx context.Context, a *assessment.NoveltyAssessment) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assessments SET
		status = ?, status_rank = ?, stage1 = ?, stage2 = ?, final = ?,
		novel_aspects = ?, non_novel_aspects = ?, remarks = ?, suggestions = ?,
		fail_reason = ?, updated_at = ?
		WHERE assessment_id = ? AND status_rank <= ? AND status NOT IN ('NOVEL','NOT_NOVEL','DOUBT_RESOLVED','FAILED','ABANDONED')`,
		string(a.Status), a.Status.Rank(), nullableJSON(a.Stage1), nullableJSON(a.Stage2),
		string(a.Final), marshalJSON(a.NovelAspects), marshalJSON(a.NonNovelAspects),
		a.Remarks, marshalJSON(a.Suggestions), a.FailReason, timeToString(a.UpdatedAt),
		a.ID, a.Status.Rank())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM assessments WHERE assessment_id = ?`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("assessment %s: %w", a.ID, ErrNotFound)
		}
		return fmt.Errorf("assessment %s at %s: %w", a.ID, a.Status, ErrSuperseded)
	}
	return nil
}

func (s *Store) GetAssessment(ctx context.Context, id string) (*assessment.NoveltyAssessment, error) {
	var a assessment.NoveltyAssessment
	var status, candidatesJSON, final, novelJSON, nonNovelJSON, suggestionsJSON, createdAt, updatedAt string
	var stage1JSON, stage2JSON sql.NullString
	var rank int
	err := s.db.QueryRowContext(ctx, `SELECT assessment_id, run_id, status, status_rank, invention_summary, candidates, stage1, stage2, final, novel_aspects, non_novel_aspects, remarks, suggestions, fail_reason, created_at, updated_at
		FROM assessments WHERE assessment_id = ?`, id).
		Scan(&a.ID, &a.RunID, &status, &rank, &a.InventionSummary, &candidatesJSON,
			&stage1JSON, &stage2JSON, &final, &novelJSON, &nonNovelJSON,
			&a.Remarks, &suggestionsJSON, &a.FailReason, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	a.Status = assessment.Status(status)
	a.Final = assessment.Determination(final)
	_ = json.Unmarshal([]byte(candidatesJSON), &a.Candidates)
	if stage1JSON.Valid && stage1JSON.String != "" {
		_ = json.Unmarshal([]byte(stage1JSON.String), &a.Stage1)
	}
	if stage2JSON.Valid && stage2JSON.String != "" {
		_ = json.Unmarshal([]byte(stage2JSON.String), &a.Stage2)
	}
	_ = json.Unmarshal([]byte(novelJSON), &a.NovelAspects)
	_ = json.Unmarshal([]byte(nonNovelJSON), &a.NonNovelAspects)
	_ = json.Unmarshal([]byte(suggestionsJSON), &a.Suggestions)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// --- call audit ---

func (s *Store) AppendCall(ctx context.Context, call assessment.Call) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO assessment_calls
		(assessment_id, stage, candidate_id, idempotency_key, prompt, raw_response, parsed_response, output_tokens, model_class, finish_reason, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.AssessmentID, call.Stage, call.CandidateID, call.IdempotencyKey,
		call.Prompt, call.RawResponse, call.ParsedResponse, call.OutputTokens,
		call.ModelClass, call.FinishReason, boolToInt(call.Success), call.Error,
		timeToString(call.CreatedAt))
	return err
}

func (s *Store) ListCalls(ctx context.Context, assessmentID string) ([]assessment.Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT assessment_id, stage, candidate_id, idempotency_key, prompt, raw_response, parsed_response, output_tokens, model_class, finish_reason, success, error, created_at
		FROM assessment_calls WHERE assessment_id = ? ORDER BY id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []assessment.Call
	for rows.Next() {
		var c assessment.Call
		var success int
		var createdAt string
		if err := rows.Scan(&c.AssessmentID, &c.Stage, &c.CandidateID, &c.IdempotencyKey,
			&c.Prompt, &c.RawResponse, &c.ParsedResponse, &c.OutputTokens,
			&c.ModelClass, &c.FinishReason, &success, &c.Error, &createdAt); err != nil {
			return nil, err
		}
		c.Success = success != 0
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Ensure Store satisfies the machine's persistence seam at compile time.
var _ assessment.Recorder = (*Store)(nil)
