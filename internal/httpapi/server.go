// Package httpapi exposes the engine over HTTP. Responses follow the
// {ok, error:{code,message,transient}} envelope.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/joelkehle/novelty-engine/internal/assessment"
	"github.com/joelkehle/novelty-engine/internal/engine"
	"github.com/joelkehle/novelty-engine/internal/search"
	"github.com/joelkehle/novelty-engine/internal/store"
	"github.com/joelkehle/novelty-engine/internal/strategy"
)

// EngineAPI is the slice of the engine the handlers need.
type EngineAPI interface {
	StartSearch(ctx context.Context, strat strategy.SearchStrategy) (engine.RunResults, error)
	GetRunResults(ctx context.Context, runID string) (engine.RunResults, error)
	StartAssessment(ctx context.Context, runID, inventionSummary string) (*assessment.NoveltyAssessment, error)
	GetAssessment(ctx context.Context, id string) (*assessment.NoveltyAssessment, error)
	AbandonAssessment(ctx context.Context, id string) (*assessment.NoveltyAssessment, error)
}

type Server struct {
	engine EngineAPI
}

func NewServer(eng EngineAPI) http.Handler {
	s := &Server{engine: eng}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/searches", s.handleSearches)
	mux.HandleFunc("/v1/runs/", s.handleRun)
	mux.HandleFunc("/v1/assessments", s.handleAssessments)
	mux.HandleFunc("/v1/assessments/", s.handleAssessment)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code, status, transient := "internal", 500, true
	switch {
	case errors.Is(err, strategy.ErrInvalid):
		code, status, transient = "validation", 400, false
	case errors.Is(err, store.ErrNotFound):
		code, status, transient = "not_found", 404, false
	case errors.Is(err, engine.ErrAlreadyTerminal), errors.Is(err, store.ErrSuperseded):
		code, status, transient = "conflict", 409, false
	case errors.Is(err, search.ErrSourceUnavailable):
		code, status = "source_unavailable", 503
	}
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      code,
			"message":   err.Error(),
			"transient": transient,
		},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, 400, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      "validation",
			"message":   msg,
			"transient": false,
		},
	})
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleSearches(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	var req struct {
		Strategy strategy.SearchStrategy `json:"strategy"`
	}
	if err := json.Unmarshal(blob, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	res, err := s.engine.StartSearch(r.Context(), req.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":         true,
		"run_id":     res.Run.ID,
		"cutoff":     res.Run.Cutoff,
		"executions": res.Executions,
		"candidates": res.Candidates,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	if runID == "" || strings.Contains(runID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	res, err := s.engine.GetRunResults(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":         true,
		"run":        res.Run,
		"executions": res.Executions,
		"candidates": res.Candidates,
	})
}

func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	var req struct {
		RunID            string `json:"run_id"`
		InventionSummary string `json:"invention_summary"`
	}
	if err := json.Unmarshal(blob, &req); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if strings.TrimSpace(req.RunID) == "" {
		writeValidationError(w, "run_id is required")
		return
	}
	if strings.TrimSpace(req.InventionSummary) == "" {
		writeValidationError(w, "invention_summary is required")
		return
	}
	a, err := s.engine.StartAssessment(r.Context(), req.RunID, req.InventionSummary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, assessmentPayload(a))
}

func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/assessments/"), "/")
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/abandon"); ok {
		if !methodOnly(w, r, http.MethodPost) {
			return
		}
		a, err := s.engine.AbandonAssessment(r.Context(), strings.Trim(id, "/"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, assessmentPayload(a))
		return
	}

	if strings.Contains(rest, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	a, err := s.engine.GetAssessment(r.Context(), rest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, assessmentPayload(a))
}

func assessmentPayload(a *assessment.NoveltyAssessment) map[string]any {
	return map[string]any{
		"ok":         true,
		"assessment": a,
		"disclaimer": assessment.Disclaimer,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "service": "novelty-engine"})
}
