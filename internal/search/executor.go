package search

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/novelty-engine/internal/strategy"
)

// Executor fans a strategy out across all (variant × source) units and
// collects completed executions. The merge step downstream must not start
// until Run returns: every unit has then completed or definitively failed.
type Executor struct {
	sources []Source
}

func NewExecutor(sources ...Source) *Executor {
	return &Executor{sources: sources}
}

// Run executes every unit concurrently. Unit failures are absorbed into the
// execution records; Run errors only when the strategy is invalid or no unit
// at all produced results.
func (e *Executor) Run(ctx context.Context, strat strategy.SearchStrategy) ([]Execution, error) {
	if err := strategy.Validate(strat); err != nil {
		return nil, err
	}
	sources := e.selectSources(strategy.NormalizeScope(strat.Scope))
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured for scope %s", ErrSourceUnavailable, strat.Scope)
	}

	var (
		mu         sync.Mutex
		executions []Execution
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, variant := range strat.Variants {
		for _, src := range sources {
			variant, src := variant, src
			g.Go(func() error {
				exec := e.runUnit(ctx, variant, src)
				mu.Lock()
				executions = append(executions, exec)
				mu.Unlock()
				// unit failures degrade the run rather than cancel siblings
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return executions, err
	}

	succeeded := 0
	for _, exec := range executions {
		if !exec.Failed {
			succeeded++
		}
	}
	if succeeded == 0 {
		return executions, fmt.Errorf("%w: all %d execution units failed", ErrSourceUnavailable, len(executions))
	}
	return executions, nil
}

func (e *Executor) runUnit(ctx context.Context, variant strategy.QueryVariant, src Source) Execution {
	exec := Execution{
		Variant:    variant.Label,
		Source:     src.Name(),
		SourceType: src.Type(),
		Query:      variant.Query,
		Requested:  variant.PageSize,
		StartedAt:  time.Now(),
	}
	docs, calls, err := src.Execute(ctx, variant)
	exec.CompletedAt = time.Now()
	exec.APICalls = calls
	if err != nil {
		exec.Failed = true
		exec.FailReason = err.Error()
		log.Printf("novelty-engine search_unit_failed variant=%s source=%s err=%q", variant.Label, src.Name(), err.Error())
		return exec
	}
	exec.Documents = docs
	exec.ResultCount = len(docs)
	log.Printf("novelty-engine search_unit_done variant=%s source=%s results=%d api_calls=%d elapsed_ms=%d",
		variant.Label, src.Name(), len(docs), calls, exec.CompletedAt.Sub(exec.StartedAt).Milliseconds())
	return exec
}

func (e *Executor) selectSources(scope strategy.SourceScope) []Source {
	out := make([]Source, 0, len(e.sources))
	for _, src := range e.sources {
		switch scope {
		case strategy.ScopePatentOnly:
			if src.Type() == ContentPatent {
				out = append(out, src)
			}
		case strategy.ScopeScholarlyOnly:
			if src.Type() == ContentScholarly {
				out = append(out, src)
			}
		default:
			out = append(out, src)
		}
	}
	return out
}
