// Package search defines the search source boundary and executes a
// strategy's (variant × source) units concurrently.
package search

import (
	"context"
	"errors"
	"time"

	"github.com/joelkehle/novelty-engine/internal/strategy"
)

// ErrSourceUnavailable marks a source-level failure. A run degrades by
// proceeding with the remaining units; only a run with zero successful units
// fails outright.
var ErrSourceUnavailable = errors.New("search source unavailable")

type ContentType string

const (
	ContentPatent    ContentType = "patent"
	ContentScholarly ContentType = "scholarly"
)

// RawDocument is a minimally-parsed result from a source. It is consumed by
// the aggregator and not retained beyond normalization.
type RawDocument struct {
	Identifier string
	Title      string
	Abstract   string
	Metadata   map[string]string
}

// Detail is the full-document lookup used for Level 2 assessment. Absent
// fields are valid; prompts degrade by omitting the matching section.
type Detail struct {
	Title    string
	Abstract string
	Claims   string
}

// Source executes one query variant against one backing service.
type Source interface {
	Name() string
	Type() ContentType
	Execute(ctx context.Context, variant strategy.QueryVariant) (docs []RawDocument, apiCalls int, err error)
}

// Execution is the immutable run record of one (variant, source) unit.
// Documents ride along for the aggregator's merge pass and are not persisted.
type Execution struct {
	Variant     strategy.VariantLabel
	Source      string
	SourceType  ContentType
	Query       string
	Requested   int
	APICalls    int
	ResultCount int
	StartedAt   time.Time
	CompletedAt time.Time
	Failed      bool
	FailReason  string

	Documents []RawDocument
}
