package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/novelty-engine/internal/strategy"
)

const openAlexBaseURL = "https://api.openalex.org/works"

type OpenAlexConfig struct {
	BaseURL string
	// Email is sent as the mailto parameter for polite pool access.
	Email      string
	HTTPClient *http.Client
}

// OpenAlexSource queries the OpenAlex works endpoint for scholarly prior art.
// Scholarly results are recorded for audit and display; they are not scored
// or intersected by the aggregator.
type OpenAlexSource struct {
	cfg OpenAlexConfig
}

func NewOpenAlexSource(cfg OpenAlexConfig) *OpenAlexSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAlexBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAlexSource{cfg: cfg}
}

func (s *OpenAlexSource) Name() string      { return "openalex" }
func (s *OpenAlexSource) Type() ContentType { return ContentScholarly }

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	PublicationDate       string           `json:"publication_date"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

func (s *OpenAlexSource) Execute(ctx context.Context, variant strategy.QueryVariant) ([]RawDocument, int, error) {
	size := variant.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	page := variant.Page
	if page <= 0 {
		page = 1
	}

	params := url.Values{
		"search":   {variant.Query},
		"per_page": {fmt.Sprintf("%d", size)},
		"page":     {fmt.Sprintf("%d", page)},
	}
	if s.cfg.Email != "" {
		params.Set("mailto", s.cfg.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	res, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 1, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, 1, fmt.Errorf("%w: OpenAlex returned HTTP %d", ErrSourceUnavailable, res.StatusCode)
	}

	var parsed openAlexResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, 1, fmt.Errorf("%w: parsing OpenAlex response: %v", ErrSourceUnavailable, err)
	}

	docs := make([]RawDocument, 0, len(parsed.Results))
	for _, work := range parsed.Results {
		doc := RawDocument{
			Identifier: scholarlyIdentifier(work),
			Title:      strings.TrimSpace(work.Title),
			Abstract:   reconstructAbstract(work.AbstractInvertedIndex),
			Metadata:   map[string]string{},
		}
		if doc.Identifier == "" {
			continue
		}
		if work.PublicationDate != "" {
			doc.Metadata["publication_date"] = work.PublicationDate
		}
		docs = append(docs, doc)
	}
	return docs, 1, nil
}

// scholarlyIdentifier prefers the bare DOI; OpenAlex is DOI-centric.
func scholarlyIdentifier(work openAlexWork) string {
	if work.DOI != "" {
		return strings.TrimPrefix(strings.TrimSpace(work.DOI), "https://doi.org/")
	}
	return strings.TrimPrefix(strings.TrimSpace(work.ID), "https://openalex.org/")
}

// reconstructAbstract rebuilds prose from OpenAlex's inverted index
// (word → positions).
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type positioned struct {
		pos  int
		word string
	}
	words := []positioned{}
	for word, positions := range index {
		for _, p := range positions {
			words = append(words, positioned{pos: p, word: word})
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.word)
	}
	return strings.Join(parts, " ")
}
