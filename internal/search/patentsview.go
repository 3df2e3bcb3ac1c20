package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/novelty-engine/internal/strategy"
)

const (
	PatentsViewBaseURL        = "https://search.patentsview.org"
	patentsViewPatentPath     = "/api/v1/patent/"
	patentsViewClaimPath      = "/api/v1/g_claim/"
	DefaultPageSize           = 100
	MaxPageSize               = 200
	DefaultRateLimitPerMinute = 40
)

type PatentsViewConfig struct {
	APIKey             string
	BaseURL            string
	RateLimitPerMinute int
	HTTPClient         *http.Client
}

// PatentsViewSource executes query variants against the USPTO PatentsView
// search API and serves full-document detail lookups for Level 2 assessment.
type PatentsViewSource struct {
	cfg    PatentsViewConfig
	ticker *time.Ticker
}

func NewPatentsViewSource(cfg PatentsViewConfig) (*PatentsViewSource, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("PATENTSVIEW_API_KEY not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PatentsViewBaseURL
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := time.Minute / time.Duration(cfg.RateLimitPerMinute)
	return &PatentsViewSource{cfg: cfg, ticker: time.NewTicker(interval)}, nil
}

// Close stops the rate-limit ticker. The source must not be used afterwards.
func (s *PatentsViewSource) Close() { s.ticker.Stop() }

func (s *PatentsViewSource) Name() string      { return "patentsview" }
func (s *PatentsViewSource) Type() ContentType { return ContentPatent }

type patentAPIResponse struct {
	Error     bool             `json:"error"`
	Count     int              `json:"count"`
	TotalHits int              `json:"total_hits"`
	Patents   []map[string]any `json:"patents"`
	GClaims   []map[string]any `json:"g_claims"`
}

func (s *PatentsViewSource) Execute(ctx context.Context, variant strategy.QueryVariant) ([]RawDocument, int, error) {
	if err := s.waitRateLimit(ctx); err != nil {
		return nil, 0, err
	}
	body := buildPatentQuery(variant)
	resp, statusCode, attempts, err := s.executeWithRetry(ctx, patentsViewPatentPath, body)
	if err != nil {
		if statusCode == http.StatusForbidden {
			return nil, attempts, fmt.Errorf("%w: PatentsView authentication failed, check PATENTSVIEW_API_KEY", ErrSourceUnavailable)
		}
		return nil, attempts, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	docs := make([]RawDocument, 0, len(resp.Patents))
	for _, raw := range resp.Patents {
		doc := flattenPatent(raw)
		if doc.Identifier == "" {
			continue
		}
		docs = append(docs, doc)
	}
	if variant.Label == strategy.VariantBroad && resp.TotalHits > 10000 {
		log.Printf("novelty-engine warning broad variant total_hits=%d", resp.TotalHits)
	}
	return docs, attempts, nil
}

// FetchDetail retrieves title, abstract and granted claims for one patent.
// A missing claims response is not an error; the detail degrades to
// title/abstract only.
func (s *PatentsViewSource) FetchDetail(ctx context.Context, identifier string) (Detail, error) {
	identifier = NormalizePatentID(identifier)
	if identifier == "" {
		return Detail{}, errors.New("empty patent identifier")
	}
	if err := s.waitRateLimit(ctx); err != nil {
		return Detail{}, err
	}

	body := map[string]any{
		"q": map[string]any{"patent_id": identifier},
		"f": []string{"patent_id", "patent_title", "patent_abstract"},
		"o": map[string]int{"size": 1},
	}
	resp, _, _, err := s.executeWithRetry(ctx, patentsViewPatentPath, body)
	if err != nil {
		return Detail{}, fmt.Errorf("patent detail lookup: %w", err)
	}
	if len(resp.Patents) == 0 {
		return Detail{}, fmt.Errorf("patent %s not found", identifier)
	}
	detail := Detail{
		Title:    strings.TrimSpace(str(resp.Patents[0]["patent_title"])),
		Abstract: strings.TrimSpace(str(resp.Patents[0]["patent_abstract"])),
	}

	if err := s.waitRateLimit(ctx); err != nil {
		return detail, nil
	}
	claimBody := map[string]any{
		"q": map[string]any{"patent_id": identifier},
		"f": []string{"patent_id", "claim_sequence", "claim_text"},
		"s": []map[string]string{{"claim_sequence": "asc"}},
		"o": map[string]int{"size": 100},
	}
	claimResp, _, _, err := s.executeWithRetry(ctx, patentsViewClaimPath, claimBody)
	if err != nil {
		log.Printf("novelty-engine claims_lookup_failed patent_id=%s err=%q", identifier, err.Error())
		return detail, nil
	}
	detail.Claims = joinClaims(claimResp.GClaims)
	return detail, nil
}

func joinClaims(claims []map[string]any) string {
	type claim struct {
		seq  int
		text string
	}
	parsed := make([]claim, 0, len(claims))
	for _, c := range claims {
		text := strings.TrimSpace(str(c["claim_text"]))
		if text == "" {
			continue
		}
		seq := 0
		switch v := c["claim_sequence"].(type) {
		case float64:
			seq = int(v)
		case string:
			seq, _ = strconv.Atoi(v)
		}
		parsed = append(parsed, claim{seq: seq, text: text})
	}
	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].seq < parsed[j].seq })
	parts := make([]string, 0, len(parsed))
	for _, c := range parsed {
		parts = append(parts, c.text)
	}
	return strings.Join(parts, "\n")
}

func (s *PatentsViewSource) waitRateLimit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticker.C:
		return nil
	}
}

func (s *PatentsViewSource) executeWithRetry(ctx context.Context, path string, body map[string]any) (patentAPIResponse, int, int, error) {
	var lastErr error
	statusCode := 0
	attempts := 0
	timeoutRetried := false
	for attempt := 1; attempt <= 4; attempt++ {
		attempts++
		resp, code, retryAfter, err := s.executeOnce(ctx, path, body)
		statusCode = code
		if err == nil {
			return resp, statusCode, attempts, nil
		}
		lastErr = err

		if code == http.StatusBadRequest || code == http.StatusForbidden {
			return patentAPIResponse{}, statusCode, attempts, err
		}
		if code == http.StatusTooManyRequests {
			if attempt == 4 {
				break
			}
			sleep := retryAfter
			if sleep <= 0 {
				sleep = retryBackoff(attempt)
			}
			if err := sleepCtx(ctx, sleep); err != nil {
				return patentAPIResponse{}, statusCode, attempts, err
			}
			continue
		}
		if code >= 500 || errors.Is(err, context.DeadlineExceeded) {
			if isTimeoutError(err) {
				if timeoutRetried {
					break
				}
				timeoutRetried = true
			}
			if attempt == 4 {
				break
			}
			if err := sleepCtx(ctx, retryBackoff(attempt)); err != nil {
				return patentAPIResponse{}, statusCode, attempts, err
			}
			continue
		}
		return patentAPIResponse{}, statusCode, attempts, err
	}
	return patentAPIResponse{}, statusCode, attempts, lastErr
}

func (s *PatentsViewSource) executeOnce(ctx context.Context, path string, body map[string]any) (patentAPIResponse, int, time.Duration, error) {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return patentAPIResponse{}, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.cfg.APIKey)

	res, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return patentAPIResponse{}, 0, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<20))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode == http.StatusTooManyRequests {
		return patentAPIResponse{}, res.StatusCode, retryAfter, fmt.Errorf("status code: %d", res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return patentAPIResponse{}, res.StatusCode, retryAfter, fmt.Errorf("status code: %d body=%s", res.StatusCode, string(b))
	}

	var parsed patentAPIResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return patentAPIResponse{}, res.StatusCode, retryAfter, err
	}
	if parsed.Error {
		return patentAPIResponse{}, res.StatusCode, retryAfter, fmt.Errorf("patentsview error flag true body=%s", string(b))
	}
	return parsed, res.StatusCode, retryAfter, nil
}

func buildPatentQuery(variant strategy.QueryVariant) map[string]any {
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
	text := map[string]any{"_or": []any{
		map[string]any{"_text_any": map[string]any{"patent_title": variant.Query}},
		map[string]any{"_text_any": map[string]any{"patent_abstract": variant.Query}},
	}}
	return map[string]any{
		"q": text,
		"f": []string{"patent_id", "patent_title", "patent_abstract", "patent_date", "assignees.assignee_organization"},
		"s": []map[string]string{{"patent_date": "desc"}, {"patent_id": "asc"}},
		"o": map[string]int{"size": size, "page": page},
	}
}

func flattenPatent(raw map[string]any) RawDocument {
	doc := RawDocument{
		Identifier: NormalizePatentID(str(raw["patent_id"])),
		Title:      strings.TrimSpace(str(raw["patent_title"])),
		Abstract:   strings.TrimSpace(str(raw["patent_abstract"])),
		Metadata:   map[string]string{},
	}
	if d := strings.TrimSpace(str(raw["patent_date"])); d != "" {
		doc.Metadata["grant_date"] = d
	}
	if arr, ok := raw["assignees"].([]any); ok && len(arr) > 0 {
		if m, ok := arr[0].(map[string]any); ok {
			if name := strings.TrimSpace(str(m["assignee_organization"])); name != "" {
				doc.Metadata["assignee"] = name
			}
		}
	}
	return doc
}

// NormalizePatentID canonicalizes patent identifiers so the same document
// found by different variants deduplicates: upper-cased, with separators and
// a leading country prefix stripped down to a stable form.
func NormalizePatentID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	id = strings.NewReplacer(" ", "", "-", "", "/", "", ",", "").Replace(id)
	return id
}

func parseRetryAfter(v string) time.Duration {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func retryBackoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
