package assessment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is the model used when none is configured.
var DefaultModel = string(anthropic.ModelClaudeSonnet4_20250514)

const (
	defaultMaxTokens = 4096

	// FinishLength is the finish reason reported for a length-limited stop.
	// It feeds the interpreter's truncation-closing step.
	FinishLength = "length"
	FinishStop   = "stop"
)

const systemPrompt = "You are a patent novelty analyst. You produce conservative, structured " +
	"assessments of inventions against prior art and do not invent facts. Return strict JSON only."

// ModelResult is the outcome of one model invocation at the execution
// boundary. The admission gateway that meters and prices calls sits outside
// this core; the idempotency key is its dedupe handle.
type ModelResult struct {
	OutputText   string
	OutputTokens int
	ModelClass   string
	FinishReason string
}

// Gateway is the model execution boundary.
type Gateway interface {
	Invoke(ctx context.Context, taskCode, prompt, idempotencyKey string) (ModelResult, error)
}

// IdempotencyKey derives the stable per-call key from the assessment, stage
// and optional candidate so a retried call never creates duplicate audit
// records or double-counts usage.
func IdempotencyKey(assessmentID, stage, candidateID string) string {
	sum := sha256.Sum256([]byte(assessmentID + "|" + stage + "|" + candidateID))
	return hex.EncodeToString(sum[:])[:16]
}

type llmFailureClass int

const (
	failureTimeout llmFailureClass = iota + 1
	failureRateLimit
	failureServer
	failureClient
)

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

// AnthropicMessager is the seam between the gateway and the SDK client, so
// tests can substitute a fake.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicGateway struct {
	messages AnthropicMessager
	model    string
}

func NewAnthropicGateway(messages AnthropicMessager, model string) *AnthropicGateway {
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicGateway{messages: messages, model: model}
}

func NewAnthropicGatewayFromEnv() (*AnthropicGateway, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	model := strings.TrimSpace(os.Getenv("NOVELTY_LLM_MODEL"))
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicGateway(&c.Messages, model), nil
}

func (g *AnthropicGateway) ModelName() string { return g.model }

// Invoke sends one prompt. Transient transport failures (timeout, rate limit,
// server error) are retried up to three attempts under the same idempotency
// key; client errors fail immediately.
func (g *AnthropicGateway) Invoke(ctx context.Context, taskCode, prompt, idempotencyKey string) (ModelResult, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		start := time.Now()
		resp, err := g.messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(g.model),
			MaxTokens:   defaultMaxTokens,
			System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
			Temperature: anthropic.Float(0),
		}, option.WithHeader("Idempotency-Key", idempotencyKey))
		if err != nil {
			lastErr = err
			class := classifyTransportError(err)
			log.Printf("novelty-engine llm_transport_error task=%s attempt=%d class=%d elapsed_ms=%d err=%q",
				taskCode, attempt, class, time.Since(start).Milliseconds(), err.Error())
			if attempt < 3 && (class == failureTimeout || class == failureRateLimit || class == failureServer) {
				if serr := sleepBackoff(ctx, attempt); serr != nil {
					return ModelResult{}, fmt.Errorf("%w: %v", ErrModelCallFailed, serr)
				}
				continue
			}
			return ModelResult{}, fmt.Errorf("%w: %v", ErrModelCallFailed, err)
		}

		var sb strings.Builder
		for _, b := range resp.Content {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		finish := FinishStop
		if resp.StopReason == anthropic.StopReasonMaxTokens {
			finish = FinishLength
		}
		log.Printf("novelty-engine llm_call_done task=%s attempt=%d finish=%s output_tokens=%d elapsed_ms=%d",
			taskCode, attempt, finish, resp.Usage.OutputTokens, time.Since(start).Milliseconds())
		return ModelResult{
			OutputText:   sb.String(),
			OutputTokens: int(resp.Usage.OutputTokens),
			ModelClass:   g.model,
			FinishReason: finish,
		}, nil
	}
	return ModelResult{}, fmt.Errorf("%w: %v", ErrModelCallFailed, lastErr)
}

func classifyTransportError(err error) llmFailureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	m := statusCodeRe.FindStringSubmatch(msg)
	if len(m) == 2 {
		switch {
		case strings.HasPrefix(m[1], "429"):
			return failureRateLimit
		case strings.HasPrefix(m[1], "5"):
			return failureServer
		case strings.HasPrefix(m[1], "4"):
			return failureClient
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "status 429"):
		return failureRateLimit
	case strings.Contains(msg, "status 4"):
		return failureClient
	default:
		return failureServer
	}
}

func sleepBackoff(ctx context.Context, attempt int) error {
	var d time.Duration
	switch attempt {
	case 1:
		d = 1 * time.Second
	case 2:
		d = 2 * time.Second
	default:
		d = 4 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
