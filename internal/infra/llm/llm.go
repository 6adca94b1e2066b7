// Package llm provides Claude and OpenAI completion clients whose calls are
// deduplicated and executed through the per-destination rate limiter.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"callguard/internal/handler/http/requestid"
	obsmetrics "callguard/internal/observability/metrics"
	"callguard/internal/resilience/dedup"
	"callguard/internal/resilience/ratelimiter"
)

// Provider names double as rate limiter destinations.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const defaultMaxTokens = 1024

var (
	// ErrUnknownProvider is returned for a provider that is not configured.
	ErrUnknownProvider = errors.New("llm: unknown provider")
	// ErrEmptyPrompt is returned for a request without prompt text.
	ErrEmptyPrompt = errors.New("llm: prompt cannot be empty")
	// ErrInvalidMaxTokens is returned for a negative token budget.
	ErrInvalidMaxTokens = errors.New("llm: max_tokens must not be negative")
	// ErrEmptyResponse is returned when the provider returns no text.
	ErrEmptyResponse = errors.New("llm: provider returned empty response")
)

// CompletionRequest is a single-turn completion request.
type CompletionRequest struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Validate checks the request fields a client cannot default.
func (r CompletionRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidMaxTokens, r.MaxTokens)
	}
	return nil
}

// Completion is the provider's answer. Values may be shared between
// deduplicated callers and must not be mutated.
type Completion struct {
	ID           string        `json:"id"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Text         string        `json:"text"`
	StopReason   string        `json:"stop_reason,omitempty"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// Completer produces completions.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ClientConfig configures a provider client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Guard routes provider calls through deduplication and the rate limiter.
type Guard struct {
	limiter *ratelimiter.Limiter
	dedup   *dedup.Deduplicator
	metrics *obsmetrics.Completions
	logger  *slog.Logger
}

// NewGuard creates a Guard. metrics may be nil.
func NewGuard(limiter *ratelimiter.Limiter, d *dedup.Deduplicator, m *obsmetrics.Completions, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{limiter: limiter, dedup: d, metrics: m, logger: logger}
}

type callFunc func(ctx context.Context, req CompletionRequest) (Completion, error)

// run fingerprints req, joins an identical in-flight call if there is one,
// and otherwise executes call under the provider's destination.
func (g *Guard) run(ctx context.Context, provider string, req CompletionRequest, call callFunc) (Completion, error) {
	if err := req.Validate(); err != nil {
		return Completion{}, err
	}
	req.Provider = provider

	ctx, reqID := requestid.Ensure(ctx)
	logger := g.logger.With(
		slog.String("request_id", reqID),
		slog.String("provider", provider),
		slog.String("model", req.Model),
	)

	fingerprint, err := dedup.Fingerprint(req)
	if err != nil {
		return Completion{}, err
	}

	start := time.Now()
	out, err := dedup.Do(ctx, g.dedup, provider, fingerprint, func(ctx context.Context) (Completion, error) {
		return ratelimiter.Do(ctx, g.limiter, provider, func(ctx context.Context) (Completion, error) {
			return call(ctx, req)
		})
	})
	duration := time.Since(start)

	if g.metrics != nil {
		g.metrics.RecordCompletion(provider, err == nil, duration)
	}
	if err != nil {
		logger.WarnContext(ctx, "completion failed",
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return Completion{}, err
	}

	logger.InfoContext(ctx, "completion succeeded",
		slog.String("completion_id", out.ID),
		slog.Int64("input_tokens", out.InputTokens),
		slog.Int64("output_tokens", out.OutputTokens),
		slog.Duration("duration", duration))
	return out, nil
}

func (g *Guard) recordTokens(provider string, c Completion) {
	if g.metrics != nil {
		g.metrics.RecordTokens(provider, c.InputTokens, c.OutputTokens)
	}
}

// Router dispatches requests to the Completer registered for req.Provider.
type Router struct {
	providers map[string]Completer
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{providers: make(map[string]Completer)}
}

// Register adds a Completer under name.
func (r *Router) Register(name string, c Completer) {
	r.providers[name] = c
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	return slices.Sorted(maps.Keys(r.providers))
}

// Complete implements Completer.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	c, ok := r.providers[req.Provider]
	if !ok {
		return Completion{}, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}
	return c.Complete(ctx, req)
}
