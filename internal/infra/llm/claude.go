package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"callguard/internal/handler/http/requestid"
)

// Claude implements Completer using Anthropic's Messages API.
type Claude struct {
	client anthropic.Client
	model  string
	guard  *Guard
}

// NewClaude creates a Claude client. The SDK's own retries are disabled;
// retry and circuit breaking happen in the rate limiter.
func NewClaude(cfg ClientConfig, guard *Guard) *Claude {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}

	return &Claude{
		client: anthropic.NewClient(opts...),
		model:  model,
		guard:  guard,
	}
}

// Complete implements Completer.
func (c *Claude) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	return c.guard.run(ctx, ProviderAnthropic, req, c.call)
}

// call performs one API request without retry or circuit breaking.
func (c *Claude) call(ctx context.Context, req CompletionRequest) (Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params,
		option.WithHeader(requestid.RequestIDHeader, requestid.FromContext(ctx)))
	if err != nil {
		return Completion{}, fmt.Errorf("claude api error: %w", err)
	}

	if len(message.Content) == 0 {
		return Completion{}, ErrEmptyResponse
	}
	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return Completion{}, fmt.Errorf("claude api returned unexpected content type %q", message.Content[0].Type)
	}

	out := Completion{
		ID:           message.ID,
		Provider:     ProviderAnthropic,
		Model:        string(message.Model),
		Text:         textBlock.Text,
		StopReason:   string(message.StopReason),
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
		Duration:     time.Since(start),
	}
	c.guard.recordTokens(ProviderAnthropic, out)
	return out, nil
}
