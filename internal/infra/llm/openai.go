package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Completer using the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	guard  *Guard
}

// NewOpenAI creates an OpenAI client. BaseURL, when set, replaces the API
// root and must include the version path (for example https://host/v1).
func NewOpenAI(cfg ClientConfig, guard *Guard) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		guard:  guard,
	}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if req.Model == "" {
		req.Model = o.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	return o.guard.run(ctx, ProviderOpenAI, req, o.call)
}

// call performs one API request without retry or circuit breaking.
func (o *OpenAI) call(ctx context.Context, req CompletionRequest) (Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  messages,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("openai api error: %w", err)
	}

	// Guard the index; an empty choices array is a provider fault.
	if len(resp.Choices) == 0 {
		return Completion{}, ErrEmptyResponse
	}

	out := Completion{
		ID:           resp.ID,
		Provider:     ProviderOpenAI,
		Model:        resp.Model,
		Text:         resp.Choices[0].Message.Content,
		StopReason:   string(resp.Choices[0].FinishReason),
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
		Duration:     time.Since(start),
	}
	o.guard.recordTokens(ProviderOpenAI, out)
	return out, nil
}
