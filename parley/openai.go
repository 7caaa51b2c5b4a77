package parley

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Completer is the single-shot completion contract the pipeline
// depends on. No conversation state is carried between calls.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient is the subset of the go-openai client the bot uses.
// Kept narrow so tests can substitute a fake.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// OpenAI wraps the completion client with pacing, a per-call timeout
// and logging.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	clientCfg := openai.DefaultConfig(config.APIKey)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	rps := config.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultOpenAIMaxRequestsPerSecond
	}

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		config:         config,
		logger:         newLogger("openai", config.LogLevel),
		requestLimiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Complete sends a single user message as a chat completion request
// and returns the raw response text. Callers sanitize the result.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("error waiting for request limiter: %w", err)
	}

	timeout := o.config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultOpenAIRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	resp, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: o.config.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices (id: %s)", resp.ID)
	}

	o.logger.Info(
		"chat completion finished",
		"model", resp.Model,
		"duration", time.Since(started),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}
