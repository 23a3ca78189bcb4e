package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yourorg/declarant/pkg/types"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicClient classifies via the Anthropic Messages API. It has no
// vector-store retrieval tool, so classification relies on the prompt alone.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

func NewAnthropicClient(apiKey, model string, maxTokens int, logger *slog.Logger) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (a *AnthropicClient) Classify(ctx context.Context, item types.Item) (types.Result, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: BuildSystemPrompt(), CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildUserPrompt(item))),
		},
	})
	if err != nil {
		return types.Result{}, fmt.Errorf("anthropic api error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			if a.logger != nil {
				a.logger.Debug("llm response", "provider", "anthropic",
					"tokens_in", message.Usage.InputTokens, "tokens_out", message.Usage.OutputTokens)
			}
			return parseResult(block.Text)
		}
	}
	return types.Result{}, errors.New("no text content in anthropic response")
}
