package classify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/declarant/internal/config"
	"github.com/yourorg/declarant/pkg/types"
)

// Classifier resolves one product description to a tariff code. Every outcome
// other than a well-formed result is reported as an error; the orchestrator
// substitutes a sentinel in that case.
type Classifier interface {
	Classify(ctx context.Context, item types.Item) (types.Result, error)
}

// New builds a Classifier for the configured provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Classifier, error) {
	switch cfg.Provider {
	case "", "openai":
		return &Client{
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			VectorStoreID: cfg.VectorStoreID,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			HTTPClient:    &http.Client{Timeout: 120 * time.Second},
			Logger:        logger,
		}, nil
	case "anthropic":
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model, cfg.MaxTokens, logger), nil
	}
	return nil, fmt.Errorf("unknown classification provider %q", cfg.Provider)
}
