package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/aigoflow/designgen-service/internal/config"
)

// Options are the per-call generation parameters. Zero values mean the
// backend default.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Client turns a prompt into raw model text. Implementations tag their
// failures with generr kinds so the retrier can decide what to retry.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Closer is implemented by clients that hold a connection.
type Closer interface {
	Close() error
}

// New builds the client selected by COMPLETION_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	var (
		client Client
		err    error
	)
	switch strings.ToLower(cfg.CompletionBackend) {
	case "", "nats":
		client, err = NewNATSClient(cfg.NatsURL, cfg.ServiceName,
			WithSubjectPrefix(cfg.InferenceSubject),
			WithModel(cfg.CompletionModel),
			WithTimeout(cfg.CompletionTimeout))
	case "gemini":
		client, err = NewGeminiClient(ctx, cfg.CompletionAPIKey, cfg.CompletionModel)
	case "openai":
		client, err = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.CompletionAPIKey,
			BaseURL: cfg.CompletionBaseURL,
			Model:   cfg.CompletionModel,
			Timeout: cfg.CompletionTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown completion backend %q", cfg.CompletionBackend)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// WithDefaults fills zero fields from def.
func (o Options) WithDefaults(def Options) Options {
	if o.Temperature == 0 {
		o.Temperature = def.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = def.MaxTokens
	}
	return o
}
