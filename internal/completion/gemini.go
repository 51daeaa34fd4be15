package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/aigoflow/designgen-service/internal/generr"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient generates completions with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, generr.New(generr.KindAuthentication, "Gemini API key is required")
	}
	if model == "" || model == "default" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	genCfg := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	slog.Debug("Sending Gemini request", "model", c.model, "prompt_len", len(prompt))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", tagGeminiError(ctx, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", generr.New(generr.KindParse, "Gemini returned an empty response")
	}
	return text, nil
}

// tagGeminiError maps API status codes to kinds. Anything else reaching here
// failed before a response arrived and is treated as a transport problem.
func tagGeminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return generr.Wrap(generr.KindCancelled, err, "Gemini request cancelled")
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return geminiStatusError(apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return geminiStatusError(apiErrPtr.Code, apiErrPtr.Message, err)
	}

	if classified := generr.Classify(err); generr.KindOf(classified) != generr.KindUnknown {
		return classified
	}
	return generr.Wrap(generr.KindNetwork, err, "Gemini request failed")
}

func geminiStatusError(code int, msg string, cause error) error {
	tagged := generr.FromStatus(code, fmt.Sprintf("Gemini API error %d: %s", code, msg))
	tagged.Err = cause
	return tagged
}
