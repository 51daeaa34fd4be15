package response

import (
	"log/slog"

	"github.com/aigoflow/designgen-service/internal/generr"
)

// Result is a validated, sanitized design-system payload.
type Result struct {
	Value    map[string]any
	Warnings []string
	Strategy Strategy
}

// Pipeline turns raw completion text into a trusted value:
// extraction, then validation, then sanitization.
type Pipeline struct {
	logger *slog.Logger
}

func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger}
}

// Process fails with a parse error when nothing can be extracted and with a
// validation error (details attached) when the shape is wrong.
func (p *Pipeline) Process(raw string) (*Result, error) {
	value, strategy, err := Extract(raw)
	if err != nil {
		p.logger.Debug("Extraction failed", "text_len", len(raw), "error", err)
		return nil, err
	}

	check := Validate(value)
	if !check.Valid {
		p.logger.Debug("Generated payload failed validation",
			"strategy", strategy,
			"errors", len(check.Errors))
		return nil, generr.Validation("generated design system is invalid", check.Errors)
	}

	clean := SanitizeObject(value)
	p.logger.Debug("Response processed",
		"strategy", strategy,
		"warnings", len(check.Warnings))

	return &Result{
		Value:    clean,
		Warnings: check.Warnings,
		Strategy: strategy,
	}, nil
}
