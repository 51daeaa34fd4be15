package repository

import (
	"context"
	"errors"

	"github.com/aigoflow/designgen-service/internal/models"
)

var ErrNotFound = errors.New("generation not found")

// Repository aggregates all repository interfaces
type Repository interface {
	Generation() GenerationRepositoryInterface
	Event() EventRepositoryInterface
}

// GenerationRepositoryInterface stores finished generation requests
type GenerationRepositoryInterface interface {
	LogGeneration(ctx context.Context, log *models.GenerationLog) error
	GetGeneration(ctx context.Context, reqID string) (*models.GenerationLog, error)
	GetGenerationLogs(ctx context.Context, limit int) ([]*models.GenerationLog, error)
}

// EventRepositoryInterface defines event logging operations
type EventRepositoryInterface interface {
	LogEvent(ctx context.Context, level, code, msg string, meta map[string]any) error
}
