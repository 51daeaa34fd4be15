package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/store"
)

// SQLiteRepository implements Repository interface using SQLite
type SQLiteRepository struct {
	generationRepo GenerationRepositoryInterface
	eventRepo      EventRepositoryInterface
}

func NewSQLiteRepository(db *store.DB) Repository {
	return &SQLiteRepository{
		generationRepo: &SQLiteGenerationRepository{db: db},
		eventRepo:      &SQLiteEventRepository{db: db},
	}
}

func (r *SQLiteRepository) Generation() GenerationRepositoryInterface {
	return r.generationRepo
}

func (r *SQLiteRepository) Event() EventRepositoryInterface {
	return r.eventRepo
}

// SQLiteGenerationRepository handles generation logging
type SQLiteGenerationRepository struct {
	db *store.DB
}

func (r *SQLiteGenerationRepository) LogGeneration(ctx context.Context, log *models.GenerationLog) error {
	return r.db.Gen(store.Generation{
		Start:       log.Timestamp,
		ReqID:       log.ReqID,
		Source:      log.Source,
		InputJSON:   log.InputJSON,
		ResultJSON:  log.ResultJSON,
		Warnings:    log.Warnings,
		Attempts:    log.Attempts,
		Duration:    time.Duration(log.DurationMs) * time.Millisecond,
		Status:      log.Status,
		ErrorKind:   log.ErrorKind,
		Error:       log.Error,
		CompletedAt: log.CompletedAt,
	})
}

func (r *SQLiteGenerationRepository) GetGeneration(ctx context.Context, reqID string) (*models.GenerationLog, error) {
	g, err := r.db.GetGen(reqID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toLog(g), nil
}

func (r *SQLiteGenerationRepository) GetGenerationLogs(ctx context.Context, limit int) ([]*models.GenerationLog, error) {
	gens, err := r.db.ListGen(limit)
	if err != nil {
		return nil, err
	}
	logs := make([]*models.GenerationLog, 0, len(gens))
	for _, g := range gens {
		logs = append(logs, toLog(g))
	}
	return logs, nil
}

func toLog(g *store.Generation) *models.GenerationLog {
	return &models.GenerationLog{
		Timestamp:   g.Start,
		ReqID:       g.ReqID,
		Source:      g.Source,
		InputJSON:   g.InputJSON,
		ResultJSON:  g.ResultJSON,
		Warnings:    g.Warnings,
		Attempts:    g.Attempts,
		DurationMs:  float64(g.Duration.Milliseconds()),
		Status:      g.Status,
		ErrorKind:   g.ErrorKind,
		Error:       g.Error,
		CompletedAt: g.CompletedAt,
	}
}

// SQLiteEventRepository handles event logging
type SQLiteEventRepository struct {
	db *store.DB
}

func (r *SQLiteEventRepository) LogEvent(ctx context.Context, level, code, msg string, meta map[string]any) error {
	r.db.Event(level, code, msg, meta)
	return nil
}
