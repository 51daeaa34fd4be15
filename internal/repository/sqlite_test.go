package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/store"
)

func newTestRepo(t *testing.T) (Repository, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "designgen.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRepository(db), db
}

func TestGenerationRepository_RoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	log := &models.GenerationLog{
		Timestamp:   start,
		ReqID:       "01HZX",
		Source:      "http",
		InputJSON:   `{"description":"calm fintech"}`,
		ResultJSON:  `{"name":"Harbor"}`,
		Warnings:    `["primary and secondary colors are identical"]`,
		Attempts:    2,
		DurationMs:  1500,
		Status:      "completed",
		CompletedAt: start.Add(1500 * time.Millisecond),
	}
	require.NoError(t, repo.Generation().LogGeneration(ctx, log))

	got, err := repo.Generation().GetGeneration(ctx, "01HZX")
	require.NoError(t, err)
	assert.Equal(t, log.ReqID, got.ReqID)
	assert.Equal(t, log.ResultJSON, got.ResultJSON)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 1500.0, got.DurationMs)
	assert.WithinDuration(t, log.CompletedAt, got.CompletedAt, time.Millisecond)

	_, err = repo.Generation().GetGeneration(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerationRepository_UpsertAndList(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Generation().LogGeneration(ctx, &models.GenerationLog{
			Timestamp: time.Now(),
			ReqID:     fmt.Sprintf("req-%d", i),
			Status:    "completed",
		}))
	}
	require.NoError(t, repo.Generation().LogGeneration(ctx, &models.GenerationLog{
		Timestamp: time.Now(),
		ReqID:     "req-1",
		Status:    "failed",
		ErrorKind: "network",
	}))

	logs, err := repo.Generation().GetGenerationLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "req-2", logs[0].ReqID)

	got, err := repo.Generation().GetGeneration(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "network", got.ErrorKind)
	assert.True(t, got.CompletedAt.IsZero())

	limited, err := repo.Generation().GetGenerationLogs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEventRepository(t *testing.T) {
	repo, db := newTestRepo(t)
	require.NoError(t, repo.Event().LogEvent(context.Background(), "info", "SERVICE_START", "started", map[string]any{"k": "v"}))

	var code, meta string
	require.NoError(t, db.QueryRow(`SELECT code, meta FROM events`).Scan(&code, &meta))
	assert.Equal(t, "SERVICE_START", code)
	assert.JSONEq(t, `{"k":"v"}`, meta)
}
