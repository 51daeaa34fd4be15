package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestSnapshotIsIndependent(t *testing.T) {
	done := time.Now()
	req := &GenerationRequest{
		ID:          "01J",
		Input:       DesignInput{Description: "calm fintech", Mood: []string{"calm"}},
		Status:      StatusCompleted,
		CompletedAt: &done,
		Result: map[string]any{
			"colors": map[string]any{"primary": "#000000"},
			"list":   []any{map[string]any{"name": "Button"}},
		},
		Warnings: []string{"w"},
	}

	snap := req.Snapshot()
	snap.Input.Mood[0] = "loud"
	snap.Warnings[0] = "changed"
	snap.Result["colors"].(map[string]any)["primary"] = "#FFFFFF"
	snap.Result["list"].([]any)[0].(map[string]any)["name"] = "Card"
	*snap.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, "calm", req.Input.Mood[0])
	assert.Equal(t, "w", req.Warnings[0])
	assert.Equal(t, "#000000", req.Result["colors"].(map[string]any)["primary"])
	assert.Equal(t, "Button", req.Result["list"].([]any)[0].(map[string]any)["name"])
	assert.Equal(t, done, *req.CompletedAt)
}
