package models

import (
	"maps"
	"slices"
	"time"
)

// Status of a generation request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage of the per-request pipeline, in emission order.
type Stage string

const (
	StageValidating     Stage = "validating"
	StageBuildingPrompt Stage = "building_prompt"
	StageGenerating     Stage = "generating"
	StageParsing        Stage = "parsing"
	StageCompleted      Stage = "completed"
)

// GenerationOptions are passed through to the completion service.
type GenerationOptions struct {
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0,lte=32768"`
}

// DesignInput is the form a user fills in to describe a design system.
type DesignInput struct {
	Description  string            `json:"description" yaml:"description" validate:"required,nonblank,min=10,max=4000"`
	BrandName    string            `json:"brand_name,omitempty" yaml:"brand_name,omitempty" validate:"max=100"`
	Industry     string            `json:"industry,omitempty" yaml:"industry,omitempty" validate:"max=100"`
	Mood         []string          `json:"mood,omitempty" yaml:"mood,omitempty" validate:"max=10,dive,required,max=40"`
	PrimaryColor string            `json:"primary_color,omitempty" yaml:"primary_color,omitempty" validate:"omitempty,hexcolor"`
	Framework    string            `json:"framework,omitempty" yaml:"framework,omitempty" validate:"omitempty,oneof=react vue svelte angular html"`
	DarkMode     bool              `json:"dark_mode,omitempty" yaml:"dark_mode,omitempty"`
	Options      GenerationOptions `json:"options" yaml:"options"`
}

// GenerationRequest is one user-initiated generation job. Only the queue
// mutates it; everyone else works on copies from Snapshot.
type GenerationRequest struct {
	ID          string         `json:"id"`
	Input       DesignInput    `json:"input"`
	Source      string         `json:"source,omitempty"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	Stage       Stage          `json:"stage,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Attempts    int            `json:"attempts"`
}

// Snapshot returns a copy that shares no mutable state with r.
func (r *GenerationRequest) Snapshot() GenerationRequest {
	cp := *r
	cp.Input.Mood = slices.Clone(r.Input.Mood)
	cp.Warnings = slices.Clone(r.Warnings)
	cp.Result = deepCopy(r.Result)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopy(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

// GenerationProgress is an ephemeral progress event for one request.
type GenerationProgress struct {
	RequestID string    `json:"request_id"`
	Stage     Stage     `json:"stage"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueStatus counts requests by status at call time.
type QueueStatus struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
