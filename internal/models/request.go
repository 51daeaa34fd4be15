package models

import "time"

// GenerationLog is the persisted record of a finished generation request
type GenerationLog struct {
	Timestamp   time.Time `json:"ts"`
	ReqID       string    `json:"req_id"`
	Source      string    `json:"source"`
	InputJSON   string    `json:"input_json"`
	ResultJSON  string    `json:"result_json"`
	Warnings    string    `json:"warnings"`
	Attempts    int       `json:"attempts"`
	DurationMs  float64   `json:"dur_ms"`
	Status      string    `json:"status"`
	ErrorKind   string    `json:"error_kind"`
	Error       string    `json:"error"`
	CompletedAt time.Time `json:"completed_at"`
}
