package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/queue"
	"github.com/aigoflow/designgen-service/internal/repository"
)

// GenerationService fronts the queue for every surface (HTTP, NATS, CLI)
// and persists finished requests.
type GenerationService struct {
	queue *queue.Queue
	repo  repository.Repository
}

// NewGenerationService builds the queue with the service as its recorder.
// repo may be nil, in which case nothing is persisted.
func NewGenerationService(client completion.Client, repo repository.Repository, opts ...queue.Option) *GenerationService {
	s := &GenerationService{repo: repo}
	s.queue = queue.New(client, append(opts, queue.WithRecorder(s))...)
	return s
}

func (s *GenerationService) Queue() *queue.Queue {
	return s.queue
}

func (s *GenerationService) Submit(input models.DesignInput, source string, opts ...queue.SubmitOption) (string, error) {
	return s.queue.Submit(input, append(opts, queue.WithSource(source))...)
}

func (s *GenerationService) Subscribe(id string, fn queue.ProgressFunc) func() {
	return s.queue.Subscribe(id, fn)
}

// Get looks in the live queue first and falls back to the persisted log for
// requests that were cleared or belong to an earlier process.
func (s *GenerationService) Get(ctx context.Context, id string) (models.GenerationRequest, bool, error) {
	if req, ok := s.queue.Get(id); ok {
		return req, true, nil
	}
	if s.repo == nil {
		return models.GenerationRequest{}, false, nil
	}

	log, err := s.repo.Generation().GetGeneration(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.GenerationRequest{}, false, nil
	}
	if err != nil {
		return models.GenerationRequest{}, false, err
	}
	req, err := requestFromLog(log)
	if err != nil {
		return models.GenerationRequest{}, false, err
	}
	return req, true, nil
}

func (s *GenerationService) Cancel(id string) error {
	return s.queue.Cancel(id)
}

func (s *GenerationService) Status() models.QueueStatus {
	return s.queue.Status()
}

func (s *GenerationService) CircuitState() string {
	return s.queue.Breaker().State().String()
}

func (s *GenerationService) ClearCompleted() int {
	return s.queue.ClearCompleted()
}

func (s *GenerationService) GetGenerationLogs(ctx context.Context, limit int) ([]*models.GenerationLog, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.Generation().GetGenerationLogs(ctx, limit)
}

func (s *GenerationService) Close() {
	s.queue.Close()
}

// Record implements queue.Recorder.
func (s *GenerationService) Record(req models.GenerationRequest) {
	if s.repo == nil {
		return
	}
	ctx := context.Background()

	log := logFromRequest(req)
	if err := s.repo.Generation().LogGeneration(ctx, log); err != nil {
		slog.Error("Failed to persist generation", "req_id", req.ID, "error", err)
	}

	if req.Status == models.StatusFailed {
		_ = s.repo.Event().LogEvent(ctx, "warn", "generation.failed", req.Error, map[string]any{
			"req_id":     req.ID,
			"error_kind": req.ErrorKind,
			"attempts":   req.Attempts,
			"source":     req.Source,
		})
	}
}

func logFromRequest(req models.GenerationRequest) *models.GenerationLog {
	log := &models.GenerationLog{
		Timestamp: req.CreatedAt,
		ReqID:     req.ID,
		Source:    req.Source,
		InputJSON: toJSON(req.Input),
		Attempts:  req.Attempts,
		Status:    string(req.Status),
		ErrorKind: req.ErrorKind,
		Error:     req.Error,
	}
	if req.Result != nil {
		log.ResultJSON = toJSON(req.Result)
	}
	if len(req.Warnings) > 0 {
		log.Warnings = toJSON(req.Warnings)
	}
	if req.CompletedAt != nil {
		log.CompletedAt = *req.CompletedAt
		log.DurationMs = float64(req.CompletedAt.Sub(req.CreatedAt).Milliseconds())
	}
	return log
}

func requestFromLog(log *models.GenerationLog) (models.GenerationRequest, error) {
	req := models.GenerationRequest{
		ID:        log.ReqID,
		Source:    log.Source,
		Status:    models.Status(log.Status),
		Stage:     models.StageCompleted,
		CreatedAt: log.Timestamp,
		Error:     log.Error,
		ErrorKind: log.ErrorKind,
		Attempts:  log.Attempts,
	}
	if req.Status == models.StatusCompleted {
		req.Progress = 100
	}
	if !log.CompletedAt.IsZero() {
		t := log.CompletedAt
		req.CompletedAt = &t
	}
	if err := fromJSON(log.InputJSON, &req.Input); err != nil {
		return req, err
	}
	if err := fromJSON(log.ResultJSON, &req.Result); err != nil {
		return req, err
	}
	if err := fromJSON(log.Warnings, &req.Warnings); err != nil {
		return req, err
	}
	return req, nil
}

func toJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func fromJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// elapsed is how long a request has been known to the service.
func elapsed(req models.GenerationRequest) time.Duration {
	if req.CompletedAt != nil {
		return req.CompletedAt.Sub(req.CreatedAt)
	}
	return time.Since(req.CreatedAt)
}
