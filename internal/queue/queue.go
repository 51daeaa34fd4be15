package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/prompt"
	"github.com/aigoflow/designgen-service/internal/resilience"
	"github.com/aigoflow/designgen-service/internal/response"
)

const DefaultMaxConcurrent = 3

var (
	ErrNotFound = errors.New("generation request not found")
	ErrTerminal = errors.New("generation request already finished")
	ErrClosed   = errors.New("queue is closed")
)

// ProgressFunc receives progress events for one request.
type ProgressFunc func(models.GenerationProgress)

// Recorder receives the final snapshot of every request that reaches a
// terminal status.
type Recorder interface {
	Record(req models.GenerationRequest)
}

// Metrics is the subset of instrumentation the queue drives.
type Metrics interface {
	ObserveGeneration(status models.Status, kind generr.Kind, elapsed time.Duration)
	ObserveAttempt(outcome string)
	SetQueueDepth(pending, processing int)
}

type subscriber struct {
	id int
	fn ProgressFunc
}

// Queue admits generation requests in FIFO order and runs at most
// maxConcurrent of them at a time, one goroutine each.
type Queue struct {
	client        completion.Client
	builder       *prompt.Builder
	pipeline      *response.Pipeline
	retrier       *resilience.Retrier
	breaker       *resilience.CircuitBreaker
	recorder      Recorder
	metrics       Metrics
	logger        *slog.Logger
	newID         func() string
	defaults      completion.Options
	maxConcurrent int
	validator     *inputValidator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	requests    map[string]*models.GenerationRequest
	order       []string
	processing  map[string]context.CancelFunc
	subscribers map[string][]subscriber
	nextSubID   int
	closed      bool
}

func New(client completion.Client, opts ...Option) *Queue {
	q := &Queue{
		client:        client,
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.Default(),
		newID:         func() string { return ulid.Make().String() },
		validator:     newInputValidator(),
		requests:      make(map[string]*models.GenerationRequest),
		processing:    make(map[string]context.CancelFunc),
		subscribers:   make(map[string][]subscriber),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.maxConcurrent < 1 {
		q.maxConcurrent = 1
	}
	if q.builder == nil {
		q.builder = prompt.NewBuilder()
	}
	if q.pipeline == nil {
		q.pipeline = response.NewPipeline(q.logger)
	}
	if q.breaker == nil {
		q.breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig(), resilience.WithBreakerLogger(q.logger))
	}
	if q.retrier == nil {
		q.retrier = resilience.NewRetrier(resilience.DefaultRetryPolicy(), resilience.WithRetryLogger(q.logger))
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Breaker exposes the circuit breaker shared by all requests.
func (q *Queue) Breaker() *resilience.CircuitBreaker {
	return q.breaker
}

// MaxConcurrent returns the configured number of processing slots.
func (q *Queue) MaxConcurrent() int {
	return q.maxConcurrent
}

// Submit validates input and enqueues a new request. Invalid input returns a
// KindValidation error listing every problem and creates nothing.
func (q *Queue) Submit(input models.DesignInput, opts ...SubmitOption) (string, error) {
	if err := q.validator.Check(input); err != nil {
		return "", err
	}

	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	id := q.newID()
	req := &models.GenerationRequest{
		ID:        id,
		Input:     input,
		Source:    so.source,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	if _, exists := q.requests[id]; exists {
		q.mu.Unlock()
		return "", fmt.Errorf("duplicate request id %s", id)
	}
	q.requests[id] = req
	q.order = append(q.order, id)
	for _, fn := range so.progress {
		q.addSubscriberLocked(id, fn)
	}
	q.admitLocked()
	pending, processing := q.depthLocked()
	q.mu.Unlock()

	q.logger.Info("Generation queued", "req_id", id, "source", so.source, "pending", pending, "processing", processing)
	q.reportDepth(pending, processing)
	return id, nil
}

// Subscribe registers fn for progress events of id. Unknown and finished
// requests emit nothing more, so they get a no-op unsubscribe.
func (q *Queue) Subscribe(id string, fn ProgressFunc) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req, ok := q.requests[id]; !ok || req.Status.Terminal() {
		return func() {}
	}
	subID := q.addSubscriberLocked(id, fn)
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		subs := q.subscribers[id]
		for i, s := range subs {
			if s.id == subID {
				q.subscribers[id] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(q.subscribers[id]) == 0 {
			delete(q.subscribers, id)
		}
	}
}

func (q *Queue) addSubscriberLocked(id string, fn ProgressFunc) int {
	q.nextSubID++
	q.subscribers[id] = append(q.subscribers[id], subscriber{id: q.nextSubID, fn: fn})
	return q.nextSubID
}

// Get returns a copy of the request.
func (q *Queue) Get(id string) (models.GenerationRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.requests[id]
	if !ok {
		return models.GenerationRequest{}, false
	}
	return req.Snapshot(), true
}

// List returns copies of all known requests in submission order.
func (q *Queue) List() []models.GenerationRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.GenerationRequest, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.requests[id].Snapshot())
	}
	return out
}

// Status counts requests by status at call time.
func (q *Queue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	var st models.QueueStatus
	for _, req := range q.requests {
		switch req.Status {
		case models.StatusPending:
			st.Pending++
		case models.StatusProcessing:
			st.Processing++
		case models.StatusCompleted:
			st.Completed++
		case models.StatusFailed:
			st.Failed++
		}
	}
	st.Total = len(q.requests)
	return st
}

// ClearCompleted drops terminal requests and their subscribers.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	removed := 0
	for _, id := range q.order {
		if q.requests[id].Status.Terminal() {
			delete(q.requests, id)
			delete(q.subscribers, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	clear(q.order[len(kept):])
	q.order = kept
	if removed > 0 {
		q.logger.Info("Cleared finished generations", "count", removed)
	}
	return removed
}

// Cancel fails a pending request immediately, or cancels the context of a
// processing one so it fails with KindCancelled at its next checkpoint.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	req, ok := q.requests[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	switch req.Status {
	case models.StatusProcessing:
		cancel := q.processing[id]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		q.logger.Info("Cancelling generation", "req_id", id)
		return nil
	case models.StatusPending:
		err := generr.New(generr.KindCancelled, "generation cancelled before start")
		fin := q.failPendingLocked(req, err)
		q.mu.Unlock()
		q.logger.Info("Cancelled queued generation", "req_id", id)
		q.deliverFinal(fin)
		return nil
	default:
		q.mu.Unlock()
		return ErrTerminal
	}
}

// Close cancels every in-flight request, fails the pending ones and waits
// for processing goroutines to return.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	var finals []finalization
	for _, id := range q.order {
		req := q.requests[id]
		if req.Status == models.StatusPending {
			finals = append(finals, q.failPendingLocked(req, generr.New(generr.KindCancelled, "queue closed")))
		}
	}
	q.mu.Unlock()

	q.cancel()
	for _, fin := range finals {
		q.deliverFinal(fin)
	}
	q.wg.Wait()
	q.logger.Info("Queue closed")
}

// admitLocked starts pending requests in submission order while slots are free.
func (q *Queue) admitLocked() {
	if q.closed {
		return
	}
	for _, id := range q.order {
		if len(q.processing) >= q.maxConcurrent {
			return
		}
		req := q.requests[id]
		if req.Status != models.StatusPending {
			continue
		}
		ctx, cancel := context.WithCancel(q.ctx)
		req.Status = models.StatusProcessing
		q.processing[id] = cancel
		q.wg.Add(1)
		go q.run(ctx, id, req.Input)
	}
}

func (q *Queue) depthLocked() (pending, processing int) {
	for _, req := range q.requests {
		if req.Status == models.StatusPending {
			pending++
		}
	}
	return pending, len(q.processing)
}

func (q *Queue) reportDepth(pending, processing int) {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(pending, processing)
	}
}

func (q *Queue) run(ctx context.Context, id string, input models.DesignInput) {
	defer q.wg.Done()
	start := time.Now()

	q.logger.Debug("Generation started", "req_id", id)
	result, err := q.process(ctx, id, input)
	q.finish(id, result, err, start)
}

// process runs the per-request stages. Each stage is announced before it runs.
func (q *Queue) process(ctx context.Context, id string, input models.DesignInput) (*response.Result, error) {
	q.advance(id, models.StageValidating, 10, "Validating input")
	if err := q.validator.Check(input); err != nil {
		return nil, err
	}

	q.advance(id, models.StageBuildingPrompt, 25, "Building prompt")
	text, err := q.builder.Build(input)
	if err != nil {
		return nil, err
	}

	q.advance(id, models.StageGenerating, 40, "Generating design system")
	opts := completion.Options{
		Temperature: input.Options.Temperature,
		MaxTokens:   input.Options.MaxTokens,
	}.WithDefaults(q.defaults)

	var raw string
	err = q.retrier.Do(ctx, func(ctx context.Context) error {
		return q.breaker.Execute(ctx, func(ctx context.Context) error {
			q.countAttempt(id)
			out, err := q.client.Complete(ctx, text, opts)
			q.observeAttempt(err)
			if err != nil {
				return err
			}
			raw = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	q.advance(id, models.StageParsing, 80, "Parsing response")
	result, err := q.pipeline.Process(raw)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, generr.Wrap(generr.KindCancelled, err, "generation cancelled")
	}
	return result, nil
}

func (q *Queue) countAttempt(id string) {
	q.mu.Lock()
	if req, ok := q.requests[id]; ok {
		req.Attempts++
	}
	q.mu.Unlock()
}

func (q *Queue) observeAttempt(err error) {
	if q.metrics == nil {
		return
	}
	if err == nil {
		q.metrics.ObserveAttempt("success")
		return
	}
	q.metrics.ObserveAttempt(string(generr.KindOf(err)))
}

// advance records the stage on the request and notifies subscribers.
func (q *Queue) advance(id string, stage models.Stage, progress int, msg string) {
	q.mu.Lock()
	req, ok := q.requests[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	req.Stage = stage
	if progress > req.Progress {
		req.Progress = progress
	}
	subs := q.subscribersLocked(id)
	q.mu.Unlock()

	deliver(subs, models.GenerationProgress{
		RequestID: id,
		Stage:     stage,
		Progress:  progress,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}

func (q *Queue) subscribersLocked(id string) []subscriber {
	subs := q.subscribers[id]
	if len(subs) == 0 {
		return nil
	}
	return append([]subscriber(nil), subs...)
}

func deliver(subs []subscriber, ev models.GenerationProgress) {
	for _, s := range subs {
		s.fn(ev)
	}
}

// finalization carries everything needed to publish a terminal transition
// after the queue lock is released.
type finalization struct {
	snapshot models.GenerationRequest
	subs     []subscriber
	event    models.GenerationProgress
	elapsed  time.Duration
	pending  int
	running  int
}

func (q *Queue) finish(id string, result *response.Result, err error, start time.Time) {
	now := time.Now().UTC()

	q.mu.Lock()
	req, ok := q.requests[id]
	delete(q.processing, id)
	if !ok {
		q.admitLocked()
		q.mu.Unlock()
		return
	}

	req.CompletedAt = &now
	req.Stage = models.StageCompleted
	ev := models.GenerationProgress{RequestID: id, Stage: models.StageCompleted, Timestamp: now}
	if err != nil {
		req.Status = models.StatusFailed
		req.Error = err.Error()
		req.ErrorKind = string(generr.KindOf(err))
		ev.Message = "Generation failed"
		ev.Detail = err.Error()
	} else {
		req.Status = models.StatusCompleted
		req.Progress = 100
		req.Result = result.Value
		req.Warnings = result.Warnings
		ev.Progress = 100
		ev.Message = "Design system generated"
		if len(result.Warnings) > 0 {
			ev.Detail = strings.Join(result.Warnings, "; ")
		}
	}

	fin := finalization{
		snapshot: req.Snapshot(),
		subs:     q.subscribersLocked(id),
		event:    ev,
		elapsed:  time.Since(start),
	}
	q.admitLocked()
	fin.pending, fin.running = q.depthLocked()
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("Generation failed",
			"req_id", id,
			"kind", fin.snapshot.ErrorKind,
			"attempts", fin.snapshot.Attempts,
			"error", err)
	} else {
		q.logger.Info("Generation completed",
			"req_id", id,
			"attempts", fin.snapshot.Attempts,
			"warnings", len(fin.snapshot.Warnings),
			"strategy", result.Strategy,
			"duration_ms", fin.elapsed.Milliseconds())
	}
	q.deliverFinal(fin)
}

// failPendingLocked moves a pending request straight to failed.
func (q *Queue) failPendingLocked(req *models.GenerationRequest, err error) finalization {
	now := time.Now().UTC()
	req.Status = models.StatusFailed
	req.Stage = models.StageCompleted
	req.Error = err.Error()
	req.ErrorKind = string(generr.KindOf(err))
	req.CompletedAt = &now

	fin := finalization{
		snapshot: req.Snapshot(),
		subs:     q.subscribersLocked(req.ID),
		event: models.GenerationProgress{
			RequestID: req.ID,
			Stage:     models.StageCompleted,
			Message:   "Generation failed",
			Detail:    err.Error(),
			Timestamp: now,
		},
	}
	fin.pending, fin.running = q.depthLocked()
	return fin
}

func (q *Queue) deliverFinal(fin finalization) {
	deliver(fin.subs, fin.event)
	if q.recorder != nil {
		q.recorder.Record(fin.snapshot)
	}
	if q.metrics != nil {
		q.metrics.ObserveGeneration(fin.snapshot.Status, generr.Kind(fin.snapshot.ErrorKind), fin.elapsed)
	}
	q.reportDepth(fin.pending, fin.running)
}
