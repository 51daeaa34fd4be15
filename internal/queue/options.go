package queue

import (
	"log/slog"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/prompt"
	"github.com/aigoflow/designgen-service/internal/resilience"
	"github.com/aigoflow/designgen-service/internal/response"
)

type Option func(*Queue)

func WithMaxConcurrent(n int) Option {
	return func(q *Queue) { q.maxConcurrent = n }
}

func WithPromptBuilder(b *prompt.Builder) Option {
	return func(q *Queue) { q.builder = b }
}

func WithPipeline(p *response.Pipeline) Option {
	return func(q *Queue) { q.pipeline = p }
}

func WithRetrier(r *resilience.Retrier) Option {
	return func(q *Queue) { q.retrier = r }
}

// WithBreaker shares a breaker, e.g. with the health service.
func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(q *Queue) { q.breaker = b }
}

func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

func WithMetrics(m Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithIDGenerator replaces ULID request ids.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// WithDefaultOptions sets the completion options used when the input leaves
// them zero.
func WithDefaultOptions(o completion.Options) Option {
	return func(q *Queue) { q.defaults = o }
}

type submitOptions struct {
	progress []ProgressFunc
	source   string
}

type SubmitOption func(*submitOptions)

// WithProgress subscribes fn before the request can be admitted, so it sees
// every event.
func WithProgress(fn ProgressFunc) SubmitOption {
	return func(o *submitOptions) { o.progress = append(o.progress, fn) }
}

// WithSource tags the request with the surface that submitted it.
func WithSource(source string) SubmitOption {
	return func(o *submitOptions) { o.source = source }
}
