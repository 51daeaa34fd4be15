package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/resilience"
)

func TestMain(m *testing.M) {
	// genai links in opencensus, whose view worker starts in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const designJSON = "Here you go:\n```json\n" + `{
  "name": "Harbor",
  "colors": {"primary": "#1E3A8A", "secondary": "#F59E0B", "neutral": {"100": "#F3F4F6", "900": "#111827"}},
  "typography": {"fontFamilies": {"heading": "Inter", "body": "Source Serif 4"}, "fontSizes": {"base": "16px"}},
  "spacing": {"scale": [0, 4, 8, 16]},
  "components": [{"name": "Button", "onclick": "alert(1)"}]
}` + "\n```"

type reply struct {
	text string
	err  error
}

// fakeClient replays scripted replies; the last one repeats. When release is
// set, every call blocks until it is closed or ctx ends.
type fakeClient struct {
	mu      sync.Mutex
	script  []reply
	calls   int
	prompts []string
	release chan struct{}
	started chan struct{}
}

func (f *fakeClient) Complete(ctx context.Context, prompt string, _ completion.Options) (string, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if len(f.script) == 0 {
		return designJSON, nil
	}
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i].text, f.script[i].err
}

func (f *fakeClient) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu   sync.Mutex
	reqs []models.GenerationRequest
}

func (r *recorder) Record(req models.GenerationRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.reqs))
	for i, req := range r.reqs {
		ids[i] = req.ID
	}
	return ids
}

type eventLog struct {
	mu     sync.Mutex
	events []models.GenerationProgress
}

func (l *eventLog) add(ev models.GenerationProgress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []models.GenerationProgress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.GenerationProgress(nil), l.events...)
}

type sleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleeps) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("req-%02d", n)
	}
}

func newTestQueue(t *testing.T, client completion.Client, opts ...Option) *Queue {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	base := []Option{
		WithLogger(logger),
		WithIDGenerator(sequentialIDs()),
		WithRetrier(resilience.NewRetrier(resilience.DefaultRetryPolicy(),
			resilience.WithSleep((&sleeps{}).sleep),
			resilience.WithRetryLogger(logger))),
	}
	q := New(client, append(base, opts...)...)
	t.Cleanup(q.Close)
	return q
}

func validInput(desc string) models.DesignInput {
	return models.DesignInput{Description: desc, Mood: []string{"calm"}}
}

func waitTerminal(t *testing.T, q *Queue, id string) models.GenerationRequest {
	t.Helper()
	var req models.GenerationRequest
	require.Eventually(t, func() bool {
		var ok bool
		req, ok = q.Get(id)
		return ok && req.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return req
}

func TestSubmit_InvalidInputCreatesNothing(t *testing.T) {
	q := newTestQueue(t, &fakeClient{})

	_, err := q.Submit(models.DesignInput{
		Description:  "   ",
		PrimaryColor: "blue",
		Framework:    "flash",
		Options:      models.GenerationOptions{Temperature: 3},
	})
	require.Error(t, err)
	assert.Equal(t, generr.KindValidation, generr.KindOf(err))

	var ge *generr.Error
	require.ErrorAs(t, err, &ge)
	assert.ElementsMatch(t, []string{
		"description is required",
		`primary_color must be a hex color, got "blue"`,
		"framework must be one of [react vue svelte angular html]",
		"options.temperature must be <= 2",
	}, ge.Details)

	assert.Equal(t, models.QueueStatus{}, q.Status())
}

func TestSubmit_CompletesWithSanitizedResult(t *testing.T) {
	client := &fakeClient{}
	rec := &recorder{}
	q := newTestQueue(t, client, WithRecorder(rec))

	id, err := q.Submit(validInput("A calm banking app for retirees"))
	require.NoError(t, err)

	req := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.Equal(t, 100, req.Progress)
	assert.Equal(t, 1, req.Attempts)
	require.NotNil(t, req.CompletedAt)
	assert.Equal(t, "Harbor", req.Result["name"])

	components := req.Result["components"].([]any)
	assert.NotContains(t, components[0].(map[string]any), "onclick")

	require.Eventually(t, func() bool { return len(rec.IDs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, client.Prompts()[0], "A calm banking app for retirees")
}

func TestAdmission_RespectsMaxConcurrent(t *testing.T) {
	client := &fakeClient{release: make(chan struct{})}
	q := newTestQueue(t, client, WithMaxConcurrent(2))

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Submit(validInput(fmt.Sprintf("design system number %d", i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	st := q.Status()
	assert.Equal(t, 2, st.Processing)
	assert.Equal(t, 3, st.Pending)
	assert.Equal(t, 5, st.Total)

	close(client.release)
	for _, id := range ids {
		assert.Equal(t, models.StatusCompleted, waitTerminal(t, q, id).Status)
	}
	assert.Equal(t, models.QueueStatus{Completed: 5, Total: 5}, q.Status())
}

func TestAdmission_FIFO(t *testing.T) {
	client := &fakeClient{}
	q := newTestQueue(t, client, WithMaxConcurrent(1))

	var ids, briefs []string
	for i := 0; i < 4; i++ {
		brief := fmt.Sprintf("ordered design brief %d", i)
		id, err := q.Submit(validInput(brief))
		require.NoError(t, err)
		ids = append(ids, id)
		briefs = append(briefs, brief)
	}
	for _, id := range ids {
		waitTerminal(t, q, id)
	}

	prompts := client.Prompts()
	require.Len(t, prompts, 4)
	for i, brief := range briefs {
		assert.Contains(t, prompts[i], brief)
	}
}

func TestProgressEvents_InStageOrder(t *testing.T) {
	q := newTestQueue(t, &fakeClient{})
	log := &eventLog{}

	id, err := q.Submit(validInput("A playful learning platform"), WithProgress(log.add))
	require.NoError(t, err)
	waitTerminal(t, q, id)

	require.Eventually(t, func() bool { return len(log.all()) == 5 }, time.Second, 5*time.Millisecond)
	events := log.all()

	wantStages := []models.Stage{
		models.StageValidating, models.StageBuildingPrompt, models.StageGenerating,
		models.StageParsing, models.StageCompleted,
	}
	wantProgress := []int{10, 25, 40, 80, 100}
	for i, ev := range events {
		assert.Equal(t, id, ev.RequestID)
		assert.Equal(t, wantStages[i], ev.Stage)
		assert.Equal(t, wantProgress[i], ev.Progress)
	}
}

func TestRetry_TransientFailuresThenSuccess(t *testing.T) {
	client := &fakeClient{script: []reply{
		{err: generr.New(generr.KindNetwork, "connection reset")},
		{err: generr.New(generr.KindNetwork, "connection reset")},
		{text: designJSON},
	}}
	rec := &sleeps{}
	q := newTestQueue(t, client, WithRetrier(resilience.NewRetrier(resilience.DefaultRetryPolicy(),
		resilience.WithSleep(rec.sleep),
		resilience.WithRetryLogger(slog.New(slog.DiscardHandler)))))

	id, err := q.Submit(validInput("Retry until the model answers"))
	require.NoError(t, err)

	req := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.Equal(t, 3, req.Attempts)
	assert.Equal(t, 3, client.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.Delays())
}

func TestParseFailure_FailsWithoutRetry(t *testing.T) {
	client := &fakeClient{script: []reply{{text: "I cannot produce JSON today."}}}
	q := newTestQueue(t, client)
	log := &eventLog{}

	id, err := q.Submit(validInput("A brutalist portfolio site"), WithProgress(log.add))
	require.NoError(t, err)

	req := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.Equal(t, string(generr.KindParse), req.ErrorKind)
	assert.Contains(t, req.Error, "no valid structured data found")
	assert.Equal(t, 1, client.Calls())

	require.Eventually(t, func() bool {
		events := log.all()
		return len(events) > 0 && events[len(events)-1].Stage == models.StageCompleted
	}, time.Second, 5*time.Millisecond)
	events := log.all()
	last := events[len(events)-1]
	assert.Equal(t, 0, last.Progress)
	assert.Equal(t, "Generation failed", last.Message)
	assert.Contains(t, last.Detail, "no valid structured data found")
}

func TestAuthenticationFailure_NotRetried(t *testing.T) {
	client := &fakeClient{script: []reply{{err: generr.FromStatus(401, "bad key")}}}
	q := newTestQueue(t, client)

	id, err := q.Submit(validInput("Enterprise dashboard theme"))
	require.NoError(t, err)

	req := waitTerminal(t, q, id)
	assert.Equal(t, string(generr.KindAuthentication), req.ErrorKind)
	assert.Equal(t, 1, req.Attempts)
}

func TestOpenCircuit_FailsFast(t *testing.T) {
	client := &fakeClient{script: []reply{{err: generr.New(generr.KindNetwork, "upstream down")}}}
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	q := newTestQueue(t, client,
		WithMaxConcurrent(1),
		WithBreaker(breaker),
		WithRetrier(resilience.NewRetrier(resilience.RetryPolicy{MaxAttempts: 1})))

	first, err := q.Submit(validInput("First brief opens the circuit"))
	require.NoError(t, err)
	assert.Equal(t, string(generr.KindNetwork), waitTerminal(t, q, first).ErrorKind)
	assert.Equal(t, resilience.StateOpen, breaker.State())

	second, err := q.Submit(validInput("Second brief hits the open circuit"))
	require.NoError(t, err)
	req := waitTerminal(t, q, second)
	assert.Equal(t, string(generr.KindCircuitOpen), req.ErrorKind)
	assert.Equal(t, 0, req.Attempts)
	assert.Equal(t, 1, client.Calls())
}

func TestCancel_Pending(t *testing.T) {
	client := &fakeClient{release: make(chan struct{})}
	q := newTestQueue(t, client, WithMaxConcurrent(1))
	log := &eventLog{}

	running, err := q.Submit(validInput("Keeps the only slot busy"))
	require.NoError(t, err)
	queued, err := q.Submit(validInput("Waits behind the first one"), WithProgress(log.add))
	require.NoError(t, err)

	require.NoError(t, q.Cancel(queued))
	req, ok := q.Get(queued)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.Equal(t, string(generr.KindCancelled), req.ErrorKind)

	events := log.all()
	require.Len(t, events, 1)
	assert.Equal(t, "Generation failed", events[0].Message)

	assert.ErrorIs(t, q.Cancel(queued), ErrTerminal)
	assert.ErrorIs(t, q.Cancel("missing"), ErrNotFound)

	close(client.release)
	assert.Equal(t, models.StatusCompleted, waitTerminal(t, q, running).Status)
	assert.Equal(t, 1, client.Calls())
}

func TestCancel_Processing(t *testing.T) {
	client := &fakeClient{release: make(chan struct{}), started: make(chan struct{}, 1)}
	defer close(client.release)
	q := newTestQueue(t, client)

	id, err := q.Submit(validInput("Cancelled mid generation"))
	require.NoError(t, err)

	select {
	case <-client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("completion was never called")
	}
	require.NoError(t, q.Cancel(id))

	req := waitTerminal(t, q, id)
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.Equal(t, string(generr.KindCancelled), req.ErrorKind)
	assert.Equal(t, 0, q.Breaker().Failures())
}

func TestClearCompleted(t *testing.T) {
	client := &fakeClient{}
	q := newTestQueue(t, client)

	a, err := q.Submit(validInput("First finished design"))
	require.NoError(t, err)
	b, err := q.Submit(validInput("Second finished design"))
	require.NoError(t, err)
	waitTerminal(t, q, a)
	waitTerminal(t, q, b)

	assert.Equal(t, 2, q.ClearCompleted())
	_, ok := q.Get(a)
	assert.False(t, ok)
	assert.Equal(t, models.QueueStatus{}, q.Status())
	assert.Equal(t, 0, q.ClearCompleted())
}

func TestSubscribe(t *testing.T) {
	client := &fakeClient{release: make(chan struct{}), started: make(chan struct{}, 1)}
	q := newTestQueue(t, client)

	unsub := q.Subscribe("unknown", func(models.GenerationProgress) { t.Fatal("unexpected event") })
	unsub()

	id, err := q.Submit(validInput("Late subscriber sees the end"))
	require.NoError(t, err)
	<-client.started

	log := &eventLog{}
	q.Subscribe(id, log.add)
	dropped := &eventLog{}
	q.Subscribe(id, dropped.add)()

	close(client.release)
	waitTerminal(t, q, id)
	require.Eventually(t, func() bool { return len(log.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StageParsing, log.all()[0].Stage)
	assert.Equal(t, models.StageCompleted, log.all()[1].Stage)
	assert.Empty(t, dropped.all())
}

func TestSubscribe_FinishedRequestIsNotRetained(t *testing.T) {
	client := &fakeClient{}
	q := newTestQueue(t, client)

	id, err := q.Submit(validInput("Subscriber arrives after the end"))
	require.NoError(t, err)
	waitTerminal(t, q, id)

	unsub := q.Subscribe(id, func(models.GenerationProgress) { t.Fatal("unexpected event") })

	q.mu.Lock()
	retained := len(q.subscribers[id])
	q.mu.Unlock()
	assert.Zero(t, retained)
	unsub()
}

func TestClose_FailsPendingAndRejectsSubmit(t *testing.T) {
	client := &fakeClient{release: make(chan struct{})}
	q := New(client, WithMaxConcurrent(1), WithLogger(slog.New(slog.DiscardHandler)))

	running, err := q.Submit(validInput("In flight when the queue closes"))
	require.NoError(t, err)
	pending, err := q.Submit(validInput("Never admitted before close"))
	require.NoError(t, err)

	q.Close()

	for _, id := range []string{running, pending} {
		req, ok := q.Get(id)
		require.True(t, ok)
		assert.Equal(t, models.StatusFailed, req.Status)
		assert.Equal(t, string(generr.KindCancelled), req.ErrorKind)
	}

	_, err = q.Submit(validInput("Too late for this queue"))
	assert.ErrorIs(t, err, ErrClosed)
	q.Close()
}
