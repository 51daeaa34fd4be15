package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/queue"
	"github.com/aigoflow/designgen-service/internal/resilience"
	"github.com/aigoflow/designgen-service/internal/services"
)

const designReply = `Here you go:
{
  "colors": {"primary": "#7C3AED", "secondary": "#10B981", "neutral": "#71717A"},
  "typography": {"fontFamilies": {"heading": "Sora", "body": "Inter"}, "fontSizes": {"base": "16px"}},
  "spacing": {"scale": [4, 8, 16, 8]}
}`

type replyClient struct {
	text string
	err  error
}

func (c replyClient) Complete(context.Context, string, completion.Options) (string, error) {
	return c.text, c.err
}

func newCmdWithInput(t *testing.T, args ...string) (*cobra.Command, *inputFlags) {
	t.Helper()
	var f inputFlags
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, &f
}

func TestReadInputFile(t *testing.T) {
	dir := t.TempDir()
	want := models.DesignInput{
		Description: "Friendly budgeting app for students",
		BrandName:   "Pennywise",
		Mood:        []string{"friendly", "trustworthy"},
		Framework:   "vue",
		DarkMode:    true,
		Options:     models.GenerationOptions{Temperature: 0.4},
	}

	yamlPath := filepath.Join(dir, "brief.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`description: Friendly budgeting app for students
brand_name: Pennywise
mood: [friendly, trustworthy]
framework: vue
dark_mode: true
options:
  temperature: 0.4
`), 0o644))
	got, err := readInputFile(yamlPath, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("yaml input mismatch (-want +got):\n%s", diff)
	}

	jsonPath := filepath.Join(dir, "brief.json")
	data, err := json.Marshal(want)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(jsonPath, data, 0o644))
	got, err = readInputFile(jsonPath, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("json input mismatch (-want +got):\n%s", diff)
	}

	got, err = readInputFile("-", strings.NewReader("description: From standard input\n"))
	require.NoError(t, err)
	assert.Equal(t, "From standard input", got.Description)

	_, err = readInputFile(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestInputFlags_OverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brief.yaml")
	require.NoError(t, os.WriteFile(path, []byte("description: Original description\nindustry: travel\nframework: vue\n"), 0o644))

	cmd, f := newCmdWithInput(t, "-f", path, "--framework", "react", "--mood", "bold,minimal", "--max-tokens", "2048")
	input, err := f.build(cmd)
	require.NoError(t, err)

	assert.Equal(t, "Original description", input.Description)
	assert.Equal(t, "travel", input.Industry)
	assert.Equal(t, "react", input.Framework)
	assert.Equal(t, []string{"bold", "minimal"}, input.Mood)
	assert.Equal(t, 2048, input.Options.MaxTokens)
	assert.Zero(t, input.Options.Temperature)
}

func TestWriteOutput(t *testing.T) {
	v := map[string]any{"colors": map[string]any{"primary": "#7C3AED"}}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "yaml", v))
	var back map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, v, back)

	buf.Reset()
	require.NoError(t, writeOutput(&buf, "", v))
	assert.JSONEq(t, `{"colors":{"primary":"#7C3AED"}}`, buf.String())

	assert.Error(t, writeOutput(&buf, "xml", v))
}

func newTestService(t *testing.T, client completion.Client) *services.GenerationService {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	svc := services.NewGenerationService(client, nil,
		queue.WithLogger(logger),
		queue.WithRetrier(resilience.NewRetrier(resilience.RetryPolicy{MaxAttempts: 1}, resilience.WithRetryLogger(logger))))
	t.Cleanup(svc.Close)
	return svc
}

func TestGenerateOnce(t *testing.T) {
	svc := newTestService(t, replyClient{text: designReply})
	var progress bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := generateOnce(ctx, svc, models.DesignInput{Description: "Creative agency portfolio"}, &progress)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.Equal(t, "#7C3AED", req.Result["colors"].(map[string]any)["primary"])
	assert.Equal(t, []string{"spacing.scale is not strictly increasing at position 3"}, req.Warnings)

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "[100%] Design system generated: spacing.scale is not strictly increasing at position 3", lines[4])
}

func TestGenerateOnce_Failures(t *testing.T) {
	svc := newTestService(t, replyClient{err: generr.FromStatus(429, "slow down")})
	var progress bytes.Buffer
	ctx := context.Background()

	_, err := generateOnce(ctx, svc, models.DesignInput{Description: "short"}, &progress)
	require.Error(t, err)
	assert.True(t, generr.Is(err, generr.KindValidation))
	assert.Contains(t, progress.String(), "  - ")

	req, err := generateOnce(ctx, svc, models.DesignInput{Description: "Rate limited generation"}, &progress)
	require.Error(t, err)
	assert.Equal(t, string(generr.KindRateLimit), req.ErrorKind)
	assert.Contains(t, err.Error(), "rate_limit")
}

func TestPrinters(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	ev, _ := json.Marshal(models.GenerationProgress{RequestID: "01J", Stage: models.StageGenerating, Progress: 40, Message: "Generating design system", Timestamp: ts})
	printProgressMsg(&buf, ev)
	assert.Equal(t, "15:04:05 01J generating       40% Generating design system\n", buf.String())

	buf.Reset()
	report, _ := json.Marshal(services.BackpressureReport{ServiceName: "designgen", Status: "warning", PendingRequests: 2, ActiveProcessing: 3, MaxConcurrent: 3, CircuitState: "closed", Timestamp: ts})
	printBackpressure(&buf, report)
	assert.Equal(t, "15:04:05 designgen [WARNING] pending=2 active=3/3 in_flight=0 circuit=closed\n", buf.String())

	buf.Reset()
	printHeartbeat(&buf, []byte("{"))
	assert.True(t, strings.HasPrefix(buf.String(), "unreadable heartbeat"))
}
