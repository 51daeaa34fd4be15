package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// NATS Configuration
	NatsURL               string        `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	NatsEnabled           bool          `envconfig:"NATS_ENABLED" default:"true"`
	Stream                string        `envconfig:"STREAM_NAME" default:"DESIGN"`
	Subject               string        `envconfig:"SUBJECT" default:"design.generate.request"`
	Durable               string        `envconfig:"QUEUE_DURABLE" default:"designgen-wq"`
	ProgressPrefix        string        `envconfig:"PROGRESS_PREFIX" default:"design.generate.progress"`
	MonitoringTopic       string        `envconfig:"MONITORING_TOPIC" default:"monitoring.generation"`
	BackpressureThreshold int           `envconfig:"BACKPRESSURE_THRESHOLD" default:"10"`
	MaxMsgs               int           `envconfig:"QUEUE_MAX_MSGS" default:"2000"`
	MaxAge                time.Duration `envconfig:"QUEUE_MAX_AGE" default:"10m"`
	AckWait               time.Duration `envconfig:"ACK_WAIT" default:"30s"`
	MaxDeliver            int           `envconfig:"MAX_DELIVER" default:"5"`
	Concurrency           int           `envconfig:"WORKER_CONCURRENCY" default:"2"`

	// HTTP Configuration
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8082"`

	ServiceName string `envconfig:"SERVICE_NAME" default:"designgen"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Data Directory Configuration
	DataDir string `envconfig:"DATA_DIR" default:"data"`

	// Database Configuration
	DBPath string `envconfig:"DB_PATH" default:"data/designgen.sqlite"`

	// Queue Configuration
	MaxConcurrent int `envconfig:"MAX_CONCURRENT" default:"3"`

	// Resilience Configuration
	RetryMaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay       time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	RetryBackoffFactor  float64       `envconfig:"RETRY_BACKOFF_FACTOR" default:"2"`
	BreakerMaxFailures  int           `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"60s"`

	// Completion Configuration
	CompletionBackend     string        `envconfig:"COMPLETION_BACKEND" default:"nats"`
	CompletionModel       string        `envconfig:"COMPLETION_MODEL" default:"default"`
	CompletionAPIKey      string        `envconfig:"COMPLETION_API_KEY"`
	CompletionBaseURL     string        `envconfig:"COMPLETION_BASE_URL" default:"https://api.openai.com/v1"`
	CompletionTimeout     time.Duration `envconfig:"COMPLETION_TIMEOUT" default:"120s"`
	CompletionTemperature float64       `envconfig:"COMPLETION_TEMPERATURE" default:"0.7"`
	CompletionMaxTokens   int           `envconfig:"COMPLETION_MAX_TOKENS" default:"4096"`
	InferenceSubject      string        `envconfig:"INFERENCE_SUBJECT_PREFIX" default:"inference.request"`

	PromptTemplatePath string `envconfig:"PROMPT_TEMPLATE_PATH"`
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadDotEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.Trim(strings.TrimSpace(parts[1]), `"`)
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
