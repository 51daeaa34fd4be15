package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/designgen-service/internal/config"
	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/queue"
)

// generateWorkerID creates a unique worker ID using timestamp and random bytes
func generateWorkerID() string {
	timestamp := time.Now().UnixNano()
	randomBytes := make([]byte, 4)
	rand.Read(randomBytes)
	return fmt.Sprintf("worker-%d-%s", timestamp, hex.EncodeToString(randomBytes))
}

// GenerationMessage is the JetStream payload on design.generate.request.
type GenerationMessage struct {
	TraceID string             `json:"trace_id,omitempty"`
	Input   models.DesignInput `json:"input"`
	ReplyTo string             `json:"reply_to,omitempty"`
}

// GenerationReply is published to reply_to once the request is terminal, or
// immediately when the message is rejected.
type GenerationReply struct {
	TraceID   string                    `json:"trace_id,omitempty"`
	ReqID     string                    `json:"req_id,omitempty"`
	Request   *models.GenerationRequest `json:"request,omitempty"`
	Error     string                    `json:"error,omitempty"`
	ErrorKind string                    `json:"error_kind,omitempty"`
	Details   []string                  `json:"details,omitempty"`
}

type NATSService struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	generation *GenerationService
	cfg        *config.Config
	monitoring *MonitoringService
}

func NewNATSService(cfg *config.Config, generation *GenerationService) (*NATSService, error) {
	conn, err := nats.Connect(cfg.NatsURL, nats.Name(cfg.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSService{
		conn:       conn,
		js:         js,
		generation: generation,
		cfg:        cfg,
		monitoring: NewMonitoringService(conn, cfg, generation),
	}, nil
}

func (s *NATSService) GetConnection() *nats.Conn {
	return s.conn
}

// Start blocks until ctx is cancelled.
func (s *NATSService) Start(ctx context.Context) error {
	if err := s.ensureStream(); err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}

	consumer, err := s.createConsumer()
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	slog.Info("NATS service starting",
		"stream", s.cfg.Stream,
		"subject", s.cfg.Subject,
		"consumer", s.cfg.Durable,
		"concurrency", s.cfg.Concurrency)

	if err := s.monitoring.Start(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	workers := max(s.cfg.Concurrency, 1)
	for i := 0; i < workers; i++ {
		workerID := generateWorkerID()
		go func() {
			s.worker(ctx, consumer, workerID)
			done <- struct{}{}
		}()
	}

	<-ctx.Done()
	slog.Info("NATS service shutting down")
	for i := 0; i < workers; i++ {
		<-done
	}

	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
	return nil
}

func (s *NATSService) ensureStream() error {
	streamInfo, err := s.js.StreamInfo(s.cfg.Stream)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = s.js.AddStream(&nats.StreamConfig{
			Name:      s.cfg.Stream,
			Subjects:  []string{s.cfg.Subject},
			MaxMsgs:   int64(s.cfg.MaxMsgs),
			MaxAge:    s.cfg.MaxAge,
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		slog.Info("Created NATS stream", "name", s.cfg.Stream)
		return nil
	}

	for _, subject := range streamInfo.Config.Subjects {
		if subject == s.cfg.Subject {
			slog.Info("NATS stream already exists", "name", s.cfg.Stream, "messages", streamInfo.State.Msgs)
			return nil
		}
	}

	newConfig := streamInfo.Config
	newConfig.Subjects = append(newConfig.Subjects, s.cfg.Subject)
	if _, err := s.js.UpdateStream(&newConfig); err != nil {
		return fmt.Errorf("failed to update stream with new subject: %w", err)
	}
	slog.Info("Updated NATS stream with new subject", "name", s.cfg.Stream, "subject", s.cfg.Subject)
	return nil
}

func (s *NATSService) createConsumer() (*nats.Subscription, error) {
	sub, err := s.js.PullSubscribe(s.cfg.Subject, s.cfg.Durable,
		nats.ManualAck(),
		nats.AckWait(s.cfg.AckWait),
		nats.MaxDeliver(s.cfg.MaxDeliver))
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer: %w", err)
	}

	slog.Info("Created NATS consumer", "durable", s.cfg.Durable)
	return sub, nil
}

func (s *NATSService) worker(ctx context.Context, consumer *nats.Subscription, workerID string) {
	slog.Info("NATS worker starting", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("NATS worker shutting down", "worker_id", workerID)
			return
		default:
			msgs, err := consumer.Fetch(1, nats.MaxWait(time.Second))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				slog.Error("Failed to fetch messages", "worker_id", workerID, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, msg := range msgs {
				s.monitoring.IncrementInFlight()
				s.processMessage(ctx, msg, workerID)
				s.monitoring.DecrementInFlight()
			}
		}
	}
}

func (s *NATSService) processMessage(ctx context.Context, msg *nats.Msg, workerID string) {
	start := time.Now()

	var m GenerationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		slog.Error("Failed to parse generation request",
			"worker_id", workerID,
			"error", err,
			"data", string(msg.Data))
		// Redelivery cannot fix a malformed payload.
		_ = msg.Term()
		return
	}

	progressSubject := func(id string) string {
		return fmt.Sprintf("%s.%s", s.cfg.ProgressPrefix, id)
	}

	done := make(chan struct{})
	onProgress := func(ev models.GenerationProgress) {
		if data, err := json.Marshal(ev); err == nil {
			if err := s.conn.Publish(progressSubject(ev.RequestID), data); err != nil {
				slog.Warn("Failed to publish progress", "req_id", ev.RequestID, "error", err)
			}
		}
		if ev.Stage == models.StageCompleted {
			close(done)
		}
	}

	reqID, err := s.generation.Submit(m.Input, "nats."+msg.Subject, queue.WithProgress(onProgress))
	if err != nil {
		s.reject(msg, m, err, workerID)
		return
	}

	slog.Debug("Processing NATS generation request",
		"worker_id", workerID,
		"req_id", reqID,
		"trace_id", m.TraceID,
		"subject", msg.Subject)

	if !s.await(ctx, msg, done) {
		// Shutdown: leave the message for another instance.
		_ = msg.Nak()
		slog.Warn("NATS generation interrupted", "worker_id", workerID, "req_id", reqID)
		return
	}

	req, ok, err := s.generation.Get(ctx, reqID)
	if err != nil || !ok {
		slog.Error("Finished generation not found", "worker_id", workerID, "req_id", reqID, "error", err)
		_ = msg.Nak()
		return
	}
	s.reply(m.ReplyTo, GenerationReply{TraceID: m.TraceID, ReqID: reqID, Request: &req})

	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("Failed to acknowledge message",
			"worker_id", workerID,
			"req_id", reqID,
			"error", ackErr)
	}

	if req.Status == models.StatusCompleted {
		slog.Info("NATS generation completed",
			"worker_id", workerID,
			"req_id", reqID,
			"duration_ms", time.Since(start).Milliseconds(),
			"attempts", req.Attempts,
			"warnings", len(req.Warnings))
	} else {
		slog.Error("NATS generation failed",
			"worker_id", workerID,
			"req_id", reqID,
			"duration_ms", elapsed(req).Milliseconds(),
			"kind", req.ErrorKind,
			"error", req.Error)
	}
}

// await waits for the terminal event, telling JetStream the message is still
// being worked on so it is not redelivered mid-generation.
func (s *NATSService) await(ctx context.Context, msg *nats.Msg, done <-chan struct{}) bool {
	interval := s.cfg.AckWait / 2
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			_ = msg.InProgress()
		case <-ctx.Done():
			return false
		}
	}
}

func (s *NATSService) reject(msg *nats.Msg, m GenerationMessage, err error, workerID string) {
	reply := GenerationReply{
		TraceID:   m.TraceID,
		Error:     err.Error(),
		ErrorKind: string(generr.KindOf(err)),
	}
	var ge *generr.Error
	if errors.As(err, &ge) {
		reply.Details = ge.Details
	}
	s.reply(m.ReplyTo, reply)

	slog.Warn("Rejected NATS generation request",
		"worker_id", workerID,
		"trace_id", m.TraceID,
		"error", err)
	_ = msg.Term()
}

func (s *NATSService) reply(replyTo string, reply GenerationReply) {
	if replyTo == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("Failed to marshal reply", "req_id", reply.ReqID, "error", err)
		return
	}
	if err := s.conn.Publish(replyTo, data); err != nil {
		slog.Error("Failed to publish reply",
			"req_id", reply.ReqID,
			"reply_subject", replyTo,
			"error", err)
	}
}
