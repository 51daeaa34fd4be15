package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/designgen-service/internal/generr"
)

// InferenceRequest is the payload the inference service consumes on
// inference.request.<model>.
type InferenceRequest struct {
	ReqID   string         `json:"req_id"`
	Input   string         `json:"input"`
	Params  map[string]any `json:"params"`
	ReplyTo string         `json:"reply_to,omitempty"`
}

// InferenceResponse is what the inference service publishes to reply_to.
type InferenceResponse struct {
	ReqID        string `json:"req_id"`
	Text         string `json:"text"`
	TokensIn     int    `json:"tokens_in"`
	TokensOut    int    `json:"tokens_out"`
	FinishReason string `json:"finish_reason"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

type NATSOption func(*NATSClient)

func WithSubjectPrefix(prefix string) NATSOption {
	return func(c *NATSClient) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func WithModel(model string) NATSOption {
	return func(c *NATSClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithTimeout(d time.Duration) NATSOption {
	return func(c *NATSClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NATSClient talks to an inference service over NATS request/reply.
type NATSClient struct {
	conn     *nats.Conn
	ownsConn bool
	clientID string
	prefix   string
	model    string
	timeout  time.Duration
}

// NewNATSClient connects to natsURL and returns a client owning the connection.
func NewNATSClient(natsURL, clientID string, opts ...NATSOption) (*NATSClient, error) {
	conn, err := nats.Connect(natsURL, nats.Name(clientID+"-completion"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c := NewNATSClientWithConn(conn, clientID, opts...)
	c.ownsConn = true
	return c, nil
}

// NewNATSClientWithConn reuses an existing connection.
func NewNATSClientWithConn(conn *nats.Conn, clientID string, opts ...NATSOption) *NATSClient {
	if clientID == "" {
		clientID = "designgen"
	}
	c := &NATSClient{
		conn:     conn,
		clientID: clientID,
		prefix:   "inference.request",
		model:    "default",
		timeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *NATSClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	topic := fmt.Sprintf("%s.%s", c.prefix, c.model)

	reqID := ulid.Make().String()
	replySubject := fmt.Sprintf("inference.response.%s.%s", c.clientID, reqID)

	params := map[string]any{}
	if opts.Temperature > 0 {
		params["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		params["max_tokens"] = opts.MaxTokens
	}

	request := InferenceRequest{
		ReqID:   reqID,
		Input:   prompt,
		Params:  params,
		ReplyTo: replySubject,
	}
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	slog.Debug("Sending completion request", "topic", topic, "req_id", reqID, "reply_subject", replySubject)

	// Subscribe to the reply subject before publishing so the reply cannot be missed.
	replyChan := make(chan *nats.Msg, 1)
	sub, err := c.conn.Subscribe(replySubject, func(msg *nats.Msg) {
		select {
		case replyChan <- msg:
		default:
		}
	})
	if err != nil {
		return "", generr.Wrap(generr.KindNetwork, err, "failed to subscribe to reply")
	}
	defer sub.Unsubscribe()

	if err := c.conn.Publish(topic, requestBytes); err != nil {
		return "", generr.Wrap(generr.KindNetwork, err, "failed to publish request")
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg := <-replyChan:
		slog.Debug("Received completion", "req_id", reqID, "response_size", len(msg.Data))
		return decodeReply(msg.Data)
	case <-timer.C:
		return "", generr.Newf(generr.KindNetwork, "request timeout after %v", c.timeout)
	case <-ctx.Done():
		return "", generr.Wrap(generr.KindCancelled, ctx.Err(), "completion cancelled")
	}
}

// decodeReply turns a reply payload into text or a tagged error.
func decodeReply(data []byte) (string, error) {
	var response InferenceResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return "", generr.Wrap(generr.KindNetwork, err, "failed to parse response")
	}
	if response.Error != "" {
		return "", generr.Classify(errors.New(response.Error))
	}
	return response.Text, nil
}

// Close closes the connection when the client opened it.
func (c *NATSClient) Close() error {
	if c.ownsConn && c.conn != nil {
		c.conn.Close()
	}
	return nil
}
