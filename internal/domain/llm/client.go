package llm

import (
	"context"
	"io"
	"log/slog"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
)

// Client is the orchestrator facade. It shares one orch.Client; copies of
// the pointer are cheap and safe to use from several goroutines as long as
// the backend is.
type Client struct {
	backend orch.Client
	logger  *slog.Logger
}

type ClientOption func(*Client)

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(backend orch.Client, opts ...ClientOption) *Client {
	c := &Client{backend: backend, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capabilities fetches the orchestrator's snapshot.
func (c *Client) Capabilities(ctx context.Context) (*orch.CapabilitySnapshot, error) {
	snap, err := c.backend.Capabilities(ctx)
	if err != nil {
		c.logger.Debug("capabilities failed", "error", err)
		return nil, wrapServerError(OpCapabilities, err)
	}
	return snap, nil
}

// Enqueue submits a validated request.
func (c *Client) Enqueue(ctx context.Context, req Request) (TaskHandle, error) {
	accepted, err := c.backend.Enqueue(ctx, req.TaskRequest())
	if err != nil {
		c.logger.Debug("enqueue failed", "model", req.Model(), "error", err)
		return TaskHandle{}, wrapServerError(OpEnqueue, err)
	}
	h := NewTaskHandle(*accepted)
	c.logger.Debug("task enqueued", "task_id", h.ID(), "model", req.Model(), "workload", req.Workload())
	return h, nil
}

// Stream opens the task's event stream and wraps it in a translator.
func (c *Client) Stream(ctx context.Context, h TaskHandle) (*Stream, error) {
	raw, err := c.backend.Stream(ctx, h.ID())
	if err != nil {
		c.logger.Debug("stream failed", "task_id", h.ID(), "error", err)
		return nil, wrapServerError(OpStream, err)
	}
	return NewStream(raw), nil
}

// Cancel asks the orchestrator to cancel the task. It does not stop a
// stream that is being consumed concurrently.
func (c *Client) Cancel(ctx context.Context, h TaskHandle) (orch.Cancelled, error) {
	res, err := c.backend.Cancel(ctx, h.ID())
	if err != nil {
		c.logger.Debug("cancel failed", "task_id", h.ID(), "error", err)
		return orch.Cancelled{}, wrapServerError(OpCancel, err)
	}
	return res, nil
}
