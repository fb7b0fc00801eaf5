package orch

import (
	"context"
	"fmt"
)

// TaskID is the server-assigned, opaque task identifier.
type TaskID string

// TaskRequest is the validated body of an enqueue call. Build it with
// llm.RequestBuilder; transports only serialize it.
type TaskRequest struct {
	Model     string       `json:"model"`
	Workload  WorkloadKind `json:"workload,omitempty"`
	MaxTokens *uint32      `json:"max_tokens,omitempty"`
	Prompt    string       `json:"prompt,omitempty"`
}

// TaskAccepted is the orchestrator's answer to an enqueue.
type TaskAccepted struct {
	TaskID        TaskID  `json:"task_id"`
	QueuePosition *uint32 `json:"queue_position,omitempty"`
}

// Cancelled confirms a cancel request was accepted. In-flight work may
// still be running.
type Cancelled struct{}

// EventKind tags a raw stream event.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventToken   EventKind = "token"
	EventMetrics EventKind = "metrics"
	EventEnd     EventKind = "end"
	EventError   EventKind = "error"
)

// StreamEvent is one raw event as sent by the orchestrator. Text carries
// the token text, the metrics payload or the error message.
type StreamEvent struct {
	Kind EventKind `json:"type"`
	Text string    `json:"text,omitempty"`
}

func Started() StreamEvent { return StreamEvent{Kind: EventStarted} }
func Token(text string) StreamEvent { return StreamEvent{Kind: EventToken, Text: text} }
func Metrics(text string) StreamEvent { return StreamEvent{Kind: EventMetrics, Text: text} }
func End() StreamEvent { return StreamEvent{Kind: EventEnd} }
func ErrorEvent(msg string) StreamEvent { return StreamEvent{Kind: EventError, Text: msg} }

// EventStream is a lazy, finite, single-use sequence of raw events.
// Next blocks until an event is available and returns false once the
// source is exhausted or broken.
type EventStream interface {
	Next() (StreamEvent, bool)
	Close() error
}

// Client is the orchestrator contract. Implementations do not retry; every
// failure is a *ServerError.
type Client interface {
	Capabilities(ctx context.Context) (*CapabilitySnapshot, error)
	Enqueue(ctx context.Context, req TaskRequest) (*TaskAccepted, error)
	// Stream starts consuming a task's events. An unknown task is an error
	// here, never an EventError inside the stream.
	Stream(ctx context.Context, id TaskID) (EventStream, error)
	Cancel(ctx context.Context, id TaskID) (Cancelled, error)
}

// ServerError is the orchestrator's error shape. Retry hints are advisory.
type ServerError struct {
	Code         string  `json:"code"`
	Message      string  `json:"message"`
	Retriable    *bool   `json:"retriable,omitempty"`
	RetryAfterMs *uint64 `json:"retry_after_ms,omitempty"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("orch: %s: %s", e.Code, e.Message)
}

// Well-known server error codes.
const (
	CodeUnknownTask          = "unknown_task"
	CodeUnknownModel         = "unknown_model"
	CodeStreamConsumed       = "stream_consumed"
	CodeUnauthorized         = "unauthorized"
	CodeBadRequest           = "bad_request"
	CodeTransportUnavailable = "transport_unavailable"
	CodeInternal             = "internal"
)

// SliceStream replays a fixed list of events.
type SliceStream struct {
	events []StreamEvent
	pos    int
	closed bool
}

// NewSliceStream returns a stream over events.
func NewSliceStream(events ...StreamEvent) *SliceStream {
	return &SliceStream{events: events}
}

func (s *SliceStream) Next() (StreamEvent, bool) {
	if s.closed || s.pos >= len(s.events) {
		return StreamEvent{}, false
	}
	evt := s.events[s.pos]
	s.pos++
	return evt, true
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Consumed reports how many events were handed out.
func (s *SliceStream) Consumed() int { return s.pos }
