package llm

import (
	"fmt"
	"io"
	"iter"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
)

// TaskHandle links a built request to the server-assigned task.
type TaskHandle struct {
	id            orch.TaskID
	queuePosition *uint32
}

// NewTaskHandle records the id and queue position of an accepted task.
func NewTaskHandle(accepted orch.TaskAccepted) TaskHandle {
	h := TaskHandle{id: accepted.TaskID}
	if accepted.QueuePosition != nil {
		p := *accepted.QueuePosition
		h.queuePosition = &p
	}
	return h
}

// ID returns the server-assigned task id.
func (h TaskHandle) ID() orch.TaskID { return h.id }

// QueuePosition returns the position reported at enqueue time.
func (h TaskHandle) QueuePosition() (uint32, bool) {
	if h.queuePosition == nil {
		return 0, false
	}
	return *h.queuePosition, true
}

// EventKind tags a translated event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventToken
	EventMetrics
	EventCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventToken:
		return "token"
	case EventMetrics:
		return "metrics"
	case EventCompleted:
		return "completed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a translated stream event. Text and Index are set for tokens,
// Payload for metrics.
type Event struct {
	Kind    EventKind
	Text    string
	Index   uint64
	Payload string
}

// Stream translates a raw event stream. It stops at the first End (as
// EventCompleted) or Error (as a *Error of KindStream); after that, and
// after the source runs dry, Next returns io.EOF.
type Stream struct {
	raw       orch.EventStream
	nextIndex uint64
	finished  bool
}

// NewStream wraps raw. The Client does this for callers of Client.Stream.
func NewStream(raw orch.EventStream) *Stream {
	return &Stream{raw: raw}
}

// Next returns the next translated event.
func (s *Stream) Next() (Event, error) {
	if s.finished {
		return Event{}, io.EOF
	}

	raw, ok := s.raw.Next()
	if !ok {
		s.finished = true
		return Event{}, io.EOF
	}

	switch raw.Kind {
	case orch.EventStarted:
		return Event{Kind: EventStarted}, nil
	case orch.EventToken:
		evt := Event{Kind: EventToken, Text: raw.Text, Index: s.nextIndex}
		s.nextIndex++
		return evt, nil
	case orch.EventMetrics:
		return Event{Kind: EventMetrics, Payload: raw.Text}, nil
	case orch.EventEnd:
		s.finished = true
		return Event{Kind: EventCompleted}, nil
	case orch.EventError:
		s.finished = true
		return Event{}, &Error{Op: OpStream, Kind: KindStream, Code: CodeStream, Message: raw.Text}
	default:
		s.finished = true
		return Event{}, &Error{
			Op:      OpStream,
			Kind:    KindStream,
			Code:    CodeStream,
			Message: fmt.Sprintf("unexpected event type %q", raw.Kind),
		}
	}
}

// All iterates the remaining events. A terminal error is yielded once as
// the last pair.
func (s *Stream) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			evt, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(evt, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the underlying transport stream.
func (s *Stream) Close() error {
	s.finished = true
	return s.raw.Close()
}
