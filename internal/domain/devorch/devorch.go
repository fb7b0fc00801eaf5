// Package devorch is an in-process orchestrator for development and tests.
// It serves a fixed capability snapshot, accepts tasks for known models and
// streams a scripted answer: Started, one Token per prompt word, a Metrics
// line and End. Cancelling a task ends a live stream with an Error event.
package devorch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
	"github.com/matiasleandrokruk/nerve/internal/infra/eventbus"
)

// CancelledMessage is the Error event text of a cancelled task.
const CancelledMessage = "task cancelled"

const cancelTopicPrefix = "task.cancelled."

type task struct {
	req       orch.TaskRequest
	streamed  bool
	cancelled bool
}

// Orchestrator implements orch.Client in memory.
type Orchestrator struct {
	snap       *orch.CapabilitySnapshot
	bus        eventbus.EventBus
	tokenDelay time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	tasks map[orch.TaskID]*task
	order []orch.TaskID
}

type Option func(*Orchestrator)

// WithBus shares an event bus (cancellations are published on it).
func WithBus(bus eventbus.EventBus) Option { return func(o *Orchestrator) { o.bus = bus } }

// WithTokenDelay paces token events, which makes cancellation observable.
func WithTokenDelay(d time.Duration) Option { return func(o *Orchestrator) { o.tokenDelay = d } }

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New returns an orchestrator serving snap (DefaultSnapshot when nil).
func New(snap *orch.CapabilitySnapshot, opts ...Option) *Orchestrator {
	if snap == nil {
		snap = DefaultSnapshot()
	}
	o := &Orchestrator{
		snap:   snap,
		bus:    eventbus.New(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tasks:  make(map[orch.TaskID]*task),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var _ orch.Client = (*Orchestrator)(nil)

func (o *Orchestrator) Capabilities(ctx context.Context) (*orch.CapabilitySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}
	snap := *o.snap
	snap.CapturedAt = time.Now().UTC()
	return &snap, nil
}

// Enqueue accepts a task for a model the snapshot lists. The queue position
// counts earlier tasks that have not started streaming yet.
func (o *Orchestrator) Enqueue(ctx context.Context, req orch.TaskRequest) (*orch.TaskAccepted, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}
	if req.Model == "" {
		return nil, &orch.ServerError{Code: orch.CodeBadRequest, Message: "model is required", Retriable: orch.Ptr(false)}
	}
	if _, ok := o.snap.Model(req.Model); !ok {
		return nil, &orch.ServerError{
			Code:      orch.CodeUnknownModel,
			Message:   fmt.Sprintf("model %q is not served", req.Model),
			Retriable: orch.Ptr(false),
		}
	}

	id := orch.TaskID(uuid.Must(uuid.NewV7()).String())

	o.mu.Lock()
	var pending uint32
	for _, prev := range o.order {
		if t := o.tasks[prev]; !t.streamed && !t.cancelled {
			pending++
		}
	}
	o.tasks[id] = &task{req: req}
	o.order = append(o.order, id)
	o.mu.Unlock()

	o.logger.Debug("task accepted", "task_id", id, "model", req.Model, "queue_position", pending)
	return &orch.TaskAccepted{TaskID: id, QueuePosition: orch.Ptr(pending)}, nil
}

// Stream hands out a task's events. A task can be streamed once.
func (o *Orchestrator) Stream(ctx context.Context, id orch.TaskID) (orch.EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return nil, unknownTask(id)
	}
	if t.streamed {
		o.mu.Unlock()
		return nil, &orch.ServerError{
			Code:      orch.CodeStreamConsumed,
			Message:   fmt.Sprintf("task %s was already streamed", id),
			Retriable: orch.Ptr(false),
		}
	}
	t.streamed = true

	s := &taskStream{
		ctx:   ctx,
		delay: o.tokenDelay,
		start: time.Now(),
		words: tokensFor(t.req),
	}
	if t.cancelled {
		o.mu.Unlock()
		s.pending = []orch.StreamEvent{orch.ErrorEvent(CancelledMessage)}
		return s, nil
	}
	// Subscribe under the lock so a concurrent Cancel cannot slip between
	// the cancelled check and the subscription.
	topic := cancelTopicPrefix + string(id)
	s.cancel = o.bus.Subscribe(topic)
	o.mu.Unlock()

	s.release = func() { o.bus.Unsubscribe(topic, s.cancel) }
	s.pending = []orch.StreamEvent{orch.Started()}
	o.logger.Debug("task streaming", "task_id", id, "tokens", len(s.words))
	return s, nil
}

// Cancel marks the task cancelled and notifies its live stream, if any.
func (o *Orchestrator) Cancel(ctx context.Context, id orch.TaskID) (orch.Cancelled, error) {
	if err := ctx.Err(); err != nil {
		return orch.Cancelled{}, contextError(err)
	}

	o.mu.Lock()
	t, ok := o.tasks[id]
	if ok {
		t.cancelled = true
	}
	o.mu.Unlock()
	if !ok {
		return orch.Cancelled{}, unknownTask(id)
	}

	o.bus.Publish(cancelTopicPrefix+string(id), id)
	o.logger.Debug("task cancelled", "task_id", id)
	return orch.Cancelled{}, nil
}

func unknownTask(id orch.TaskID) error {
	return &orch.ServerError{
		Code:      orch.CodeUnknownTask,
		Message:   fmt.Sprintf("task %s not found", id),
		Retriable: orch.Ptr(false),
	}
}

func contextError(err error) error {
	return &orch.ServerError{Code: orch.CodeTransportUnavailable, Message: err.Error(), Retriable: orch.Ptr(true)}
}

// tokensFor splits the prompt into word tokens, keeping the separating
// space on every token but the last. MaxTokens caps the count.
func tokensFor(req orch.TaskRequest) []string {
	words := strings.Fields(req.Prompt)
	if req.MaxTokens != nil && uint64(len(words)) > uint64(*req.MaxTokens) {
		words = words[:*req.MaxTokens]
	}
	for i := range words[:max(len(words)-1, 0)] {
		words[i] += " "
	}
	return words
}

// taskStream is a pull-based script. State advances only inside Next.
type taskStream struct {
	ctx     context.Context
	delay   time.Duration
	start   time.Time
	words   []string
	pending []orch.StreamEvent
	cancel  <-chan eventbus.Event
	release func()

	tokensSent int
	ended      bool
	doneOnce   sync.Once
}

func (s *taskStream) Next() (orch.StreamEvent, bool) {
	if len(s.pending) > 0 {
		evt := s.pending[0]
		s.pending = s.pending[1:]
		if evt.Kind == orch.EventError || evt.Kind == orch.EventEnd {
			s.finish()
		}
		return evt, true
	}
	if s.ended {
		return orch.StreamEvent{}, false
	}

	if s.cancelled() {
		s.finish()
		return orch.ErrorEvent(CancelledMessage), true
	}

	if s.tokensSent < len(s.words) {
		if s.delay > 0 {
			timer := time.NewTimer(s.delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-s.cancel:
				s.finish()
				return orch.ErrorEvent(CancelledMessage), true
			case <-s.ctx.Done():
				s.finish()
				return orch.ErrorEvent(s.ctx.Err().Error()), true
			}
		}
		word := s.words[s.tokensSent]
		s.tokensSent++
		return orch.Token(word), true
	}

	s.pending = append(s.pending, orch.End())
	return orch.Metrics(fmt.Sprintf("latency_ms=%d", time.Since(s.start).Milliseconds())), true
}

func (s *taskStream) cancelled() bool {
	if s.cancel == nil {
		return false
	}
	select {
	case _, ok := <-s.cancel:
		return ok
	default:
		return false
	}
}

func (s *taskStream) finish() {
	s.ended = true
	s.pending = nil
	s.doneOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

func (s *taskStream) Close() error {
	s.finish()
	return nil
}
