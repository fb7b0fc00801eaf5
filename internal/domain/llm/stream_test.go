package llm

import (
	"errors"
	"io"
	"testing"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
)

func TestStream_TranslatesInOrder(t *testing.T) {
	t.Parallel()
	raw := orch.NewSliceStream(orch.Started(), orch.Token("hi"), orch.Metrics("latency_ms=12"), orch.End())
	s := NewStream(raw)

	want := []Event{
		{Kind: EventStarted},
		{Kind: EventToken, Text: "hi", Index: 0},
		{Kind: EventMetrics, Payload: "latency_ms=12"},
		{Kind: EventCompleted},
	}
	for i, w := range want {
		got, err := s.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if got != w {
			t.Errorf("event %d = %+v, want %+v", i, got, w)
		}
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("poll after completion = %v, want io.EOF", err)
	}
}

func TestStream_TokenIndexIncrements(t *testing.T) {
	t.Parallel()
	s := NewStream(orch.NewSliceStream(
		orch.Token("a"), orch.Metrics("m"), orch.Token("b"), orch.Token("c"), orch.End(),
	))

	var indexes []uint64
	for evt, err := range s.All() {
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if evt.Kind == EventToken {
			indexes = append(indexes, evt.Index)
		}
	}
	if len(indexes) != 3 || indexes[0] != 0 || indexes[1] != 1 || indexes[2] != 2 {
		t.Errorf("indexes = %v", indexes)
	}
}

func TestStream_ErrorIsTerminal(t *testing.T) {
	t.Parallel()
	raw := orch.NewSliceStream(orch.Started(), orch.ErrorEvent("boom"), orch.Token("late"), orch.End())
	s := NewStream(raw)

	first, err := s.Next()
	if err != nil || first.Kind != EventStarted {
		t.Fatalf("first = %+v, %v", first, err)
	}

	_, err = s.Next()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if se.Kind != KindStream || se.Op != OpStream || se.Code != CodeStream || se.Message != "boom" {
		t.Errorf("stream error = %+v", se)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Next(); err != io.EOF {
			t.Fatalf("poll %d after error = %v, want io.EOF", i, err)
		}
	}
	if raw.Consumed() != 2 {
		t.Errorf("source polled %d times, want 2", raw.Consumed())
	}
}

func TestStream_IgnoresSourceAfterEnd(t *testing.T) {
	t.Parallel()
	raw := orch.NewSliceStream(orch.End(), orch.Token("extra"))
	s := NewStream(raw)

	var got []Event
	for evt, err := range s.All() {
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		got = append(got, evt)
	}
	if len(got) != 1 || got[0].Kind != EventCompleted {
		t.Errorf("events = %+v", got)
	}
	if raw.Consumed() != 1 {
		t.Errorf("source polled %d times after End", raw.Consumed())
	}
}

func TestStream_SourceExhaustedWithoutEnd(t *testing.T) {
	t.Parallel()
	s := NewStream(orch.NewSliceStream(orch.Started()))
	if _, err := s.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestStream_All_YieldsTerminalErrorLast(t *testing.T) {
	t.Parallel()
	s := NewStream(orch.NewSliceStream(orch.Started(), orch.ErrorEvent("boom")))

	var errs, events int
	for _, err := range s.All() {
		if err != nil {
			errs++
			continue
		}
		events++
	}
	if events != 1 || errs != 1 {
		t.Errorf("events=%d errs=%d, want 1/1", events, errs)
	}
}

func TestStream_UnknownEventKind(t *testing.T) {
	t.Parallel()
	s := NewStream(orch.NewSliceStream(orch.StreamEvent{Kind: "heartbeat"}))
	if _, err := s.Next(); err == nil || err == io.EOF {
		t.Fatalf("err = %v, want stream error", err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestStream_Close(t *testing.T) {
	t.Parallel()
	s := NewStream(orch.NewSliceStream(orch.Started()))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("err after Close = %v, want io.EOF", err)
	}
}

func TestTaskHandle(t *testing.T) {
	t.Parallel()
	pos := uint32(3)
	h := NewTaskHandle(orch.TaskAccepted{TaskID: "t-1", QueuePosition: &pos})
	pos = 9

	if h.ID() != "t-1" {
		t.Errorf("ID = %q", h.ID())
	}
	if p, ok := h.QueuePosition(); !ok || p != 3 {
		t.Errorf("QueuePosition = %d, %v", p, ok)
	}
	if _, ok := NewTaskHandle(orch.TaskAccepted{TaskID: "t-2"}).QueuePosition(); ok {
		t.Error("QueuePosition set without one")
	}
}
