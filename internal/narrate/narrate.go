// Package narrate records the progress of a CLI step and renders it for a
// terminal (lipgloss) or as JSON lines for machines.
package narrate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type Kind string

const (
	KindInfo Kind = "info"
	KindOk   Kind = "ok"
	KindFail Kind = "fail"
)

// Event is one recorded marker. Message may be empty for Ok and Fail.
type Event struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

// Step is an immutable narration. Every recording method returns a new
// Step and leaves the receiver untouched, so a Step can be shared.
type Step struct {
	label  string
	events []Event
}

// New starts a step.
func New(label string) Step { return Step{label: label} }

func (s Step) with(e Event) Step {
	events := make([]Event, len(s.events), len(s.events)+1)
	copy(events, s.events)
	return Step{label: s.label, events: append(events, e)}
}

func (s Step) Info(msg string) Step { return s.with(Event{Kind: KindInfo, Message: msg}) }
func (s Step) Infof(format string, args ...any) Step {
	return s.Info(fmt.Sprintf(format, args...))
}
func (s Step) Ok(msg string) Step { return s.with(Event{Kind: KindOk, Message: msg}) }
func (s Step) Fail(msg string) Step { return s.with(Event{Kind: KindFail, Message: msg}) }

func (s Step) Label() string { return s.label }

// Events returns a copy of the recorded events.
func (s Step) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Failed reports whether any Fail was recorded.
func (s Step) Failed() bool {
	for _, e := range s.events {
		if e.Kind == KindFail {
			return true
		}
	}
	return false
}

// ===== RENDERING =====

// Renderer writes steps to w. Styles follow w's color profile, so a pipe
// or buffer gets plain text.
type Renderer struct {
	w     io.Writer
	json  bool
	label lipgloss.Style
	info  lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
}

// NewRenderer returns a renderer for w. asJSON selects JSON lines.
func NewRenderer(w io.Writer, asJSON bool) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:     w,
		json:  asJSON,
		label: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		info:  r.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
		ok:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#3FB950")),
		fail:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
	}
}

// Render writes every event of s.
func (r *Renderer) Render(s Step) error {
	if r.json {
		return r.renderJSON(s)
	}
	_, err := io.WriteString(r.w, r.Text(s))
	return err
}

// Text renders s as styled lines:
//
//	[label] · message
//	[label] ✓ message
//	[label] ✗ message
func (r *Renderer) Text(s Step) string {
	var b strings.Builder
	head := r.label.Render("[" + s.label + "]")
	for _, e := range s.events {
		var marker string
		switch e.Kind {
		case KindOk:
			marker = r.ok.Render("✓")
		case KindFail:
			marker = r.fail.Render("✗")
		default:
			marker = r.info.Render("·")
		}
		line := head + " " + marker
		if e.Message != "" {
			line += " " + r.info.Render(e.Message)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

type jsonLine struct {
	Step    string `json:"step"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

func (r *Renderer) renderJSON(s Step) error {
	enc := json.NewEncoder(r.w)
	for _, e := range s.events {
		if err := enc.Encode(jsonLine{Step: s.label, Kind: e.Kind, Message: e.Message}); err != nil {
			return fmt.Errorf("narrate: encode: %w", err)
		}
	}
	return nil
}
