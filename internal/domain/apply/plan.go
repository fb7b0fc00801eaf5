package apply

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ScaffoldDiff is one single-file entry of a change plan.
type ScaffoldDiff struct {
	Path     string `yaml:"path" json:"path"`
	Checksum string `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	// Diff must describe exactly one file.
	Diff string `yaml:"diff" json:"diff"`
}

// ApplyPlan is an ordered, caller-authored multi-file change.
type ApplyPlan struct {
	Diffs []ScaffoldDiff `yaml:"diffs" json:"diffs"`
}

// ParsePlan decodes a YAML (or JSON) plan document.
func ParsePlan(data []byte) (*ApplyPlan, error) {
	var plan ApplyPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("apply: parse plan: %w", err)
	}
	for i, entry := range plan.Diffs {
		if entry.Path == "" {
			return nil, fmt.Errorf("apply: parse plan: entry %d has no path", i)
		}
	}
	return &plan, nil
}

// LoadPlan reads a plan file. Entry paths are used as written.
func LoadPlan(path string) (*ApplyPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("apply: load plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// Observer is told about every entry that applied successfully.
type Observer func(index int, entry ScaffoldDiff, outcome *Outcome)

// Runner sequences a plan through Diff.
type Runner struct {
	guard    *Guard
	hook     CommitHook
	observer Observer
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithGuard rejects entries whose path the guard denies and resolves
// relative entry paths against the guard's Root. The check runs when the
// entry is reached, so earlier entries are still applied.
func WithGuard(g Guard) RunnerOption {
	return func(r *Runner) { r.guard = &g }
}

// WithCommitHook attaches a hook (typically the journal) to every entry.
func WithCommitHook(h CommitHook) RunnerOption {
	return func(r *Runner) { r.hook = h }
}

// WithObserver registers a callback for successful entries.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner. Without options it behaves exactly like Plan.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan applies every diff of plan with the same strategy.
func Plan(plan *ApplyPlan, strategy Strategy) ([]Outcome, error) {
	return NewRunner().Run(context.Background(), plan, strategy)
}

// Run applies the plan's diffs in plan order. The first failure aborts the
// call and no outcomes are returned. Files written by earlier entries are
// NOT rolled back: validate with DryRun first, or attach a journal hook to
// keep rollback points.
func (r *Runner) Run(ctx context.Context, plan *ApplyPlan, strategy Strategy) ([]Outcome, error) {
	if plan == nil {
		return []Outcome{}, nil
	}

	outcomes := make([]Outcome, 0, len(plan.Diffs))
	for i, entry := range plan.Diffs {
		if err := ctx.Err(); err != nil {
			return nil, &PlanEntryError{Index: i, Path: entry.Path, Err: err}
		}

		target := entry.Path
		if r.guard != nil {
			resolved, err := r.guard.Resolve(entry.Path)
			if err != nil {
				r.logger.Debug("plan entry denied", "index", i, "path", entry.Path, "error", err)
				return nil, &PlanEntryError{Index: i, Path: entry.Path, Err: err}
			}
			target = resolved
		}

		outcome, err := Diff(Options{
			Path:     target,
			Diff:     entry.Diff,
			Checksum: entry.Checksum,
			Strategy: strategy,
			Hook:     r.hook,
		})
		if err != nil {
			r.logger.Debug("plan entry failed", "index", i, "path", entry.Path, "error", err)
			return nil, &PlanEntryError{Index: i, Path: entry.Path, Err: err}
		}

		r.logger.Debug("plan entry applied",
			"index", i,
			"path", entry.Path,
			"status", outcome.Status,
			"hunks", outcome.HunksApplied,
			"strategy", strategy.String(),
		)
		if r.observer != nil {
			r.observer(i, entry, outcome)
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes, nil
}
