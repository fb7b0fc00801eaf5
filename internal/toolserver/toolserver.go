// Package toolserver exposes the patch toolkit to agents as MCP tools:
// apply_diff, apply_plan and checksum. Every path is resolved under the
// configured guard; writes are journaled when a journal is attached.
package toolserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matiasleandrokruk/nerve/internal/domain/apply"
	"github.com/matiasleandrokruk/nerve/internal/domain/journal"
	"github.com/matiasleandrokruk/nerve/internal/version"
)

const serverName = "nrv"

// Config wires the tool server.
type Config struct {
	Guard apply.Guard
	// Journal is optional.
	Journal *journal.Store
	// BackupSuffix is used by the "backup" strategy.
	BackupSuffix string
	Logger       *slog.Logger
}

// Server holds the MCP server and the toolkit configuration behind it.
type Server struct {
	cfg    Config
	mcp    *mcp.Server
	logger *slog.Logger
}

// New registers the tools on a fresh MCP server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:    cfg,
		mcp:    mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil),
		logger: logger,
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "apply_diff",
		Description: "Apply a single-file unified diff to a file, optionally verifying the pre-image checksum.",
	}, s.applyDiff)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "apply_plan",
		Description: "Apply a YAML plan of single-file diffs in order. Stops at the first failing entry.",
	}, s.applyPlan)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "checksum",
		Description: "Compute the checksum (sha256 or blake3) of a file's current content.",
	}, s.checksum)
	return s
}

// MCP returns the underlying server, e.g. to connect a custom transport.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves over stdio until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "transport", "stdio", "root", s.cfg.Guard.Root)
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("toolserver: run: %w", err)
	}
	return nil
}

// ===== TOOLS =====

type ApplyDiffInput struct {
	Path     string `json:"path" jsonschema:"target file, relative to the server root"`
	Diff     string `json:"diff" jsonschema:"single-file unified diff"`
	Checksum string `json:"checksum,omitempty" jsonschema:"expected checksum of the current content"`
	Strategy string `json:"strategy,omitempty" jsonschema:"write, dry-run or backup[:suffix]; default write"`
}

type ApplyDiffOutput struct {
	Path         string   `json:"path"`
	Status       string   `json:"status"`
	HunksApplied int      `json:"hunks_applied"`
	Warnings     []string `json:"warnings,omitempty"`
	RunID        string   `json:"run_id,omitempty"`
}

func (s *Server) applyDiff(ctx context.Context, _ *mcp.CallToolRequest, in ApplyDiffInput) (*mcp.CallToolResult, ApplyDiffOutput, error) {
	target, err := s.cfg.Guard.Resolve(in.Path)
	if err != nil {
		return nil, ApplyDiffOutput{}, err
	}
	strategy, err := s.strategy(in.Strategy)
	if err != nil {
		return nil, ApplyDiffOutput{}, err
	}

	var (
		hook  apply.CommitHook
		runID string
	)
	if s.cfg.Journal != nil && !strategy.IsDryRun() {
		run, err := s.cfg.Journal.StartRun(ctx, "mcp apply_diff "+in.Path)
		if err != nil {
			return nil, ApplyDiffOutput{}, err
		}
		hook, runID = s.cfg.Journal.Hook(ctx, run.ID), run.ID
	}

	outcome, err := apply.Diff(apply.Options{
		Path:     target,
		Diff:     in.Diff,
		Checksum: in.Checksum,
		Strategy: strategy,
		Hook:     hook,
	})
	if err != nil {
		s.logger.Debug("apply_diff failed", "path", target, "error", err)
		return nil, ApplyDiffOutput{}, err
	}
	s.logger.Debug("apply_diff", "path", target, "status", outcome.Status, "hunks", outcome.HunksApplied)
	return nil, ApplyDiffOutput{
		Path:         in.Path,
		Status:       string(outcome.Status),
		HunksApplied: outcome.HunksApplied,
		Warnings:     outcome.Warnings,
		RunID:        runID,
	}, nil
}

type ApplyPlanInput struct {
	Plan     string `json:"plan" jsonschema:"YAML plan document with a diffs list"`
	Strategy string `json:"strategy,omitempty" jsonschema:"write, dry-run or backup[:suffix]; default write"`
}

type PlanEntryOutput struct {
	Path         string `json:"path"`
	Status       string `json:"status"`
	HunksApplied int    `json:"hunks_applied"`
}

type ApplyPlanOutput struct {
	Entries []PlanEntryOutput `json:"entries,omitempty"`
	RunID   string            `json:"run_id,omitempty"`
}

func (s *Server) applyPlan(ctx context.Context, _ *mcp.CallToolRequest, in ApplyPlanInput) (*mcp.CallToolResult, ApplyPlanOutput, error) {
	plan, err := apply.ParsePlan([]byte(in.Plan))
	if err != nil {
		return nil, ApplyPlanOutput{}, err
	}
	strategy, err := s.strategy(in.Strategy)
	if err != nil {
		return nil, ApplyPlanOutput{}, err
	}

	opts := []apply.RunnerOption{apply.WithGuard(s.cfg.Guard), apply.WithLogger(s.logger)}
	var runID string
	if s.cfg.Journal != nil && !strategy.IsDryRun() {
		run, err := s.cfg.Journal.StartRun(ctx, fmt.Sprintf("mcp apply_plan (%d entries)", len(plan.Diffs)))
		if err != nil {
			return nil, ApplyPlanOutput{}, err
		}
		runID = run.ID
		opts = append(opts, apply.WithCommitHook(s.cfg.Journal.Hook(ctx, run.ID)))
	}

	outcomes, err := apply.NewRunner(opts...).Run(ctx, plan, strategy)
	if err != nil {
		if runID != "" {
			err = fmt.Errorf("%w (journal run %s holds the entries applied so far)", err, runID)
		}
		return nil, ApplyPlanOutput{}, err
	}

	out := ApplyPlanOutput{RunID: runID}
	for i, o := range outcomes {
		out.Entries = append(out.Entries, PlanEntryOutput{
			Path:         plan.Diffs[i].Path,
			Status:       string(o.Status),
			HunksApplied: o.HunksApplied,
		})
	}
	return nil, out, nil
}

type ChecksumInput struct {
	Path      string `json:"path" jsonschema:"file to hash, relative to the server root"`
	Algorithm string `json:"algorithm,omitempty" jsonschema:"sha256 (default) or blake3"`
}

type ChecksumOutput struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

func (s *Server) checksum(_ context.Context, _ *mcp.CallToolRequest, in ChecksumInput) (*mcp.CallToolResult, ChecksumOutput, error) {
	target, err := s.cfg.Guard.Resolve(in.Path)
	if err != nil {
		return nil, ChecksumOutput{}, err
	}
	sum, err := apply.FileChecksum(apply.Algorithm(in.Algorithm), target)
	if err != nil {
		return nil, ChecksumOutput{}, err
	}
	return nil, ChecksumOutput{Path: in.Path, Checksum: sum}, nil
}

// strategy parses a tool's strategy argument. A bare "backup" uses the
// configured suffix.
func (s *Server) strategy(name string) (apply.Strategy, error) {
	st, err := apply.ParseStrategy(name)
	if err != nil {
		return apply.Strategy{}, err
	}
	if name == "backup" && s.cfg.BackupSuffix != "" {
		st = apply.WriteBackup(s.cfg.BackupSuffix)
	}
	return st, nil
}
