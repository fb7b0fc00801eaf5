package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/nerve/internal/domain/apply"
	"github.com/matiasleandrokruk/nerve/internal/narrate"
)

func (a *app) applyCmd() *cobra.Command {
	var diffPath, checksum, strategy string
	cmd := &cobra.Command{
		Use:   "apply <path>",
		Short: "Apply a single-file unified diff",
		Long: `Apply a single-file unified diff to <path>.

The diff is read from --diff (a file, or "-" for stdin). With --checksum the
current content must match before anything is written. Strategies:
write (default), dry-run, backup[:suffix].`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.parseStrategy(strategy)
			if err != nil {
				return err
			}
			diff, err := readInput(cmd.InOrStdin(), diffPath)
			if err != nil {
				return err
			}
			target, err := a.guard().Resolve(args[0])
			if err != nil {
				return err
			}

			opts := apply.Options{Path: target, Diff: string(diff), Checksum: checksum, Strategy: st}
			step := narrate.New("apply").Infof("%s (%s)", args[0], st)
			if !st.IsDryRun() {
				store, err := a.openJournal(cmd.Context())
				if err != nil {
					return err
				}
				if store != nil {
					run, err := store.StartRun(cmd.Context(), "apply "+args[0])
					if err != nil {
						return err
					}
					opts.Hook = store.Hook(cmd.Context(), run.ID)
					step = step.Infof("journal run %s", run.ID)
				}
			}

			outcome, err := apply.Diff(opts)
			if err != nil {
				a.narrate(step.Fail(err.Error()))
				return errReported
			}
			for _, w := range outcome.Warnings {
				step = step.Info("warning: " + w)
			}
			a.narrate(step.Ok(describeOutcome(outcome)))
			return nil
		},
	}
	cmd.Flags().StringVar(&diffPath, "diff", "-", `diff file, "-" for stdin`)
	cmd.Flags().StringVar(&checksum, "checksum", "", "expected checksum of the current content")
	cmd.Flags().StringVar(&strategy, "strategy", "write", "write, dry-run or backup[:suffix]")
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	var strategy, root string
	cmd := &cobra.Command{
		Use:   "plan <plan.yaml>",
		Short: "Apply a plan of diffs in order, stopping at the first failure",
		Long: `Apply every entry of a YAML plan in order.

The first failing entry stops the run. Entries before it stay applied; run
with --strategy dry-run first, or configure a journal and use
'nrv journal restore --run <id>' to roll back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.parseStrategy(strategy)
			if err != nil {
				return err
			}
			plan, err := apply.LoadPlan(args[0])
			if err != nil {
				return err
			}
			guard := a.guard()
			if root != "" {
				guard.Root = root
			}

			step := narrate.New("plan").Infof("%d entries (%s)", len(plan.Diffs), st)
			opts := []apply.RunnerOption{
				apply.WithGuard(guard),
				apply.WithLogger(a.logger),
				apply.WithObserver(func(i int, entry apply.ScaffoldDiff, o *apply.Outcome) {
					step = step.Infof("[%d] %s: %s", i, entry.Path, describeOutcome(o))
				}),
			}
			if !st.IsDryRun() {
				store, err := a.openJournal(cmd.Context())
				if err != nil {
					return err
				}
				if store != nil {
					run, err := store.StartRun(cmd.Context(), "plan "+filepath.Base(args[0]))
					if err != nil {
						return err
					}
					opts = append(opts, apply.WithCommitHook(store.Hook(cmd.Context(), run.ID)))
					step = step.Infof("journal run %s", run.ID)
				}
			}

			if _, err := apply.NewRunner(opts...).Run(cmd.Context(), plan, st); err != nil {
				a.narrate(step.Fail(err.Error()))
				return errReported
			}
			a.narrate(step.Ok("plan applied"))
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "write", "write, dry-run or backup[:suffix]")
	cmd.Flags().StringVar(&root, "root", "", "resolve plan paths under this directory")
	return cmd
}

func (a *app) diffCmd() *cobra.Command {
	var name string
	var contextLines int
	cmd := &cobra.Command{
		Use:   "diff <before> <after>",
		Short: "Print a unified diff turning <before> into <after>",
		Long: `Print a single-file unified diff turning <before> into <after>.

A missing <before> produces a creation diff. --path sets the name used in the
headers (default: <after>).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := os.ReadFile(args[0])
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			after, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			if name == "" {
				name = filepath.ToSlash(args[1])
			}
			_, err = io.WriteString(a.out, apply.GenerateContext(name, before, after, contextLines))
			return err
		},
	}
	cmd.Flags().StringVar(&name, "path", "", "path written in the diff headers")
	cmd.Flags().IntVar(&contextLines, "context", apply.DefaultContext, "lines of context")
	return cmd
}

func (a *app) checksumCmd() *cobra.Command {
	var algo string
	cmd := &cobra.Command{
		Use:   "checksum <path>...",
		Short: "Print file checksums in the format apply --checksum expects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				sum, err := apply.FileChecksum(apply.Algorithm(algo), path)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s  %s\n", sum, path) //nolint:errcheck
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&algo, "algo", string(apply.AlgorithmSHA256), "sha256 or blake3")
	return cmd
}

func describeOutcome(o *apply.Outcome) string {
	if o.Status == apply.StatusNoop {
		return "already applied"
	}
	return fmt.Sprintf("%s, %d hunk(s)", o.Status, o.HunksApplied)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
