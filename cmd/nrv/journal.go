package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/nerve/internal/domain/journal"
	"github.com/matiasleandrokruk/nerve/internal/narrate"
)

func (a *app) journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect journaled apply runs and restore pre-images",
	}
	cmd.AddCommand(a.journalListCmd(), a.journalEntriesCmd(), a.journalRestoreCmd())
	return cmd
}

func (a *app) journalListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.requireJournal(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return json.NewEncoder(a.out).Encode(runs)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCREATED\tENTRIES\tLABEL") //nolint:errcheck
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Entries, r.Label) //nolint:errcheck
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func (a *app) journalEntriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entries <run-id>",
		Short: "List the files a run committed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.requireJournal(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.ListEntries(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return json.NewEncoder(a.out).Encode(entries)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTRY\tSEQ\tSTATUS\tHUNKS\tRESTORED\tPATH") //nolint:errcheck
			for _, e := range entries {
				status := string(e.Status)
				if e.Error != "" {
					status = "failed"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n", e.ID, e.Seq, status, e.Hunks, restoredMark(e), e.Path) //nolint:errcheck
			}
			return tw.Flush()
		},
	}
}

func (a *app) journalRestoreCmd() *cobra.Command {
	var runID string
	var force bool
	cmd := &cobra.Command{
		Use:   "restore [entry-id]",
		Short: "Write a journaled pre-image back (or a whole run with --run)",
		Long: `Write a journaled pre-image back, or every entry of a run with --run.

A file edited after the apply is left alone unless --force is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (runID == "") == (len(args) == 0) {
				return &usageError{err: fmt.Errorf("give either an entry id or --run")}
			}
			store, err := a.requireJournal(cmd.Context())
			if err != nil {
				return err
			}

			var opts []journal.RestoreOption
			if force {
				opts = append(opts, journal.Force())
			}

			step := narrate.New("restore")
			var restored []journal.Entry
			if runID != "" {
				restored, err = store.RestoreRun(cmd.Context(), runID, opts...)
			} else {
				var e journal.Entry
				e, err = store.Restore(cmd.Context(), args[0], opts...)
				restored = []journal.Entry{e}
			}
			if err != nil {
				a.narrate(step.Fail(err.Error()))
				return errReported
			}
			for _, e := range restored {
				step = step.Info(e.Path)
			}
			a.narrate(step.Ok(fmt.Sprintf("%d file(s) restored", len(restored))))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "restore every entry of this run, newest first")
	cmd.Flags().BoolVar(&force, "force", false, "restore files edited after the apply")
	return cmd
}

func restoredMark(e journal.Entry) string {
	if e.RestoredAt == nil {
		return "-"
	}
	return e.RestoredAt.Local().Format(time.DateTime)
}
