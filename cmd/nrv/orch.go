package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/nerve/internal/domain/llm"
	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
	"github.com/matiasleandrokruk/nerve/internal/narrate"
)

func (a *app) capsCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Fetch the orchestrator's capability snapshot",
		Long: `Fetch the orchestrator's capability snapshot and print it as JSON.

With --out the snapshot is written as YAML instead, e.g. to pin it for
'nrv serve-dev' via NRV_DEV_SNAPSHOT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.orchestrator().Capabilities(cmd.Context())
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := orch.WriteSnapshot(outPath, snap); err != nil {
					return err
				}
				a.narrate(narrate.New("caps").Ok(fmt.Sprintf("%d models written to %s", len(snap.Models), outPath)))
				return nil
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the snapshot as YAML to this file")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var model, workload string
	var maxTokens uint32
	cmd := &cobra.Command{
		Use:   "run <prompt>...",
		Short: "Submit a task and stream its tokens to stdout",
		Long: `Submit a task to the orchestrator and stream its answer.

The request is validated against the capability snapshot before anything is
enqueued. Tokens are written to stdout as they arrive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := a.orchestrator()

			snap, err := client.Capabilities(ctx)
			if err != nil {
				return err
			}
			b := llm.NewRequestBuilder(snap).Model(model).Prompt(strings.Join(args, " "))
			if workload != "" {
				b = b.Workload(orch.WorkloadKind(workload))
			}
			if cmd.Flags().Changed("max-tokens") {
				b = b.MaxTokens(maxTokens)
			}
			req, err := b.Build()
			if err != nil {
				var be *llm.BuildError
				if errors.As(err, &be) {
					return &usageError{err: err}
				}
				return err
			}

			handle, err := client.Enqueue(ctx, req)
			if err != nil {
				return err
			}
			a.logger.Info("task enqueued", "task_id", handle.ID(), "model", req.Model())

			stream, err := client.Stream(ctx, handle)
			if err != nil {
				return err
			}
			defer stream.Close() //nolint:errcheck

			if a.jsonOut {
				return a.streamJSON(handle, stream)
			}
			for evt, err := range stream.All() {
				if err != nil {
					fmt.Fprintln(a.out) //nolint:errcheck
					return err
				}
				switch evt.Kind {
				case llm.EventToken:
					fmt.Fprint(a.out, evt.Text) //nolint:errcheck
				case llm.EventMetrics:
					a.logger.Info("task metrics", "task_id", handle.ID(), "metrics", evt.Payload)
				case llm.EventCompleted:
					fmt.Fprintln(a.out) //nolint:errcheck
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model id (required)")
	cmd.Flags().StringVar(&workload, "workload", "", "workload kind; default: first workload serving the model")
	cmd.Flags().Uint32Var(&maxTokens, "max-tokens", 0, "output token limit")
	cmd.MarkFlagRequired("model") //nolint:errcheck
	return cmd
}

type jsonEvent struct {
	TaskID  orch.TaskID `json:"task_id"`
	Kind    string      `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Index   *uint64     `json:"index,omitempty"`
	Payload string      `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (a *app) streamJSON(handle llm.TaskHandle, stream *llm.Stream) error {
	enc := json.NewEncoder(a.out)
	for evt, err := range stream.All() {
		line := jsonEvent{TaskID: handle.ID(), Kind: evt.Kind.String(), Text: evt.Text, Payload: evt.Payload}
		if evt.Kind == llm.EventToken {
			idx := evt.Index
			line.Index = &idx
		}
		if err != nil {
			line.Kind, line.Error = "error", err.Error()
		}
		if encErr := enc.Encode(line); encErr != nil {
			return encErr
		}
		if err != nil {
			return errReported
		}
	}
	return nil
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Ask the orchestrator to cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := llm.NewTaskHandle(orch.TaskAccepted{TaskID: orch.TaskID(args[0])})
			if _, err := a.orchestrator().Cancel(cmd.Context(), handle); err != nil {
				return err
			}
			a.narrate(narrate.New("cancel").Ok(args[0]))
			return nil
		},
	}
}
