package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/zenify/internal/mutation"
)

type queueListOptions struct {
	jsonOutput bool
}

type queuePurgeOptions struct {
	deadOnly bool
}

func newQueueCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the persisted mutation queue",
	}

	cmd.AddCommand(newQueueListCmd(flags))
	cmd.AddCommand(newQueueRequeueCmd(flags))
	cmd.AddCommand(newQueuePurgeCmd(flags))

	return cmd
}

func newQueueListCmd(flags *rootFlags) *cobra.Command {
	opts := &queueListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending jobs and dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, "list queue", flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			pending, dead := rt.Queue.Jobs(), rt.Queue.DeadLetters()
			if opts.jsonOutput {
				return renderQueueJSON(cmd.OutOrStdout(), pending, dead)
			}
			renderQueue(cmd.OutOrStdout(), pending, dead)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func newQueueRequeueCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Move dead letters back to the end of the pending queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, "requeue dead letters", flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			moved, err := rt.Queue.RequeueDeadLetters(cmd.Context())
			if err != nil {
				return newCommandError("requeue dead letters", "persisting the queue", err, "Check that the queue storage is writable.")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s); %d pending\n", moved, rt.Queue.PendingCount())
			return nil
		},
	}
}

func newQueuePurgeCmd(flags *rootFlags) *cobra.Command {
	opts := &queuePurgeOptions{}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop queued jobs without replaying them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, "purge queue", flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			if opts.deadOnly {
				removed, err := rt.Queue.ClearDeadLetters(cmd.Context())
				if err != nil {
					return newCommandError("purge queue", "persisting the queue", err, "Check that the queue storage is writable.")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d dead letter(s)\n", removed)
				return nil
			}

			removed := rt.Queue.PendingCount() + len(rt.Queue.DeadLetters())
			if err := rt.Queue.Clear(cmd.Context()); err != nil {
				return newCommandError("purge queue", "persisting the queue", err, "Check that the queue storage is writable.")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.deadOnly, "dead-only", false, "Only remove dead letters")

	return cmd
}

type queueJSONPayload struct {
	Version     string         `json:"version"`
	Pending     []mutation.Job `json:"pending"`
	DeadLetters []mutation.Job `json:"dead_letters"`
}

func renderQueueJSON(w io.Writer, pending, dead []mutation.Job) error {
	payload := queueJSONPayload{
		Version:     "1.0",
		Pending:     nonNil(pending),
		DeadLetters: nonNil(dead),
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func nonNil(jobs []mutation.Job) []mutation.Job {
	if jobs == nil {
		return []mutation.Job{}
	}
	return jobs
}

// renderQueue writes the pending and dead-letter tables. Styling is resolved
// against w, so plain buffers receive undecorated text.
func renderQueue(w io.Writer, pending, dead []mutation.Job) {
	renderer := lipgloss.NewRenderer(w)
	title := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	header := renderer.NewStyle().Bold(true)
	failed := renderer.NewStyle().Foreground(lipgloss.Color("196"))

	fmt.Fprintln(w, title.Render(fmt.Sprintf("Pending jobs (%d)", len(pending))))
	renderJobTable(w, pending, header, failed)
	fmt.Fprintln(w)
	fmt.Fprintln(w, title.Render(fmt.Sprintf("Dead letters (%d)", len(dead))))
	renderJobTable(w, dead, header, failed)
}

func renderJobTable(w io.Writer, jobs []mutation.Job, header, failed lipgloss.Style) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}

	headers := []string{"SEQ", "ID", "MUTATION", "ATTEMPTS", "ENQUEUED", "LAST ERROR"}
	rows := make([][]string, len(jobs))
	for i, job := range jobs {
		rows[i] = []string{
			strconv.FormatInt(job.Seq, 10),
			job.ID,
			job.MutationKey,
			strconv.Itoa(job.Attempts),
			job.EnqueuedAt.UTC().Format(time.RFC3339),
			valueOrFallback(job.LastError, "-"),
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	fmt.Fprintln(w, header.Render(formatRow(headers, widths)))
	for i, row := range rows {
		line := formatRow(row, widths)
		if jobs[i].LastError != "" {
			line = failed.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

func formatRow(cells []string, widths []int) string {
	var b strings.Builder
	last := len(cells) - 1
	for i, cell := range cells {
		b.WriteString(cell)
		if i < last {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
	}
	return b.String()
}

func valueOrFallback(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
