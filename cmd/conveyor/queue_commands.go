package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"conveyor/internal/queue"
	"conveyor/internal/scheduler"
)

var titleCaser = cases.Title(language.Und)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the pipeline queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueJobsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stateFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued files",
		RunE: func(cmd *cobra.Command, args []string) error {
			states := make([]queue.FileState, 0, len(stateFlags))
			for _, raw := range stateFlags {
				state, ok := queue.ParseFileState(strings.ToLower(strings.TrimSpace(raw)))
				if !ok {
					return fmt.Errorf("unknown state %q", raw)
				}
				states = append(states, state)
			}
			return ctx.withStore(func(store *queue.Store) error {
				files, err := store.ListFiles(cmd.Context(), states...)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(files))
				for _, file := range files {
					rows = append(rows, []string{
						strconv.FormatInt(file.ID, 10),
						titleCaser.String(string(file.State)),
						strconv.Itoa(file.Priority),
						file.RemotePath,
						file.FailureCategory,
						yesNo(file.ManualRetryRequired),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "State", "Priority", "Source", "Failure", "Manual"},
					rows, 1, 3,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&stateFlags, "state", nil, "Filter by file state (repeatable)")
	return cmd
}

func newQueueJobsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <file-id>",
		Short: "Show the job history for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}
			return ctx.withStore(func(store *queue.Store) error {
				jobs, err := store.JobsForFile(cmd.Context(), fileID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Kind),
						string(job.State),
						fmt.Sprintf("%.0f%%", job.ProgressPercent),
						job.ProgressStage,
						formatTime(job.StartedAt),
						formatTime(job.FinishedAt),
						job.ErrorMessage,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Job", "Kind", "State", "Progress", "Stage", "Started", "Finished", "Error"},
					rows, 1, 4,
				))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <file-id>...",
		Short: "Re-queue failed files from their checkpoints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScheduler(func(sched *scheduler.Scheduler) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					fileID, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid file id %q", arg)
					}
					job, err := latestFailedJob(cmd, sched, fileID)
					if err != nil {
						return err
					}
					fresh, err := sched.Retry(cmd.Context(), job.ID)
					if err != nil {
						return fmt.Errorf("retry file %d: %w", fileID, err)
					}
					fmt.Fprintf(out, "file %d re-queued as %s job %d\n", fileID, fresh.Kind, fresh.ID)
				}
				return nil
			})
		},
	}
}

func latestFailedJob(cmd *cobra.Command, sched *scheduler.Scheduler, fileID int64) (*queue.Job, error) {
	jobs, err := sched.Store().JobsForFile(cmd.Context(), fileID)
	if err != nil {
		return nil, err
	}
	for i := len(jobs) - 1; i >= 0; i-- {
		if jobs[i].State == queue.JobFailed {
			return jobs[i], nil
		}
	}
	return nil, fmt.Errorf("file %d has no failed job to retry", fileID)
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed files from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				var removed int64
				var err error
				if all {
					removed, err = store.Clear(cmd.Context())
				} else {
					removed, err = store.ClearCompleted(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d files\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every file regardless of state")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Request cancellation of running cancellable jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScheduler(func(sched *scheduler.Scheduler) error {
				flagged, err := sched.CancelActive(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %d jobs\n", flagged)
				return nil
			})
		},
	}
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Local().Format("2006-01-02 15:04:05")
}
