package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"conveyor/internal/scheduler"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var priority int
	var session string
	var programOutput bool

	cmd := &cobra.Command{
		Use:   "add <remote-path>...",
		Short: "Enqueue files for the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := strings.TrimSpace(session)
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return ctx.withScheduler(func(sched *scheduler.Scheduler) error {
				out := cmd.OutOrStdout()
				for _, path := range args {
					file, job, err := sched.Ingest(cmd.Context(), path, sessionID, priority, programOutput, nil)
					if err != nil {
						return fmt.Errorf("add %s: %w", path, err)
					}
					fmt.Fprintf(out, "file %d queued (copy job %d, session %s)\n", file.ID, job.ID, sessionID)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Scheduling priority (higher runs first)")
	cmd.Flags().StringVar(&session, "session", "", "Session identifier (defaults to a new UUID)")
	cmd.Flags().BoolVar(&programOutput, "program-output", false, "Mark the files as program output")
	return cmd
}
