package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"conveyor/internal/failures"
	"conveyor/internal/queue"
)

// newClassifyCommand exposes the failure classifier for debugging: feed it an
// error message and a job kind and it prints the category plus the backoff
// schedule recovery would follow.
func newClassifyCommand() *cobra.Command {
	var kindFlag string
	var attempts int

	cmd := &cobra.Command{
		Use:         "classify <error-message>",
		Short:       "Classify an error message and show its recovery schedule",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := queue.ParseKind(kindFlag)
			if !ok {
				return fmt.Errorf("unknown job kind %q", kindFlag)
			}
			category, _ := failures.Classify(errors.New(args[0]), kind)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Category:       %s\n", category)
			fmt.Fprintf(out, "FTP reconnect:  %s\n", yesNo(category.RequiresFTPReconnect()))
			fmt.Fprintf(out, "Path re-check:  %s\n", yesNo(category.RequiresPathValidation()))

			rows := make([][]string, 0, attempts)
			for attempt := 1; attempt <= attempts; attempt++ {
				rows = append(rows, []string{
					strconv.Itoa(attempt),
					fmt.Sprintf("%d min", failures.BackoffMinutes(category, attempt)),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Attempt", "Backoff"}, rows, 1, 2))
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "copy", "Job kind the error occurred in")
	cmd.Flags().IntVar(&attempts, "attempts", 5, "How many attempts to show")
	return cmd
}
