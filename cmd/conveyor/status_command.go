package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"conveyor/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				color := writerIsTerminal(out)

				lockPath := filepath.Join(cfg.LogDir, "conveyord.lock")
				running := daemonHoldsLock(lockPath)
				fmt.Fprintf(out, "Daemon:   %s\n", colorize(yesNoRunning(running), running, color))
				fmt.Fprintf(out, "Database: %s\n", store.Path())
				fmt.Fprintln(out)

				rows := make([][]string, 0, len(stats.ByState))
				states := make([]string, 0, len(stats.ByState))
				for state := range stats.ByState {
					states = append(states, string(state))
				}
				sort.Strings(states)
				for _, state := range states {
					rows = append(rows, []string{state, fmt.Sprintf("%d", stats.ByState[queue.FileState(state)])})
				}
				rows = append(rows, []string{"total", fmt.Sprintf("%d", stats.TotalFiles)})
				fmt.Fprintln(out, renderTable([]string{"State", "Files"}, rows, 2))

				fmt.Fprintf(out, "Active jobs: %d  Queued jobs: %d  Manual retry: %s\n",
					stats.ActiveJobs, stats.QueuedJobs,
					colorize(fmt.Sprintf("%d", stats.ManualRetry), stats.ManualRetry == 0, color),
				)
				return nil
			})
		},
	}
}

// daemonHoldsLock probes the daemon lock without stealing it.
func daemonHoldsLock(path string) bool {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = lock.Unlock()
		return false
	}
	return true
}

func yesNoRunning(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func colorize(value string, good bool, enabled bool) string {
	if !enabled {
		return value
	}
	if good {
		return ansiGreen + value + ansiReset
	}
	return ansiYellow + value + ansiReset
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
