package main

import (
	"context"
	"fmt"
	"os"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/dikwickley/promptoncron/internal/config"
	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/table"
)

var runsLimit int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *db.DB) error {
			tasks, err := store.ListTasks(ctx)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println(dimStyle.Render("No tasks"))
				return nil
			}

			tbl := listing{headers: []string{"ID", "NAME", "SCHEDULE", "STATUS", "NEXT RUN"}}
			for _, t := range tasks {
				tbl.add(
					plain(t.ID), plain(t.Name), plain(t.CronExpression+" ("+t.Timezone+")"),
					styled(string(t.Status), taskStatusStyle(t.Status)), plain(formatTime(t.NextRunAt)),
				)
			}
			_, err = io.WriteString(os.Stdout, tbl.render())
			return err
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs <task-id>",
	Short: "List recent runs of a task, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *db.DB) error {
			if _, err := store.GetTask(ctx, args[0]); err != nil {
				return err
			}
			runs, err := store.ListTaskRuns(ctx, args[0], runsLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println(dimStyle.Render("No runs"))
				return nil
			}

			tbl := listing{headers: []string{"ID", "SCHEDULED", "STATUS", "DURATION", "ERROR"}}
			for _, r := range runs {
				duration := "-"
				if r.FinishedAt != nil && r.StartedAt != nil {
					duration = r.Duration().Round(time.Millisecond).String()
				}
				errMsg := ""
				if r.ErrorMessage != nil {
					errMsg = truncate(*r.ErrorMessage, 60)
				}
				tbl.add(
					plain(r.ID), plain(formatTime(&r.ScheduledFor)),
					styled(string(r.Status), runStatusStyle(r.Status)), plain(duration), plain(errMsg),
				)
			}
			_, err = io.WriteString(os.Stdout, tbl.render())
			return err
		})
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <run-id>",
	Short: "Render the result table of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *db.DB) error {
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if run.Status == db.RunStatusFailed {
				msg := ""
				if run.ErrorMessage != nil {
					msg = *run.ErrorMessage
				}
				fmt.Println(statusFail.Render("failed") + " " + msg)
				return nil
			}
			res, err := store.GetResult(ctx, run.ID)
			if err != nil {
				return err
			}

			md := (&table.Table{Columns: res.Columns, Rows: res.Rows, Summary: res.Summary}).Markdown()
			renderer, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(120),
			)
			if err != nil {
				fmt.Print(md)
				return nil
			}
			out, err := renderer.Render(md)
			if err != nil {
				fmt.Print(md)
				return nil
			}
			fmt.Print(out)
			if run.LLMModel != nil {
				fmt.Println(dimStyle.Render("model: " + *run.LLMModel))
			}
			return nil
		})
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")

	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(resultCmd)
}

// withStore opens the configured store without starting any loop.
func withStore(fn func(ctx context.Context, store *db.DB) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := db.New(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()
	return fn(ctx, store)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
