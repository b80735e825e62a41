package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"corpus-pipeline/internal/pipeline"
	"corpus-pipeline/internal/queue"
	"corpus-pipeline/internal/store"
	"corpus-pipeline/internal/tracker"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cmd.Context(), cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.RunMigrations(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var (
	runSampleSize int
	runUnbounded  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one cleaning pass synchronously",
	Long: `Create a run, execute it in-process and print its result.

The job lock shared with workers is held for the duration of the run, so
the command fails fast when a worker is already processing the job.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer st.Close()

		orch, err := pipeline.FromConfig(ctx, cfg, st, log)
		if err != nil {
			return err
		}

		var sample *int
		if !runUnbounded {
			n := runSampleSize
			if n <= 0 {
				n = cfg.Pipeline.DefaultSampleSize
			}
			sample = &n
		}
		client := queue.NewClient(cfg)
		defer client.Close()
		lock := queue.NewJobLock(client, cfg.JobLockTTL)
		owner := fmt.Sprintf("corpusctl/%d", os.Getpid())
		if err := lock.Acquire(ctx, cfg.Pipeline.JobName, owner); err != nil {
			return err
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx), cfg.Pipeline.JobName, owner) }()

		run, err := st.CreateRun(ctx, store.CreateRunParams{TriggeredBy: "corpusctl", SampleSize: sample})
		if err != nil {
			return err
		}

		size := 0
		if sample != nil {
			size = *sample
		}
		res, err := tracker.New(st, orch, log, cfg.ErrorMessageLimit).Execute(ctx, run.ID, size)
		if err != nil {
			return errors.Wrapf(err, "run %s failed", run.ID)
		}
		return printJSON(cmd, map[string]any{"run_id": run.ID, "result": res})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cmd.Context(), cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer st.Close()
		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, run)
	},
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Show the pipeline cursor watermark",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cmd.Context(), cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer st.Close()
		c, err := st.EnsureCursor(cmd.Context(), cfg.Pipeline.JobName)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.JobName, pipeline.FormatWatermark(c.Watermark))
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runSampleSize, "sample-size", 0, "rows to read past the cursor (default from config)")
	runCmd.Flags().BoolVar(&runUnbounded, "all", false, "read every approved row past the cursor")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

