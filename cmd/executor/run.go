package main

import (
	"fmt"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logsink"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runFlags struct {
	handler    string
	jobID      int64
	logID      int64
	param      string
	paramFile  string
	jobParam   string
	shardIndex int
	shardTotal int
	timeout    int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one invocation and print its log to stdout",
	Long: `run executes a single invocation in the foreground, the same way the
serve command would for a trigger, and exits non-zero if the outcome is not
a success. Interrupting it cancels the invocation; a run that was already
created is left to its TTL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		param := runFlags.param
		if runFlags.paramFile != "" {
			data, err := os.ReadFile(runFlags.paramFile)
			if err != nil {
				return fmt.Errorf("reading param file: %w", err)
			}
			param = string(data)
		}

		orch, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer orch.Close()

		registry, err := newRegistry(cfg, orch, nil)
		if err != nil {
			return err
		}
		handler, err := registry.Lookup(runFlags.handler)
		if err != nil {
			return err
		}

		inv := job.Invocation{
			JobID:          runFlags.jobID,
			LogID:          runFlags.logID,
			Handler:        runFlags.handler,
			Param:          param,
			JobParam:       runFlags.jobParam,
			ShardIndex:     runFlags.shardIndex,
			ShardTotal:     runFlags.shardTotal,
			TimeoutSeconds: runFlags.timeout,
		}
		if inv.LogID == 0 {
			inv.LogID = int64(uuid.New().ID())
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		out := cmd.OutOrStdout()
		sink := logsink.NewMemorySink(func(_ int64, line string) {
			fmt.Fprintln(out, line)
		})

		slog.Info("Running invocation", "jobId", inv.JobID, "logId", inv.LogID, "handler", inv.Handler)
		outcome := handler.Execute(ctx, inv, sink)
		if !outcome.Success() {
			return fmt.Errorf("invocation %s: %s", outcome.State, outcome.Reason)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.handler, "handler", "k8sJobHandler", "Handler name")
	f.Int64Var(&runFlags.jobID, "job-id", 1, "Job id used in the run name and labels")
	f.Int64Var(&runFlags.logID, "log-id", 0, "Log id (random if zero)")
	f.StringVar(&runFlags.param, "param", "", "Job parameter (JSON run configuration)")
	f.StringVar(&runFlags.paramFile, "param-file", "", "Read the job parameter from a file")
	f.StringVar(&runFlags.jobParam, "job-param", "", "Value for ${jobParam} (defaults to the job parameter)")
	f.IntVar(&runFlags.shardIndex, "shard-index", 0, "Value for ${shardIndex}")
	f.IntVar(&runFlags.shardTotal, "shard-total", 1, "Value for ${shardTotal}")
	f.IntVar(&runFlags.timeout, "timeout", 0, "Maximum wait in seconds (0 uses MAX_WAIT)")
}
