// executor runs scheduled-job invocations as one-off container runs on
// Kubernetes or Docker.
package main

import (
	"fmt"
	"jobexecutor/internal/config"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "executor",
	Short: "Job executor that realises scheduler invocations as container runs",
	Long: `executor accepts job invocations from the scheduler, clones the container
of an existing workload into a one-off run, follows the run to a verdict and
relays its output to the invocation log.

Configuration comes from environment variables with an optional YAML file
(--config or EXECUTOR_CONFIG) underneath them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("EXECUTOR_CONFIG"), "Path to YAML configuration file")
	rootCmd.AddCommand(serveCmd, runCmd)
}

// loadConfig reads the configuration and installs the JSON logger.
func loadConfig() (*config.ServiceConfig, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}
