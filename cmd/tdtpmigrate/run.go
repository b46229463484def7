package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruslano69/tdtp-migrator/pkg/etl"
)

var runOpts struct {
	config      string
	project     string
	strategy    string
	policy      string
	parallelism int
	jsonOutput  bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a migration",
	Long: `Run every pipeline stage of a project migration and wait for it to finish.

The first SIGINT cancels the execution at the next stage boundary; tables
already written to the target are kept.

Examples:
  # Run with an execution config file
  tdtpmigrate run --projects projects.yaml --config execution.yaml

  # Override the project and load strategy
  tdtpmigrate run --config execution.yaml --project shop --strategy merge`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.config, "config", "c", "", "execution config YAML")
	runCmd.Flags().StringVar(&runOpts.project, "project", "", "project id, overrides project_id")
	runCmd.Flags().StringVar(&runOpts.strategy, "strategy", "", "load strategy: truncate-load, merge, append")
	runCmd.Flags().StringVar(&runOpts.policy, "on-error", "", "error handling: fail-fast, continue-on-error, skip-and-log")
	runCmd.Flags().IntVar(&runOpts.parallelism, "parallelism", 0, "tables processed concurrently within a stage")
	runCmd.Flags().BoolVar(&runOpts.jsonOutput, "json", false, "print the final execution state as JSON")
	runCmd.Flags().StringVar(&idmapFile, "idmap-db", "", "SQLite file that keeps ID mappings between runs")
}

// executionConfig собирает конфигурацию из файла и флагов
func executionConfig() (etl.ExecutionConfig, error) {
	cfg := etl.DefaultExecutionConfig()
	if runOpts.config != "" {
		data, err := os.ReadFile(runOpts.config)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = etl.ParseExecutionConfig(data); err != nil {
			return cfg, err
		}
	}

	if runOpts.project != "" {
		cfg.ProjectID = runOpts.project
	}
	if runOpts.strategy != "" {
		cfg.LoadStrategy = etl.LoadStrategy(runOpts.strategy)
	}
	if runOpts.policy != "" {
		cfg.ErrorHandling = etl.ErrorPolicy(runOpts.policy)
	}
	if runOpts.parallelism > 0 {
		cfg.Parallelism = runOpts.parallelism
	}

	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

func runMigration(ctx context.Context) error {
	cfg, err := executionConfig()
	if err != nil {
		return err
	}
	repo, err := openRepository()
	if err != nil {
		return err
	}
	env, release, err := newEnv(ctx, repo)
	if err != nil {
		return err
	}
	defer release()

	ctrl := etl.NewController(env)
	id, err := ctrl.Start(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("execution", id).Str("project", cfg.ProjectID).Msg("migration started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	defer func() {
		signal.Stop(sig)
		close(done)
	}()
	go func() {
		select {
		case <-sig:
			log.Warn().Str("execution", id).Msg("cancelling at next stage boundary")
			if err := ctrl.Cancel(id); err != nil {
				log.Warn().Err(err).Msg("cancel failed")
			}
		case <-done:
		}
	}()

	exec, err := ctrl.Wait(ctx, id)
	if err != nil {
		return err
	}

	if runOpts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(exec); err != nil {
			return err
		}
	} else {
		printExecution(exec)
	}

	if exec.Status != etl.StatusCompleted {
		return fmt.Errorf("execution %s finished with status %s", exec.ID, exec.Status)
	}
	return nil
}

func printExecution(e *etl.Execution) {
	fmt.Printf("Execution %s (%s): %s\n", e.ID, e.ProjectID, e.Status)
	for _, s := range e.Stages {
		line := fmt.Sprintf("  %-16s %-10s processed=%-8d failed=%-8d %s",
			s.Stage, s.Status, s.RecordsProcessed, s.RecordsFailed, s.Duration())
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("Records: %d total, %d processed, %d failed\n", e.TotalRecords, e.ProcessedRecords, e.FailedRecords)
	if e.Error != "" {
		fmt.Printf("Error: %s\n", e.Error)
	}
}
