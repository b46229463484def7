package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruslano69/tdtp-migrator/pkg/etl"
)

var serveOpts struct {
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the execution HTTP API",
	Long: `Start an HTTP server that runs migrations in the background and exposes
their state.

Endpoints:
  GET  /executions                  list executions
  POST /executions                  start an execution (body: execution config JSON)
  GET  /executions/{id}             execution state
  GET  /executions/{id}/report      migration report
  POST /executions/{id}/pause       pause at the next stage boundary
  POST /executions/{id}/resume      resume a paused execution
  POST /executions/{id}/cancel      cancel an execution
  GET  /metrics                     Prometheus metrics
  GET  /healthz                     liveness`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&idmapFile, "idmap-db", "", "SQLite file that keeps ID mappings between runs")
}

func serve(ctx context.Context) error {
	repo, err := openRepository()
	if err != nil {
		return err
	}
	env, release, err := newEnv(ctx, repo)
	if err != nil {
		return err
	}
	defer release()

	srv := &http.Server{
		Addr:              serveOpts.addr,
		Handler:           newRouter(etl.NewController(env)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serveOpts.addr).Str("projects", projectsFile).Msg("tdtpmigrate server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("stopped")
	return nil
}
