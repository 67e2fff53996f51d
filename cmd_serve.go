package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves POST /extract, the job endpoints and the stored records.

Postgres, Redis caching and the job queue are used when configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
		}
		if !cfg.Verbose && cfg.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log := slog.Default()

		p, rec := newPipeline(cfg, log)
		defer rec.Close()
		if err := rec.Warm(ctx); err != nil {
			// requests get 503 until the engine can start
			log.Warn("recognition engine not ready", "error", err)
		}

		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}
		ca, err := openCache(ctx, cfg)
		if err != nil {
			return err
		}
		if ca != nil {
			defer ca.Close()
		}
		jobs, err := openQueue(cfg)
		if err != nil {
			return err
		}
		defer jobs.Close()

		router := newRouter(newServer(cfg, p, st, ca, jobs, log))
		srv := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", "addr", srv.Addr, "auth", cfg.Auth.Enabled, "store", st != nil, "cache", ca != nil, "queue", jobs != nil)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8081, "port to listen on")
}
