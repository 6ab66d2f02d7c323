// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cmd wires the cobra CLI: a single "serve" command that loads
// configuration, builds the dispatcher, and runs the HTTP control plane
// until terminated.
package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nextcloud/go_kaldi_serve/internal/apihttp"
	"github.com/nextcloud/go_kaldi_serve/internal/config"
	"github.com/nextcloud/go_kaldi_serve/internal/constants"
	"github.com/nextcloud/go_kaldi_serve/internal/dispatch"
	"github.com/nextcloud/go_kaldi_serve/internal/engine/voskengine"
	"github.com/nextcloud/go_kaldi_serve/internal/ingest"
	"github.com/nextcloud/go_kaldi_serve/internal/metrics"
	"github.com/nextcloud/go_kaldi_serve/internal/session"
)

var configPath string

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "go_kaldi_serve",
		Short: "Multi-tenant speech recognition serving core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load configured models and serve the HTTP control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logLevel := slog.LevelInfo
	if os.Getenv("KALDI_SERVE_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	slog.Info("starting go_kaldi_serve", "listen_addr", cfg.ListenAddr, "models", len(cfg.Models))

	collectors := metrics.New()
	collectors.MustRegister(prometheus.DefaultRegisterer)

	d, err := dispatch.New(cfg.Models, voskengine.Factory{}, collectors)
	if err != nil {
		slog.Error("failed to build dispatcher", "error", err)
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			slog.Error("dispatcher shutdown error", "error", err)
		}
	}()

	driver := session.New(d, collectors)
	handler := apihttp.NewHandler(driver, d)
	signalHandler := ingest.NewSignalHandler(driver)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /v1/stream", signalHandler)

	var root http.Handler = mux
	if cfg.AuthSecret != "" {
		root = apihttp.AuthMiddleware(cfg.AuthSecret, map[string]bool{
			"/healthz": true,
			"/metrics": true,
		}, mux)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      root,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-runCtx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
