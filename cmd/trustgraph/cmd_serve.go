// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/trustgraph/pkg/telemetry"
	"github.com/AleutianAI/trustgraph/services/trustgraph"
)

const shutdownTimeout = 10 * time.Second

// serveCmd exposes the engine as an HTTP trust oracle.
//
// # Description
//
// Serves /v1/trust/* from the local graph and /metrics from the process
// registry. Runs until interrupted, then drains in-flight requests.
//
// # Examples
//
//	trustgraph serve
//	trustgraph serve --addr 0.0.0.0:8089 --sync-on-start
func (a *app) serveCmd() *cobra.Command {
	var (
		addr        string
		syncOnStart bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve trust queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			engine, err := a.openEngine(trustgraph.WithRegisterer(a.registry))
			if err != nil {
				return err
			}
			defer engine.Close()

			if syncOnStart {
				go func() {
					summary, err := engine.Sync(ctx, 0, nil)
					if err != nil {
						a.logger.Warn("startup sync failed", "error", err)
						return
					}
					a.logger.Info("startup sync finished", "nodes", summary.Nodes())
				}()
			}

			gin.SetMode(gin.ReleaseMode)
			router := trustgraph.NewRouter(
				trustgraph.NewHandlers(engine, a.logger.Slog()),
				telemetry.MetricsHandler(a.registry),
			)
			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return a.runServer(ctx, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", false, "run a sync in the background at startup")
	return cmd
}

// runServer serves until ctx is done, then shuts down gracefully.
func (a *app) runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("trust oracle listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
