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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/trustgraph/pkg/logging"
	"github.com/AleutianAI/trustgraph/pkg/telemetry"
	"github.com/AleutianAI/trustgraph/pkg/ux"
	"github.com/AleutianAI/trustgraph/services/trustgraph"
	"github.com/AleutianAI/trustgraph/services/trustgraph/config"
)

// skipConfig marks commands that run before a config file exists.
const skipConfig = "skip-config"

// app carries state shared by every command in one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Flags
	configPath string
	logLevel   string
	jsonOut    bool

	cfg         config.Config
	cfgPath     string
	logger      *logging.Logger
	registry    *prometheus.Registry
	shutdownTel func(context.Context) error

	// engineOpts are appended to every engine built by this app.
	engineOpts []trustgraph.Option
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trustgraph",
		Short: "Local Nostr trust graph: sync follows, measure distance, score trust",
		Long: `trustgraph walks the follow graph outward from a root identity through a
set of Nostr relays, stores it locally and answers trust questions from
that copy: how many hops away is someone, over how many shortest paths,
through which of your follows, and do they follow you back.`,
		Version:           versionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.trustgraph/trustgraph.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.syncCmd(),
		a.distanceCmd(),
		a.trustCmd(),
		a.followsCmd(),
		a.statusCmd(),
		a.resetCmd(),
		a.serveCmd(),
		a.configCmd(),
	)
	return root
}

// setup loads configuration and starts logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		a.logger = logging.New(logging.Config{Level: logging.LevelWarn, Service: "trustgraph", Output: a.stderr})
		return nil
	}

	cfg, path, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg, a.cfgPath = cfg, path

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "trustgraph",
		JSON:    cfg.Logging.JSON,
		Output:  a.stderr,
	})

	a.registry = prometheus.NewRegistry()
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.Registry = a.registry
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdownTel = shutdown
	return nil
}

// close flushes telemetry and closes the log file.
func (a *app) close() {
	if a.shutdownTel != nil {
		if err := a.shutdownTel(context.Background()); err != nil && a.logger != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// openEngine builds an engine from the loaded configuration.
func (a *app) openEngine(opts ...trustgraph.Option) (*trustgraph.Engine, error) {
	all := []trustgraph.Option{trustgraph.WithLogger(a.logger.Slog())}
	all = append(all, opts...)
	all = append(all, a.engineOpts...)
	return trustgraph.New(a.cfg, all...)
}

func (a *app) printer() *ux.Printer {
	return ux.NewPrinter(a.stdout, a.level(a.stdout))
}

func (a *app) errPrinter() *ux.Printer {
	return ux.NewPrinter(a.stderr, a.level(a.stderr))
}

func (a *app) level(w io.Writer) ux.Level {
	if a.jsonOut {
		return ux.LevelMachine
	}
	f, ok := w.(*os.File)
	if !ok {
		return ux.LevelMachine
	}
	return ux.DetectLevel(f)
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
