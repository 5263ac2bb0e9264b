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
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/trustgraph/pkg/ux"
	"github.com/AleutianAI/trustgraph/services/trustgraph"
	"github.com/AleutianAI/trustgraph/services/trustgraph/graphsync"
)

// syncCmd walks the follow graph from the configured root.
//
// # Examples
//
//	trustgraph sync              # configured depth
//	trustgraph sync --depth 3    # three rounds out from the root
//	trustgraph sync --timeout 20s
func (a *app) syncCmd() *cobra.Command {
	var (
		depth   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch follow lists from relays into the local graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			progress := a.errPrinter()
			onProgress := func(p graphsync.Progress) {
				if progress.Level() == ux.LevelMachine {
					a.logger.Debug("sync progress",
						"depth", p.Depth, "processed", p.Processed, "total", p.Total)
					return
				}
				progress.Progress(fmt.Sprintf("depth %d/%d", p.Depth, p.TotalDepth), p.Processed, p.Total)
			}

			var opts []trustgraph.CallOption
			if timeout > 0 {
				opts = append(opts, trustgraph.WithTimeout(timeout))
			}
			summary, err := engine.Sync(ctx, depth, onProgress, opts...)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.writeJSON(trustgraph.SyncResponse{Summary: summary, Nodes: summary.Nodes()})
			}
			p := a.printer()
			p.Success(fmt.Sprintf("synced %d identities from %s", summary.Nodes(), ux.Short(string(summary.Root))))
			p.KeyValues([]ux.Field{
				{Key: "depth", Value: strconv.Itoa(summary.Depth)},
				{Key: "rounds", Value: strconv.Itoa(summary.Rounds)},
				{Key: "known", Value: strconv.Itoa(summary.Known)},
				{Key: "empty", Value: strconv.Itoa(summary.Empty)},
				{Key: "unresolved", Value: strconv.Itoa(summary.Unresolved)},
				{Key: "duration", Value: summary.Duration.Round(time.Millisecond).String()},
			})
			if summary.Unresolved > 0 {
				p.Warning(fmt.Sprintf("%d identities got no answer and will be retried next sync", summary.Unresolved))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "rounds to walk from the root (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request relay timeout (default from config)")
	return cmd
}
