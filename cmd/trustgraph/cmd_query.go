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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/trustgraph/pkg/ux"
	"github.com/AleutianAI/trustgraph/services/trustgraph"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

func (a *app) distanceCmd() *cobra.Command {
	var maxHops int
	cmd := &cobra.Command{
		Use:   "distance TARGET",
		Short: "Show hops, shortest paths and bridges from the root to TARGET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			t, err := engine.Trust(cmd.Context(), args[0], maxHops)
			if err != nil {
				return err
			}
			resp := trustgraph.NewDistanceResponse(t.Target, t.Result, t.Score)
			if a.jsonOut {
				return a.writeJSON(resp)
			}
			a.printDistance(resp, false)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxHops, "max-hops", 0, "search bound (default from config)")
	return cmd
}

func (a *app) trustCmd() *cobra.Command {
	var (
		maxHops  int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "trust TARGET",
		Short: "Score TARGET and compare it against --min-score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			t, err := engine.Trust(cmd.Context(), args[0], maxHops)
			if err != nil {
				return err
			}
			trusted := t.Connected() && t.Score >= minScore
			if a.jsonOut {
				return a.writeJSON(struct {
					trustgraph.DistanceResponse
					Trusted  bool    `json:"trusted"`
					MinScore float64 `json:"min_score"`
				}{trustgraph.NewDistanceResponse(t.Target, t.Result, t.Score), trusted, minScore})
			}
			a.printDistance(trustgraph.NewDistanceResponse(t.Target, t.Result, t.Score), true)
			p := a.printer()
			if trusted {
				p.Success(fmt.Sprintf("trusted (score >= %.3f)", minScore))
			} else {
				p.Warning(fmt.Sprintf("not trusted (score < %.3f)", minScore))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxHops, "max-hops", 0, "search bound (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0.1, "score threshold")
	return cmd
}

func (a *app) printDistance(r trustgraph.DistanceResponse, withScore bool) {
	p := a.printer()
	if !r.Connected {
		p.Warning(fmt.Sprintf("%s is not connected within the hop limit", ux.Short(string(r.Target))))
		return
	}
	bridges := make([]string, len(r.Bridges))
	for i, b := range r.Bridges {
		bridges[i] = ux.Short(string(b))
	}
	fields := []ux.Field{
		{Key: "target", Value: string(r.Target)},
		{Key: "hops", Value: strconv.Itoa(r.Hops)},
		{Key: "paths", Value: strconv.FormatInt(r.Paths, 10)},
		{Key: "bridges", Value: strings.Join(bridges, ", ")},
		{Key: "mutual", Value: strconv.FormatBool(r.Mutual)},
	}
	if withScore {
		fields = append(fields, ux.Field{Key: "score", Value: p.Score(r.Score)})
	}
	p.KeyValues(fields)
}

func (a *app) followsCmd() *cobra.Command {
	var followers bool
	cmd := &cobra.Command{
		Use:   "follows [ID]",
		Short: "List the stored follows of ID, or of the root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var who string
			if len(args) == 1 {
				who = args[0]
			}
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var (
				list  []identity.Identity
				found = true
			)
			if followers {
				list, err = engine.Followers(cmd.Context(), who)
			} else {
				list, found, err = engine.Follows(cmd.Context(), who)
			}
			if err != nil {
				return err
			}
			if list == nil {
				list = []identity.Identity{}
			}
			id := engine.Root()
			if who != "" {
				id, _ = identity.Parse(who)
			}
			if a.jsonOut {
				return a.writeJSON(trustgraph.FollowsResponse{Identity: id, Found: found, Follows: list})
			}
			p := a.printer()
			if !found {
				p.Warning("identity has not been fetched; run sync")
				return nil
			}
			p.List(identity.Strings(list))
			return nil
		},
	}
	cmd.Flags().BoolVar(&followers, "followers", false, "list stored identities that follow ID instead")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local graph and the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			st, err := engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.writeJSON(st)
			}
			p := a.printer()
			p.Title("trustgraph")
			root := string(st.Root)
			if root == "" {
				root = "(not configured)"
			}
			lastSync := "never"
			if st.LastSync != nil {
				lastSync = fmt.Sprintf("%s (depth %d, %d nodes)",
					st.LastSync.CompletedAt.Local().Format("2006-01-02 15:04:05"), st.LastSync.Depth, st.LastSync.Nodes)
			}
			p.KeyValues([]ux.Field{
				{Key: "config", Value: a.cfgPath},
				{Key: "root", Value: root},
				{Key: "storage", Value: fmt.Sprintf("%s %s", st.Backend, a.cfg.StoragePath())},
				{Key: "sources", Value: strings.Join(st.Sources, ", ")},
				{Key: "nodes", Value: strconv.Itoa(st.Graph.Nodes)},
				{Key: "edges", Value: strconv.Itoa(st.Graph.Edges)},
				{Key: "empty", Value: strconv.Itoa(st.Graph.Empty)},
				{Key: "last sync", Value: lastSync},
			})
			return nil
		},
	}
}

// errNotConfirmed is returned by reset without --yes.
var errNotConfirmed = errors.New("refusing to delete the local graph without --yes")

func (a *app) resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the local graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNotConfirmed
			}
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Clear(cmd.Context()); err != nil {
				return err
			}
			a.printer().Success("local graph deleted")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
