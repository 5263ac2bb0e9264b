// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot is the typed view of the persisted follow graph.
//
// Every fetched identity is stored as a tagged record under
// storage.FollowsKey. A record is either "known" (a non-empty follow list)
// or "empty" (fetched, confirmed to follow nobody). A missing key means the
// identity was never fetched. Traversal treats both the empty and the
// missing case as a dead end; only sync tells them apart.
//
// Records carry the attestation's event id and creation time but never the
// local fetch time, so re-syncing an unchanged upstream rewrites identical
// bytes.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
)

// State tags a follow record.
type State string

const (
	// StateKnown marks a record with at least one follow.
	StateKnown State = "known"

	// StateEmpty marks an identity confirmed to follow nobody.
	StateEmpty State = "empty"
)

const syncMetaName = "sync"

// Record is one persisted follow list.
type Record struct {
	State     State               `json:"state"`
	Follows   []identity.Identity `json:"follows"`
	EventID   string              `json:"event_id,omitempty"`
	CreatedAt int64               `json:"created_at,omitempty"`
}

// SyncMeta describes the last completed sync.
type SyncMeta struct {
	Root        identity.Identity `json:"root"`
	Depth       int               `json:"depth"`
	CompletedAt time.Time         `json:"completed_at"`
	Nodes       int               `json:"nodes"`
}

// Stats summarises the persisted graph.
type Stats struct {
	// Nodes is the number of fetched identities (known and empty).
	Nodes int `json:"nodes"`

	// Edges is the total number of follow edges.
	Edges int `json:"edges"`

	// Empty is the number of identities confirmed to follow nobody.
	Empty int `json:"empty"`
}

// Snapshot reads and writes follow records through a storage.Adapter.
//
// Thread Safety: safe for concurrent use if the adapter is.
type Snapshot struct {
	adapter storage.Adapter
}

// New wraps adapter. The adapter is not owned; closing it is the caller's job.
func New(adapter storage.Adapter) *Snapshot {
	return &Snapshot{adapter: adapter}
}

// Adapter returns the underlying storage adapter.
func (s *Snapshot) Adapter() storage.Adapter {
	return s.adapter
}

// PutFollows persists id's follow list from an attestation.
//
// Description:
//
//	The list is de-duplicated and sorted before writing. A zero-length list
//	is stored as StateEmpty so that an attestation of "follows nobody" is
//	indistinguishable from a confirmed-empty fetch.
//
// Inputs:
//
//	ctx - Context for the storage call.
//	id - The author of the list.
//	follows - Canonical identities followed by id.
//	eventID - Attestation id, recorded for provenance.
//	createdAt - Attestation creation time in unix seconds.
//
// Outputs:
//
//	error - Wraps storage.ErrUnavailable on write failure.
func (s *Snapshot) PutFollows(ctx context.Context, id identity.Identity, follows []identity.Identity, eventID string, createdAt int64) error {
	rec := Record{
		State:     StateKnown,
		Follows:   identity.NewSet(follows...).Sorted(),
		EventID:   eventID,
		CreatedAt: createdAt,
	}
	if len(rec.Follows) == 0 {
		rec.State = StateEmpty
	}
	return s.put(ctx, id, rec)
}

// PutKnownEmpty records that id was fetched and follows nobody.
func (s *Snapshot) PutKnownEmpty(ctx context.Context, id identity.Identity) error {
	return s.put(ctx, id, Record{State: StateEmpty, Follows: []identity.Identity{}})
}

func (s *Snapshot) put(ctx context.Context, id identity.Identity, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode follow record for %s: %w", id.Short(), err)
	}
	if err := s.adapter.Set(ctx, storage.FollowsKey(id), raw); err != nil {
		return fmt.Errorf("persist follow record for %s: %w", id.Short(), err)
	}
	return nil
}

// Lookup returns id's record. found is false when id was never fetched.
//
// A record that cannot be decoded is reported as a storage failure.
func (s *Snapshot) Lookup(ctx context.Context, id identity.Identity) (Record, bool, error) {
	raw, found, err := s.adapter.Get(ctx, storage.FollowsKey(id))
	if err != nil {
		return Record{}, false, fmt.Errorf("read follow record for %s: %w", id.Short(), err)
	}
	if !found {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("%w: decode follow record for %s: %v", storage.ErrUnavailable, id.Short(), err)
	}
	if rec.Follows == nil {
		rec.Follows = []identity.Identity{}
	}
	return rec, true, nil
}

// Follows returns id's follow list. found is false when id was never fetched;
// a known-empty identity returns an empty list with found true.
func (s *Snapshot) Follows(ctx context.Context, id identity.Identity) ([]identity.Identity, bool, error) {
	rec, found, err := s.Lookup(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	return rec.Follows, true, nil
}

// Identities lists every fetched identity in sorted order.
func (s *Snapshot) Identities(ctx context.Context) ([]identity.Identity, error) {
	keys, err := s.adapter.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list follow records: %w", err)
	}
	ids := make([]identity.Identity, 0, len(keys))
	for _, k := range keys {
		if id, ok := storage.IdentityFromKey(k); ok {
			ids = append(ids, id)
		}
	}
	identity.Sort(ids)
	return ids, nil
}

// Stats walks every record and counts nodes, edges and empty lists.
func (s *Snapshot) Stats(ctx context.Context) (Stats, error) {
	ids, err := s.Identities(ctx)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, id := range ids {
		rec, found, err := s.Lookup(ctx, id)
		if err != nil {
			return Stats{}, err
		}
		if !found {
			continue
		}
		st.Nodes++
		st.Edges += len(rec.Follows)
		if rec.State == StateEmpty {
			st.Empty++
		}
	}
	return st, nil
}

// PutSyncMeta records a completed sync.
func (s *Snapshot) PutSyncMeta(ctx context.Context, meta SyncMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode sync metadata: %w", err)
	}
	if err := s.adapter.Set(ctx, storage.MetaKey(syncMetaName), raw); err != nil {
		return fmt.Errorf("persist sync metadata: %w", err)
	}
	return nil
}

// SyncMeta returns the last completed sync, if any.
func (s *Snapshot) SyncMeta(ctx context.Context) (SyncMeta, bool, error) {
	raw, found, err := s.adapter.Get(ctx, storage.MetaKey(syncMetaName))
	if err != nil {
		return SyncMeta{}, false, fmt.Errorf("read sync metadata: %w", err)
	}
	if !found {
		return SyncMeta{}, false, nil
	}
	var meta SyncMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return SyncMeta{}, false, fmt.Errorf("%w: decode sync metadata: %v", storage.ErrUnavailable, err)
	}
	return meta, true, nil
}

// Reset removes every record and the sync metadata.
func (s *Snapshot) Reset(ctx context.Context) error {
	if err := s.adapter.Clear(ctx); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
