// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// KindFollowList is the event kind carrying a follow list.
const KindFollowList = 3

// Attestation is a signed claim by Author that it follows Follows.
// Signatures are not verified.
type Attestation struct {
	ID        string              `json:"id"`
	Author    identity.Identity   `json:"author"`
	CreatedAt int64               `json:"created_at"`
	Follows   []identity.Identity `json:"follows"`
}

// FromEvent builds an attestation from a follow-list event.
//
// Description:
//
//	Follows are taken from "p" tags. Invalid keys are dropped and the
//	result is de-duplicated and sorted.
//
// Outputs:
//
//	Attestation - The decoded attestation.
//	bool - False if ev is not a follow list or its author is malformed.
func FromEvent(ev *nostr.Event) (Attestation, bool) {
	if ev == nil || ev.Kind != KindFollowList {
		return Attestation{}, false
	}
	author, err := identity.Parse(ev.PubKey)
	if err != nil {
		return Attestation{}, false
	}
	raw := make([]string, 0, len(ev.Tags))
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			raw = append(raw, tag[1])
		}
	}
	return Attestation{
		ID:        ev.ID,
		Author:    author,
		CreatedAt: int64(ev.CreatedAt),
		Follows:   identity.ParseLenient(raw),
	}, true
}

// Newer reports whether a supersedes b: a later CreatedAt wins, and equal
// timestamps are broken by the lexicographically greater ID.
func Newer(a, b Attestation) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// Merge keeps, per author, the newest attestation across every batch.
// The result does not depend on batch order.
func Merge(batches ...[]Attestation) map[identity.Identity]Attestation {
	out := make(map[identity.Identity]Attestation)
	for _, batch := range batches {
		for _, a := range batch {
			if cur, ok := out[a.Author]; !ok || Newer(a, cur) {
				out[a.Author] = a
			}
		}
	}
	return out
}
