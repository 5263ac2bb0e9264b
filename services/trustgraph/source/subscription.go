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
	"sort"
	"sync"

	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// endReason records why a subscription stopped collecting.
type endReason int

const (
	endNone endReason = iota
	endEOSE
	endClosed
	endDropped
	endTimeout
)

func (r endReason) outcome() string {
	switch r {
	case endEOSE:
		return outcomeEOSE
	case endClosed:
		return outcomeClosed
	case endDropped:
		return outcomeDropped
	default:
		return outcomeTimeout
	}
}

// subscription collects events for one REQ. The first finish wins.
type subscription struct {
	id      string
	authors identity.Set

	mu     sync.Mutex
	got    map[identity.Identity]Attestation
	reason endReason
	end    chan struct{}
}

func newSubscription(id string, authors []identity.Identity) *subscription {
	return &subscription{
		id:      id,
		authors: identity.NewSet(authors...),
		got:     make(map[identity.Identity]Attestation),
		end:     make(chan struct{}),
	}
}

func (s *subscription) add(a Attestation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != endNone {
		return
	}
	if cur, ok := s.got[a.Author]; !ok || Newer(a, cur) {
		s.got[a.Author] = a
	}
}

func (s *subscription) finish(reason endReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != endNone {
		return
	}
	s.reason = reason
	close(s.end)
}

func (s *subscription) batch() (Batch, endReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attestation, 0, len(s.got))
	for _, a := range s.got {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Author < out[j].Author })
	return Batch{Attestations: out, Complete: s.reason == endEOSE}, s.reason
}
