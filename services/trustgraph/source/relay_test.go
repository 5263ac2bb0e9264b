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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// relayMode selects how fakeRelay ends a subscription.
type relayMode int

const (
	modeEOSE   relayMode = iota // send stored events then EOSE
	modeSilent                  // send stored events, never EOSE
	modeClosed                  // send CLOSED instead of EOSE
	modeDrop                    // hang up on REQ
)

// fakeRelay is an in-process relay speaking just enough of the protocol.
type fakeRelay struct {
	srv *httptest.Server

	mu      sync.Mutex
	mode    relayMode
	events  map[identity.Identity][]nostr.Event
	extra   [][]byte
	reqs    []nostr.Filter
	closes  []string
	accepts int
}

func newFakeRelay(t *testing.T, mode relayMode) *fakeRelay {
	t.Helper()
	r := &fakeRelay{mode: mode, events: make(map[identity.Identity][]nostr.Event)}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// store adds ev to the events served for its author.
func (r *fakeRelay) store(ev nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	author := identity.Identity(ev.PubKey)
	r.events[author] = append(r.events[author], ev)
}

// inject queues a raw frame sent before the stored events of every REQ.
func (r *fakeRelay) inject(frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extra = append(r.extra, []byte(frame))
}

func (r *fakeRelay) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closes)
}

func (r *fakeRelay) reqCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func (r *fakeRelay) acceptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepts
}

func (r *fakeRelay) serve(w http.ResponseWriter, req *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := up.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	r.mu.Lock()
	r.accepts++
	r.mu.Unlock()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch env := nostr.ParseMessage(msg).(type) {
		case *nostr.ReqEnvelope:
			if !r.answer(ws, env) {
				return
			}
		case *nostr.CloseEnvelope:
			r.mu.Lock()
			r.closes = append(r.closes, string(*env))
			r.mu.Unlock()
		}
	}
}

// answer replies to one REQ and reports whether the socket should stay open.
func (r *fakeRelay) answer(ws *websocket.Conn, env *nostr.ReqEnvelope) bool {
	r.mu.Lock()
	r.reqs = append(r.reqs, env.Filters...)
	mode := r.mode
	extra := append([][]byte(nil), r.extra...)
	var out []nostr.Event
	for _, f := range env.Filters {
		for _, a := range f.Authors {
			out = append(out, r.events[identity.Identity(a)]...)
		}
	}
	r.mu.Unlock()

	if mode == modeDrop {
		return false
	}

	for _, frame := range extra {
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return false
		}
	}
	sid := env.SubscriptionID
	for _, ev := range out {
		frame := nostr.EventEnvelope{SubscriptionID: &sid, Event: ev}
		raw, err := frame.MarshalJSON()
		if err != nil {
			return false
		}
		if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
			return false
		}
	}

	var end interface{ MarshalJSON() ([]byte, error) }
	switch mode {
	case modeEOSE:
		eose := nostr.EOSEEnvelope(sid)
		end = &eose
	case modeClosed:
		end = &nostr.ClosedEnvelope{SubscriptionID: sid, Reason: "blocked: test"}
	default:
		return true
	}
	raw, err := end.MarshalJSON()
	if err != nil {
		return false
	}
	return ws.WriteMessage(websocket.TextMessage, raw) == nil
}

// followEvent builds a kind-3 event.
func followEvent(author identity.Identity, createdAt int64, id string, follows ...identity.Identity) nostr.Event {
	tags := make(nostr.Tags, 0, len(follows))
	for _, f := range follows {
		tags = append(tags, nostr.Tag{"p", string(f)})
	}
	return nostr.Event{
		ID:        id,
		PubKey:    string(author),
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      KindFollowList,
		Tags:      tags,
	}
}
