// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source fetches follow-list attestations from Nostr-style relays.
//
// # Description
//
// A Connection owns one duplex websocket to a relay and multiplexes
// subscriptions over it: each FetchFollowLists call opens a uniquely named
// REQ, collects kind-3 events until the relay signals EOSE (or the timeout
// fires), then CLOSEs it. A Pool fans a request out to every configured
// relay and merges the answers per author, last writer wins.
//
// # Failure Semantics
//
// Connectivity failures (dial, handshake, drop before completion) wrap
// ErrSourceUnavailable. Once a subscription is open, a slow or silent relay
// is not an error: the call returns what arrived in time with
// Batch.Complete false. The Pool isolates per-relay failures and only fails
// outright when no relay could be connected.
//
// # Thread Safety
//
// Connection and Pool are safe for concurrent use.
package source

import (
	"errors"
)

var (
	// ErrSourceUnavailable indicates a relay could not be reached or dropped
	// the connection before a request completed.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrAllSourcesUnavailable indicates no relay in the pool could be
	// connected.
	ErrAllSourcesUnavailable = errors.New("all sources unavailable")
)
