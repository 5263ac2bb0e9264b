// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the key/value persistence boundary of the trust
// graph and its transient in-memory implementation.
//
// The graph engine treats storage as a dumb cache: follow lists are written
// under "follows:<identity>" and sync metadata under "meta:<name>". Durable
// implementations live in the badger and sqlite subpackages.
//
// # Failure Semantics
//
// Every adapter failure wraps ErrUnavailable. Callers must treat it as fatal
// to the operation in progress: dropping a write would silently break the
// distinction between "known empty" and "never fetched".
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// ErrUnavailable is returned when the backend cannot serve a request:
// it is closed, unsupported in this environment, or failed an I/O call.
var ErrUnavailable = errors.New("storage unavailable")

// Key namespaces.
const (
	FollowsPrefix = "follows:"
	MetaPrefix    = "meta:"
)

// Adapter is the minimal persistence capability used by the graph engine.
//
// Get reports absence with found=false and a nil error. Keys returns every
// key currently stored, in no particular order.
//
// Thread Safety: implementations must be safe for concurrent use.
type Adapter interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// FollowsKey returns the key holding id's follow record.
func FollowsKey(id identity.Identity) string {
	return FollowsPrefix + string(id)
}

// MetaKey returns the key holding the named metadata record.
func MetaKey(name string) string {
	return MetaPrefix + name
}

// IdentityFromKey extracts the identity from a follows key.
// Returns false for keys in other namespaces.
func IdentityFromKey(key string) (identity.Identity, bool) {
	if !strings.HasPrefix(key, FollowsPrefix) {
		return "", false
	}
	return identity.Identity(strings.TrimPrefix(key, FollowsPrefix)), true
}
