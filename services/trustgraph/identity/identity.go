// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity defines the canonical node identifier of the follow graph.
//
// An Identity is a 64-character lowercase hex public key. Values are only
// produced by Parse (or the helpers built on it), so any Identity held by
// the rest of the module is already canonical and can be compared and used
// as a map key directly.
package identity

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/trustgraph/pkg/validation"
)

// ErrValidation is returned for malformed input rejected before any I/O:
// bad identity format, an empty required list, or out-of-range parameters.
var ErrValidation = errors.New("validation failed")

// Identity is a canonical 64-hex-character node identifier.
type Identity string

// String returns the hex form.
func (id Identity) String() string {
	return string(id)
}

// Short returns an abbreviated form for logs and terminal output.
func (id Identity) Short() string {
	if len(id) < 16 {
		return string(id)
	}
	return string(id[:8]) + "…" + string(id[len(id)-8:])
}

// Parse canonicalizes and validates a hex key.
//
// Inputs:
//
//	raw - Hex key in any case, optionally surrounded by whitespace.
//
// Outputs:
//
//	Identity - The canonical identity.
//	error - Wraps ErrValidation if raw is not a 64-character hex key.
func Parse(raw string) (Identity, error) {
	key, err := validation.SanitizeHexKey(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return Identity(key), nil
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(raw string) Identity {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseAll parses every entry of raw, failing on the first invalid one.
// An empty list is a validation failure.
func ParseAll(raw []string) ([]Identity, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: identity list is empty", ErrValidation)
	}
	out := make([]Identity, 0, len(raw))
	for i, r := range raw {
		id, err := Parse(r)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// ParseLenient parses every entry of raw, dropping invalid ones, and returns
// the de-duplicated result in sorted order. Used for data from untrusted
// sources where a single bad entry must not discard the rest.
func ParseLenient(raw []string) []Identity {
	seen := make(map[Identity]struct{}, len(raw))
	out := make([]Identity, 0, len(raw))
	for _, r := range raw {
		id, err := Parse(r)
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	Sort(out)
	return out
}

// Sort orders ids in place.
func Sort(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Strings converts ids to plain strings, preserving order.
func Strings(ids []Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Set is an unordered collection of identities.
type Set map[Identity]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...Identity) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was absent.
func (s Set) Add(id Identity) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports membership.
func (s Set) Has(id Identity) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in sorted order.
func (s Set) Sorted() []Identity {
	out := make([]Identity, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	Sort(out)
	return out
}
