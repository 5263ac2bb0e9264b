// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level controls how rich CLI output is.
type Level string

const (
	// LevelFull enables colors, icons and boxes.
	LevelFull Level = "full"

	// LevelMinimal keeps icons but drops boxes and color on values.
	LevelMinimal Level = "minimal"

	// LevelMachine prints plain, tab-separated text for scripts.
	LevelMachine Level = "machine"
)

// EnvLevel overrides level detection.
const EnvLevel = "TRUSTGRAPH_OUTPUT"

// ParseLevel converts a string to a Level. Unknown values map to LevelFull.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return LevelMinimal
	case "machine", "plain", "quiet", "q":
		return LevelMachine
	default:
		return LevelFull
	}
}

// DetectLevel picks a level from TRUSTGRAPH_OUTPUT, then from whether f
// is a terminal.
func DetectLevel(f *os.File) Level {
	if v := os.Getenv(EnvLevel); v != "" {
		return ParseLevel(v)
	}
	if f == nil || !IsTerminal(f.Fd()) {
		return LevelMachine
	}
	return LevelFull
}

// IsTerminal reports whether fd is an interactive terminal, Cygwin
// included.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
