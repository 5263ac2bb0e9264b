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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"":        LevelFull,
		"full":    LevelFull,
		"MINIMAL": LevelMinimal,
		"m":       LevelMinimal,
		"machine": LevelMachine,
		" quiet ": LevelMachine,
		"other":   LevelFull,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestDetectLevel(t *testing.T) {
	t.Setenv(EnvLevel, "minimal")
	assert.Equal(t, LevelMinimal, DetectLevel(nil))

	t.Setenv(EnvLevel, "")
	assert.Equal(t, LevelMachine, DetectLevel(nil))
}

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelMachine)

	p.Title("ignored")
	p.Success("synced")
	p.Warning("partial")
	p.Error("failed")
	p.KeyValues([]Field{{"hops", "2"}, {"paths", "3"}})
	p.List([]string{"a", "b"})
	p.Progress("depth 1/2", 3, 4)

	want := strings.Join([]string{
		"OK: synced",
		"WARN: partial",
		"ERROR: failed",
		"hops\t2",
		"paths\t3",
		"a",
		"b",
		"PROGRESS\tdepth 1/2\t3/4",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
	assert.Equal(t, "0.250", p.Score(0.25))
}

func TestPrinter_Rich(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelFull)

	p.Title("Trust")
	p.KeyValues([]Field{{"hops", "2"}, {"mutual", "true"}})
	p.Success("done")

	out := buf.String()
	assert.Contains(t, out, "Trust")
	assert.Contains(t, out, "hops")
	assert.Contains(t, out, "mutual")
	assert.Contains(t, out, "done")
	assert.Equal(t, LevelFull, p.Level())
}

func TestProgressBar(t *testing.T) {
	assert.Contains(t, ProgressBar(0, 0, 10), "100%")
	assert.Contains(t, ProgressBar(1, 2, 10), " 50%")
	assert.Contains(t, ProgressBar(5, 2, 10), "100%")
}

func TestShort(t *testing.T) {
	id := strings.Repeat("ab", 32)
	assert.Equal(t, "abababab…abababab", Short(id))
	assert.Equal(t, "short", Short("short"))
}
