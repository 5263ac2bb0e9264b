// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command trustgraph syncs a local follow graph from Nostr relays and
// answers trust queries against it.
package main

import (
	"fmt"
	"os"
)

func main() {
	a := newApp(os.Stdout, os.Stderr)
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		a.errPrinter().Error(err.Error())
		os.Exit(1)
	}
}

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func versionString() string {
	return fmt.Sprintf("trustgraph %s", version)
}
