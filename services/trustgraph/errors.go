// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trustgraph

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/trustgraph/services/trustgraph/config"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
	"github.com/AleutianAI/trustgraph/services/trustgraph/source"
	"github.com/AleutianAI/trustgraph/services/trustgraph/storage"
)

// Sentinels re-exported for callers of this package. Check with errors.Is.
var (
	// ErrValidation marks malformed identities or arguments.
	ErrValidation = identity.ErrValidation

	// ErrSourceUnavailable marks a single relay that could not be reached.
	ErrSourceUnavailable = source.ErrSourceUnavailable

	// ErrAllSourcesUnavailable marks a sync where no relay connected.
	ErrAllSourcesUnavailable = source.ErrAllSourcesUnavailable

	// ErrStorageUnavailable marks a persistence failure.
	ErrStorageUnavailable = storage.ErrUnavailable

	// ErrInvalidConfig marks a configuration that failed validation.
	ErrInvalidConfig = config.ErrInvalidConfig
)

var (
	// ErrNoRoot is returned by operations that need a root identity when
	// none is configured. It wraps ErrValidation.
	ErrNoRoot = fmt.Errorf("%w: root identity is not configured", ErrValidation)

	// ErrSyncInProgress is returned when a sync is requested while another
	// is running on the same engine.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine is closed")
)
