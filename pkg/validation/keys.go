// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers and endpoints
// that cross a trust boundary.
//
// Identities arrive from users, configuration files, and untrusted relays.
// They are used as storage keys and sent back out in subscription filters,
// so every one of them goes through SanitizeHexKey before use.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// HexKeyLength is the number of hex characters in an identity key.
const HexKeyLength = 64

// hexKeyPattern matches a canonical (lowercase) 32-byte hex key.
var hexKeyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance with the custom tags
// registered:
//
//   - hexkey: a canonical 64-character lowercase hex key
//   - wsurl:  an absolute ws:// or wss:// URL with a host
//
// Thread Safety: the returned validator is safe for concurrent use.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("hexkey", func(fl validator.FieldLevel) bool {
			return hexKeyPattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("wsurl", func(fl validator.FieldLevel) bool {
			return ValidateRelayURL(fl.Field().String()) == nil
		})
	})
	return validate
}

// ValidateHexKey validates a canonical hex key.
//
// Valid keys are exactly 64 lowercase hex characters with no prefix.
// Use SanitizeHexKey for user input that may be mixed case or padded.
func ValidateHexKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if err := Validator().Var(key, "hexkey"); err != nil {
		return fmt.Errorf("invalid key format: %q (must be %d hex characters)", truncate(key), HexKeyLength)
	}
	return nil
}

// ValidateHexKeys validates multiple keys.
// Returns an error listing all invalid keys if any fail validation.
func ValidateHexKeys(keys []string) error {
	var invalid []string
	for _, k := range keys {
		if err := ValidateHexKey(k); err != nil {
			invalid = append(invalid, truncate(k))
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid keys: %v", invalid)
	}
	return nil
}

// SanitizeHexKey normalizes and validates a hex key.
// Returns the lowercase key if valid, or an error if invalid.
//
//	key, err := validation.SanitizeHexKey(userInput)
//	if err != nil {
//	    return err
//	}
//	// key is canonical and safe to use as a storage key
func SanitizeHexKey(key string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if err := ValidateHexKey(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateRelayURL checks that raw is an absolute websocket URL.
func ValidateRelayURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("relay url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid relay url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid relay url %q: missing host", raw)
	}
	return nil
}

// truncate shortens long inputs so error messages stay readable.
func truncate(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:77] + "..."
}
