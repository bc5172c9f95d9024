// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package db

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey creates a fixed-length hash of an arbitrary string (a URL, say) for use in keys.
// Uses SHA256 and returns the first 32 hex characters (16 bytes).
func HashKey(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:16])
}
