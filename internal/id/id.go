// Package id mints opaque identifiers for rows inserted into schemas that
// do not generate their own.
package id

import (
	"crypto/rand"
	"encoding/hex"
)

func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "dispatch-fallback-id"
	}
	return hex.EncodeToString(b[:])
}

// WithPrefix tags an id with a short record-kind marker, which keeps rows
// attributable when they land in a shared or unknown table.
func WithPrefix(prefix string) string {
	return prefix + "-" + New()
}
