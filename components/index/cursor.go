// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package index provides cursor pagination shared by every listing
// operation: ascending key order, an exclusive start-after cursor, and a
// bounded page size.
package index

const (
	// DefaultLimit is the page size used when the caller supplies none.
	DefaultLimit = 10

	// MaxLimit is the hard cap on a single page.
	MaxLimit = 30
)

// ClampLimit resolves a caller-supplied page size.
func ClampLimit(limit uint32) uint32 {
	if limit == 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NextKey returns the smallest key strictly greater than k, turning an
// inclusive iterator start into an exclusive start-after cursor. Assumes
// fixed-length keys within one keyspace.
func NextKey(k []byte) []byte {
	next := make([]byte, len(k)+1)
	copy(next, k)
	return next
}
