// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package dupfilter implements the server's sliding-window duplicate
// suppression: a fixed-capacity cache of recent request fingerprints
// used to drop a retransmitted frame without re-applying its write.
package dupfilter

import "go.uber.org/atomic"

// DefaultWindowMs is the default duplicate-suppression window.
const DefaultWindowMs = 500

// DefaultWindowSize is the default fingerprint cache capacity.
const DefaultWindowSize = 64

type entry struct {
	fingerprint uint64
	tsMs        uint64
	valid       bool
}

// Filter is a sliding-window cache of request fingerprints. It is not
// safe for concurrent use; the server FSM owns it and calls it only
// from its poll loop.
type Filter struct {
	windowMs uint64
	entries  []entry
	next     int // next slot to overwrite, round-robin

	DuplicatesSuppressed atomic.Uint64
}

// New creates a Filter with the given window duration and cache
// capacity (0 selects the defaults).
func New(windowMs uint64, size int) *Filter {
	if windowMs == 0 {
		windowMs = DefaultWindowMs
	}
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Filter{windowMs: windowMs, entries: make([]entry, size)}
}

// Fingerprint computes the FNV-like hash of unitID, fc and the first
// min(4, len(payload)) payload bytes, per the duplicate-filter spec.
func Fingerprint(unitID, fc byte, payload []byte) uint64 {
	const offsetBasis = 14695981039346656037
	const prime = 1099511628211

	h := uint64(offsetBasis)
	h = (h ^ uint64(unitID)) * prime
	h = (h ^ uint64(fc)) * prime
	n := len(payload)
	if n > 4 {
		n = 4
	}
	for i := 0; i < n; i++ {
		h = (h ^ uint64(payload[i])) * prime
	}
	return h
}

// Check reports whether (unitID, fc, payload) was seen within the last
// windowMs of nowMs. It always records the fingerprint for next time,
// and increments DuplicatesSuppressed when a hit is found.
func (f *Filter) Check(nowMs uint64, unitID, fc byte, payload []byte) (duplicate bool) {
	fp := Fingerprint(unitID, fc, payload)
	for i := range f.entries {
		e := &f.entries[i]
		if !e.valid {
			continue
		}
		elapsed := uint64(0)
		if nowMs > e.tsMs {
			elapsed = nowMs - e.tsMs
		}
		if e.fingerprint == fp && elapsed <= f.windowMs {
			duplicate = true
		}
	}
	if duplicate {
		f.DuplicatesSuppressed.Inc()
	}
	f.entries[f.next] = entry{fingerprint: fp, tsMs: nowMs, valid: true}
	f.next = (f.next + 1) % len(f.entries)
	return duplicate
}
