// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

// TIDAllocator hands out transaction identifiers for a single MBAP
// connection: a monotone counter that wraps at 65535 and skips any
// value currently marked in use, so two in-flight transactions never
// share a TID.
type TIDAllocator struct {
	next  uint16
	inUse map[uint16]struct{}
}

// NewTIDAllocator creates an allocator starting its count at 1 (0 is a
// legal but easily-confused-with-"unset" first value, so the teacher's
// own client.go started its atomic counter at 1 too).
func NewTIDAllocator() *TIDAllocator {
	return &TIDAllocator{next: 0, inUse: make(map[uint16]struct{})}
}

// Acquire returns a fresh TID not currently in use and marks it used.
// It scans at most 65536 candidates before giving up (which only
// happens if every possible TID is simultaneously in flight).
func (a *TIDAllocator) Acquire() (uint16, bool) {
	for i := 0; i < 1<<16; i++ {
		a.next++
		if _, busy := a.inUse[a.next]; !busy {
			a.inUse[a.next] = struct{}{}
			return a.next, true
		}
	}
	return 0, false
}

// Release marks tid free for reuse.
func (a *TIDAllocator) Release(tid uint16) {
	delete(a.inUse, tid)
}

// InUse reports whether tid is currently allocated.
func (a *TIDAllocator) InUse(tid uint16) bool {
	_, busy := a.inUse[tid]
	return busy
}
