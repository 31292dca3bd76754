// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package diag implements the engine's diagnostics: monotonic
// counters, a ring-buffered event trace, and idle-time tracking shared
// by both the client and server state machines.
package diag

import "go.uber.org/atomic"

// Event is a single traced occurrence, recorded with a monotonic
// timestamp supplied by the transport's NowMs.
type Event struct {
	TsMs uint64
	Kind string
	Note string
}

// Counters aggregates the monotonically non-decreasing counts the
// spec requires: frames seen/rejected, exceptions, timeouts, retries,
// and so on. All fields use typed atomics so counters are safe to
// bump from a producer path running outside the poll goroutine (e.g.
// an ISR-safe SPSC enqueue) while the poll loop reads them.
type Counters struct {
	FramesDecoded    atomic.Uint64
	FramesRejected   atomic.Uint64
	CRCErrors        atomic.Uint64
	Exceptions       atomic.Uint64
	Timeouts         atomic.Uint64
	Retries          atomic.Uint64
	Filtered         atomic.Uint64
	Cancelled        atomic.Uint64
	ResponsesMatched atomic.Uint64
	TIDMismatches    atomic.Uint64
}

// Trace is a fixed-depth ring buffer of recent Events. Depth 0
// disables tracing; Record becomes a no-op but Counters are still
// updated by callers independently.
type Trace struct {
	events []Event
	next   int
	filled bool
}

// NewTrace creates a Trace with the given depth (0 disables it).
func NewTrace(depth int) *Trace {
	if depth <= 0 {
		return &Trace{}
	}
	return &Trace{events: make([]Event, depth)}
}

// Record appends an event, overwriting the oldest once the ring is
// full. A no-op when the trace was created with depth 0.
func (t *Trace) Record(e Event) {
	if len(t.events) == 0 {
		return
	}
	t.events[t.next] = e
	t.next = (t.next + 1) % len(t.events)
	if t.next == 0 {
		t.filled = true
	}
}

// Snapshot returns the recorded events in chronological order.
func (t *Trace) Snapshot() []Event {
	if len(t.events) == 0 {
		return nil
	}
	if !t.filled {
		out := make([]Event, t.next)
		copy(out, t.events[:t.next])
		return out
	}
	out := make([]Event, len(t.events))
	copy(out, t.events[t.next:])
	copy(out[len(t.events)-t.next:], t.events[:t.next])
	return out
}

// IdleTracker tracks the timestamp of the last activity so callers can
// detect an idle instance (e.g. to auto-close a serial port).
type IdleTracker struct {
	lastActivityMs atomic.Uint64
}

// Touch records activity at nowMs.
func (it *IdleTracker) Touch(nowMs uint64) {
	it.lastActivityMs.Store(nowMs)
}

// IdleFor returns how long, in milliseconds, the tracker has observed
// no activity as of nowMs. Clock regressions are clamped to zero.
func (it *IdleTracker) IdleFor(nowMs uint64) uint64 {
	last := it.lastActivityMs.Load()
	if nowMs <= last {
		return 0
	}
	return nowMs - last
}

// HighWater tracks the maximum value ever observed via Observe.
type HighWater struct {
	peak atomic.Uint64
}

// Observe records v, updating the running peak if v exceeds it.
func (h *HighWater) Observe(v uint64) {
	for {
		p := h.peak.Load()
		if v <= p || h.peak.CAS(p, v) {
			return
		}
	}
}

// Peak returns the maximum value ever recorded.
func (h *HighWater) Peak() uint64 { return h.peak.Load() }
