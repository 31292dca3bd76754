// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package pool implements the fixed-capacity transaction pool: a
// preallocated array of slots threaded on a singly-linked free list,
// giving O(1) acquire/release with no allocation in the steady state.
package pool

import (
	"go.uber.org/atomic"

	"github.com/ffutop/modbuscore/diag"
)

// freeEnd marks the tail of the free list.
const freeEnd = -1

// Pool is a fixed-capacity slot allocator for values of type T. The
// zero value is not ready to use; call New.
type Pool[T any] struct {
	slots []T
	inUse []bool
	next  []int // free-list link; next[i] is the slot after i, or freeEnd
	head  int   // first free slot, or freeEnd

	highWater      diag.HighWater
	totalAcquired  atomic.Uint64
	totalReleased  atomic.Uint64
	failedAcquires atomic.Uint64
	inUseCount     atomic.Uint32
}

// New creates a Pool with capacity fixed slots.
func New[T any](capacity int) *Pool[T] {
	p := &Pool[T]{
		slots: make([]T, capacity),
		inUse: make([]bool, capacity),
		next:  make([]int, capacity),
	}
	if capacity == 0 {
		p.head = freeEnd
		return p
	}
	for i := 0; i < capacity; i++ {
		if i == capacity-1 {
			p.next[i] = freeEnd
		} else {
			p.next[i] = i + 1
		}
	}
	p.head = 0
	return p
}

// Acquire pops a free slot in O(1), returning its index and a pointer
// to its value for in-place initialization. ok is false when the pool
// is exhausted.
func (p *Pool[T]) Acquire() (idx int, val *T, ok bool) {
	if p.head == freeEnd {
		p.failedAcquires.Inc()
		return 0, nil, false
	}
	idx = p.head
	p.head = p.next[idx]
	p.inUse[idx] = true

	p.totalAcquired.Inc()
	inUse := p.inUseCount.Inc()
	p.highWater.Observe(uint64(inUse))
	return idx, &p.slots[idx], true
}

// Release pushes idx back onto the free list in O(1). Releasing an
// already-free slot is a no-op.
func (p *Pool[T]) Release(idx int) {
	if idx < 0 || idx >= len(p.slots) || !p.inUse[idx] {
		return
	}
	var zero T
	p.slots[idx] = zero
	p.inUse[idx] = false
	p.next[idx] = p.head
	p.head = idx

	p.totalReleased.Inc()
	p.inUseCount.Dec()
}

// Get returns a pointer to the slot at idx without affecting the free
// list; callers that already hold an acquired index use this to
// re-access the value.
func (p *Pool[T]) Get(idx int) *T {
	return &p.slots[idx]
}

// InUse reports the number of currently acquired slots.
func (p *Pool[T]) InUse() uint32 { return p.inUseCount.Load() }

// HighWater reports the maximum number of slots ever simultaneously in
// use.
func (p *Pool[T]) HighWater() uint64 { return p.highWater.Peak() }

// TotalAcquired reports the lifetime count of successful acquires.
func (p *Pool[T]) TotalAcquired() uint64 { return p.totalAcquired.Load() }

// TotalReleased reports the lifetime count of releases.
func (p *Pool[T]) TotalReleased() uint64 { return p.totalReleased.Load() }

// FailedAcquires reports the lifetime count of Acquire calls made
// while the pool was exhausted.
func (p *Pool[T]) FailedAcquires() uint64 { return p.failedAcquires.Load() }

// Cap returns the pool's fixed capacity.
func (p *Pool[T]) Cap() int { return len(p.slots) }
