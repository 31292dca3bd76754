// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package queue implements fixed-capacity ring buffers that move work
// between producer and consumer without per-item allocation: an SPSC
// queue (backing the client's QoS submission queues in package qos)
// and a mutex-guarded MPSC queue for multi-goroutine producers. The
// server does not use either.
package queue

import "go.uber.org/atomic"

// SPSC is a single-producer, single-consumer ring buffer of
// power-of-two capacity. Head and tail indices use acquire/release
// ordering (via go.uber.org/atomic) so a single producer and a single
// consumer may run concurrently without a lock, matching the ISR-safe
// producer path the engine requires.
type SPSC struct {
	mask uint64
	buf  []any

	head atomic.Uint64 // next slot the consumer will read
	tail atomic.Uint64 // next slot the producer will write
}

// NewSPSC creates an SPSC queue. capacity is rounded up to the next
// power of two.
func NewSPSC(capacity int) *SPSC {
	n := nextPow2(capacity)
	return &SPSC{mask: uint64(n - 1), buf: make([]any, n)}
}

// Push enqueues v. It returns false if the queue is full. Only the
// single producer goroutine may call Push.
func (q *SPSC) Push(v any) bool {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail-head >= uint64(len(q.buf)) {
		return false
	}
	q.buf[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest element. It returns false if the queue is
// empty. Only the single consumer goroutine may call Pop.
func (q *SPSC) Pop() (any, bool) {
	head := q.head.Load()
	tail := q.tail.Load()
	if head == tail {
		return nil, false
	}
	v := q.buf[head&q.mask]
	q.buf[head&q.mask] = nil
	q.head.Store(head + 1)
	return v, true
}

// Len returns the approximate number of queued elements; safe to call
// from either side, but may be stale by the time it returns.
func (q *SPSC) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the queue's fixed capacity.
func (q *SPSC) Cap() int {
	return len(q.buf)
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
