// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package qos implements the client's two-tier priority dispatcher: a
// High queue drained strictly before a Normal queue, with pluggable
// policies deciding which tier a submitted request belongs to.
package qos

import (
	"go.uber.org/atomic"

	"github.com/ffutop/modbuscore/pdu"
	"github.com/ffutop/modbuscore/queue"
)

// Priority is the tier a request is dispatched under.
type Priority int

const (
	Normal Priority = iota
	High
)

// Policy selects a Priority for a request.
type Policy int

const (
	// FCBased makes FC05, FC06 and FC08 High; everything else Normal.
	FCBased Policy = iota
	// DeadlineBased makes a request High iff it has a deadline (nonzero)
	// that is within DeadlineThresholdMs of now or already past.
	DeadlineBased
	// Application trusts the caller-supplied priority verbatim.
	Application
	// Hybrid starts from FCBased and promotes to High if the deadline
	// predicate also holds.
	Hybrid
)

// DefaultDeadlineThresholdMs is the default promotion threshold for
// DeadlineBased and Hybrid policies.
const DefaultDeadlineThresholdMs = 100

// Classify assigns a Priority to a request under the given policy.
// applicationPriority is only consulted by Application.
func Classify(policy Policy, fc byte, nowMs, deadlineMs uint64, thresholdMs uint64, applicationPriority Priority) Priority {
	if thresholdMs == 0 {
		thresholdMs = DefaultDeadlineThresholdMs
	}
	fcHigh := fc == pdu.FuncCodeWriteSingleCoil || fc == pdu.FuncCodeWriteSingleRegister || fc == 0x08
	deadlineHigh := deadlineMs != 0 && (deadlineMs <= nowMs || deadlineMs-nowMs <= thresholdMs)

	switch policy {
	case FCBased:
		if fcHigh {
			return High
		}
		return Normal
	case DeadlineBased:
		if deadlineHigh {
			return High
		}
		return Normal
	case Application:
		return applicationPriority
	case Hybrid:
		if fcHigh || deadlineHigh {
			return High
		}
		return Normal
	default:
		return Normal
	}
}

// Dispatcher holds the two SPSC queues backing a client instance's
// submission path, plus per-priority stats.
type Dispatcher struct {
	high   *queue.SPSC
	normal *queue.SPSC

	HighEnqueued   atomic.Uint64
	NormalEnqueued atomic.Uint64
	HighDequeued   atomic.Uint64
	NormalDequeued atomic.Uint64
	Rejected       atomic.Uint64
}

// NewDispatcher creates a Dispatcher with the given per-priority
// capacities (rounded up to powers of two by the underlying queues).
func NewDispatcher(highCapacity, normalCapacity int) *Dispatcher {
	return &Dispatcher{
		high:   queue.NewSPSC(highCapacity),
		normal: queue.NewSPSC(normalCapacity),
	}
}

// Submit enqueues v under the given priority. It returns false if the
// target queue is full (callers should treat a full High queue as
// errs.StatusNoResources, and a full Normal queue as errs.StatusBusy).
func (d *Dispatcher) Submit(p Priority, v any) bool {
	var ok bool
	if p == High {
		ok = d.high.Push(v)
		if ok {
			d.HighEnqueued.Inc()
		}
	} else {
		ok = d.normal.Push(v)
		if ok {
			d.NormalEnqueued.Inc()
		}
	}
	if !ok {
		d.Rejected.Inc()
	}
	return ok
}

// Dequeue drains the High queue fully before ever returning a Normal
// element, enforcing the dispatcher's strict-priority guarantee.
func (d *Dispatcher) Dequeue() (v any, p Priority, ok bool) {
	if v, ok = d.high.Pop(); ok {
		d.HighDequeued.Inc()
		return v, High, true
	}
	if v, ok = d.normal.Pop(); ok {
		d.NormalDequeued.Inc()
		return v, Normal, true
	}
	return nil, Normal, false
}

// Len reports the number of queued elements per priority.
func (d *Dispatcher) Len() (high, normal int) {
	return d.high.Len(), d.normal.Len()
}
