// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package pipeio implements an in-process, non-blocking duplex
// Transport pair. It exists because the teacher's own end-to-end tests
// drove a compiled binary over a real PTY/TCP socket via os/exec,
// which is inappropriate for this module's own test suite: a library
// must not fork `go build` to test itself. Pipe gives the client and
// server state machines a byte-exact wire to exercise without any
// real I/O.
package pipeio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/transport"
)

// Pipe is one direction of an in-process byte stream: bytes written
// with Send become visible to Recv on the peer built from the other
// end of NewPair.
type Pipe struct {
	mu  sync.Mutex
	buf []byte
}

// NewPair returns two Transports wired so that bytes sent on a arrive
// at b's Recv, and vice versa.
func NewPair() (a, b transport.Transport) {
	ab := &Pipe{}
	ba := &Pipe{}
	return &endpoint{out: ab, in: ba}, &endpoint{out: ba, in: ab}
}

type endpoint struct {
	out *Pipe
	in  *Pipe
}

// Send appends buf to the outbound pipe; it never blocks and never
// reports a partial write since the backing buffer is unbounded.
func (e *endpoint) Send(buf []byte) transport.Result {
	e.out.mu.Lock()
	defer e.out.mu.Unlock()
	e.out.buf = append(e.out.buf, buf...)
	return transport.Result{N: len(buf)}
}

// Recv copies as many bytes as are currently available (up to
// len(buf)) from the inbound pipe. When nothing is available it
// returns immediately with errs.StatusTimeout, matching the contract
// that Recv never blocks.
func (e *endpoint) Recv(buf []byte) transport.Result {
	e.in.mu.Lock()
	defer e.in.mu.Unlock()
	if len(e.in.buf) == 0 {
		return transport.Result{Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTimeout})}
	}
	n := copy(buf, e.in.buf)
	e.in.buf = e.in.buf[n:]
	return transport.Result{N: n}
}

// NowMs returns a monotonic millisecond timestamp.
func (e *endpoint) NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Yield is a no-op: an in-process pipe has nothing to wait on.
func (e *endpoint) Yield() {}
