// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the abstract, non-blocking I/O contract
// the client and server state machines are driven against. A concrete
// transport need only implement four operations; vectored send/recv
// are optional and fall back to a buffer copy when unavailable.
package transport

import "github.com/ffutop/modbuscore/errs"

// Result is the outcome of a Send or Recv call.
type Result struct {
	// N is the number of bytes actually transferred; always <= the
	// buffer length passed in.
	N int
	// Err classifies the outcome. nil means success (possibly a
	// partial transfer); errs.StatusTimeout means no bytes were
	// available/acceptable this tick; anything else is a hard I/O
	// failure the caller should treat as errs.StatusTransport.
	Err error
}

// Transport is the four-function, non-blocking I/O contract. Every
// method must return promptly: Send/Recv never block waiting for
// bytes, NowMs never blocks, and Yield is a best-effort cooperative
// hint, not a scheduling guarantee.
type Transport interface {
	// Send writes up to len(buf) bytes without blocking, returning how
	// many were accepted.
	Send(buf []byte) Result
	// Recv reads up to len(buf) bytes without blocking, returning how
	// many were available. Result.Err is errs.StatusTimeout when
	// nothing was available.
	Recv(buf []byte) Result
	// NowMs returns a monotonic millisecond timestamp.
	NowMs() uint64
	// Yield is an optional cooperative scheduling hint; may be a
	// no-op.
	Yield()
}

// VectoredTransport is an optional extension a Transport may also
// implement to avoid a temporary-buffer copy for scatter/gather I/O.
type VectoredTransport interface {
	Transport
	SendV(bufs [][]byte) Result
	RecvV(bufs [][]byte) Result
}

// SendV performs a vectored send, using t's native SendV when t
// implements VectoredTransport, and otherwise falling back to a
// temporary concatenated buffer.
func SendV(t Transport, bufs [][]byte) Result {
	if v, ok := t.(VectoredTransport); ok {
		return v.SendV(bufs)
	}
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	tmp := make([]byte, 0, total)
	for _, b := range bufs {
		tmp = append(tmp, b...)
	}
	return t.Send(tmp)
}

// RecvV performs a vectored receive into bufs in order, using t's
// native RecvV when available, and otherwise reading into a temporary
// buffer and scattering it across bufs.
func RecvV(t Transport, bufs [][]byte) Result {
	if v, ok := t.(VectoredTransport); ok {
		return v.RecvV(bufs)
	}
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	tmp := make([]byte, total)
	res := t.Recv(tmp)
	if res.Err != nil {
		return res
	}
	remaining := tmp[:res.N]
	for _, b := range bufs {
		n := copy(b, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			break
		}
	}
	return res
}

// IsTimeout reports whether err represents a transport timeout
// (no bytes currently available), as opposed to a hard failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var e *errs.Error
	if errs.As(err, &e) {
		return e.Status == errs.StatusTimeout
	}
	return false
}
