// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package netio adapts a net.Conn (TCP) to the engine's four-function
// Transport contract: Send/Recv are made non-blocking via
// SetReadDeadline(time.Now()), turning os.ErrDeadlineExceeded into the
// engine's Timeout status rather than letting the caller block.
package netio

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/transport"
)

// Result aliases transport.Result so this package's exported API
// doesn't force every caller to also import the transport package just
// to spell the return type.
type Result = transport.Result

// Conn wraps a net.Conn as a non-blocking Transport.
type Conn struct {
	conn net.Conn
}

// New wraps an already-established connection.
func New(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Send writes buf to the connection. A short write is reported as a
// partial Result, matching the contract's "processed <= len" rule.
func (c *Conn) Send(buf []byte) Result {
	n, err := c.conn.Write(buf)
	if err != nil {
		return Result{N: n, Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTransport, Cause: err})}
	}
	return Result{N: n}
}

// Recv reads into buf without blocking: it sets an immediate read
// deadline so a peer with nothing to say returns promptly rather than
// parking the calling goroutine.
func (c *Conn) Recv(buf []byte) Result {
	if err := c.conn.SetReadDeadline(time.Now()); err != nil {
		return Result{Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTransport, Cause: err})}
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Result{N: n, Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTimeout, Cause: err})}
		}
		return Result{N: n, Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTransport, Cause: err})}
	}
	return Result{N: n}
}

// NowMs returns a monotonic millisecond timestamp.
func (c *Conn) NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Yield cooperatively yields via runtime.Gosched; net.Conn reads
// already multiplex through the Go scheduler so this is mostly a
// courtesy for tight polling loops.
func (c *Conn) Yield() {
	runtime.Gosched()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Dial opens a TCP connection to address and wraps it.
func Dial(address string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTransport, Cause: err})
	}
	return New(conn), nil
}
