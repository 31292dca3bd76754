// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/ffutop/modbuscore/adapters/netio"
	"github.com/ffutop/modbuscore/storage"
)

// SessionPool accepts connections on a net.Listener and runs one
// Server instance per connection, each driven from its own goroutine
// with its own RX/TX buffers, duplicate filter, and diagnostics. It
// adapts the teacher gateway's "one goroutine per upstream, supervised
// by a WaitGroup, stop on ctx.Done()" shape to Modbus TCP's
// one-session-per-connection model, using a panic-safe
// sourcegraph/conc.WaitGroup in place of a bare sync.WaitGroup.
type SessionPool struct {
	listener net.Listener
	table    *storage.Table
	opts     Options

	// PollIntervalWhenIdle is how long a session's poll loop sleeps
	// after a Poll that leaves the server Idle, to avoid spinning a full
	// core per connection while idle.
	PollIntervalWhenIdle time.Duration
}

// NewSessionPool creates a pool accepting connections on l, serving
// table, with each accepted Server configured per opts (Protocol
// forced to ProtocolTCP).
func NewSessionPool(l net.Listener, table *storage.Table, opts Options) *SessionPool {
	opts.Protocol = ProtocolTCP
	return &SessionPool{
		listener:             l,
		table:                table,
		opts:                 opts,
		PollIntervalWhenIdle: time.Millisecond,
	}
}

// Run accepts connections until ctx is cancelled, serving each on its
// own goroutine. It blocks until every session has wound down.
func (p *SessionPool) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("session pool: accept failed", "err", err)
				return err
			}
		}
		wg.Go(func() {
			p.serve(ctx, conn)
		})
	}
}

func (p *SessionPool) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	c := netio.New(conn)
	srv := New(c, p.table, p.opts)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		srv.Poll()
		if srv.State() == Idle {
			time.Sleep(p.PollIntervalWhenIdle)
		}
	}
}
