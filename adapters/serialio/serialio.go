// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serialio adapts github.com/grid-x/serial to the engine's
// four-function Transport contract, including the idle-timeout
// auto-close behaviour and RS485 timing fields the teacher's serial
// transport carried.
package serialio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/transport"
)

type Result = transport.Result

// IdleTimeout disables auto-close when zero.
type Config struct {
	serial.Config
	IdleTimeout time.Duration
}

// Port is a non-blocking Transport wrapping a grid-x/serial port. It
// opens lazily on the first Send/Recv and auto-closes after
// IdleTimeout of inactivity, matching the teacher's serialPort.
type Port struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

// New creates a Port for cfg. log defaults to slog.Default() when nil.
func New(cfg Config, log *slog.Logger) *Port {
	if log == nil {
		log = slog.Default()
	}
	return &Port{cfg: cfg, log: log}
}

func (p *Port) connect() error {
	if p.port != nil {
		return nil
	}
	port, err := serial.Open(&p.cfg.Config)
	if err != nil {
		return fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTransport,
			Cause: fmt.Errorf("opening %s: %w", p.cfg.Address, err)})
	}
	p.port = port
	return nil
}

func (p *Port) closeLocked() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// Close releases the underlying serial port, if open.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Port) startCloseTimer() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	if p.closeTimer == nil {
		p.closeTimer = time.AfterFunc(p.cfg.IdleTimeout, p.closeIdle)
	} else {
		p.closeTimer.Reset(p.cfg.IdleTimeout)
	}
}

func (p *Port) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	if idle := time.Since(p.lastActivity); idle >= p.cfg.IdleTimeout {
		p.log.Debug("modbus: closing serial port due to idle timeout", "idle", idle)
		p.closeLocked()
	}
}

// Send implements transport.Transport. It is non-blocking in the sense
// that grid-x/serial writes do not wait for a peer; the OS write
// buffer absorbs the bytes.
func (p *Port) Send(buf []byte) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return Result{Err: err}
	}
	p.lastActivity = time.Now()
	p.startCloseTimer()

	n, err := p.port.Write(buf)
	if err != nil {
		p.closeLocked()
		return Result{N: n, Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTransport, Cause: err})}
	}
	return Result{N: n}
}

// Recv implements transport.Transport. The underlying port is expected
// to be configured with a short read timeout (via serial.Config) so
// that Read returns promptly with zero bytes rather than blocking
// indefinitely; that is surfaced here as errs.StatusTimeout.
func (p *Port) Recv(buf []byte) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return Result{Err: err}
	}
	n, err := p.port.Read(buf)
	if n > 0 {
		p.lastActivity = time.Now()
		p.startCloseTimer()
	}
	if err != nil {
		if errors.Is(err, io.EOF) || n == 0 {
			return Result{N: n, Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTimeout, Cause: err})}
		}
		p.closeLocked()
		return Result{N: n, Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTransport, Cause: err})}
	}
	if n == 0 {
		return Result{Err: fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusTimeout})}
	}
	return Result{N: n}
}

// NowMs returns a monotonic millisecond timestamp.
func (p *Port) NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Yield cooperatively yields to the OS scheduler; see yield_unix.go and
// yield_other.go for the platform-specific implementation.
func (p *Port) Yield() {
	yield()
}
