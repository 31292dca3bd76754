// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package server implements the non-blocking server (slave) state
// machine: {Idle, Receiving, Processing, Responding}, driven entirely
// from Poll/PollBudget. It owns the protocol framer, the duplicate
// filter, and dispatches accepted requests against a storage.Table.
package server

import (
	"github.com/ffutop/modbuscore/diag"
	"github.com/ffutop/modbuscore/dupfilter"
	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/frame/ascii"
	"github.com/ffutop/modbuscore/frame/rtu"
	"github.com/ffutop/modbuscore/frame/tcp"
	"github.com/ffutop/modbuscore/pdu"
	"github.com/ffutop/modbuscore/storage"
	"github.com/ffutop/modbuscore/transport"
)

// Protocol selects which framing codec a Server drives its transport
// with.
type Protocol int

const (
	ProtocolRTU Protocol = iota
	ProtocolASCII
	ProtocolTCP
)

// State is a Server's current FSM state.
type State int

const (
	Idle State = iota
	Receiving
	Processing
	Responding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Processing:
		return "processing"
	case Responding:
		return "responding"
	default:
		return "unknown"
	}
}

// Options configures a Server. Zero-value fields fall back to the
// defaults named in spec §6.3.
type Options struct {
	Protocol Protocol

	// ConfiguredUnit is this server's own unit/slave address. Requests
	// addressing neither this unit nor 0 (broadcast) are silently
	// dropped and counted as filtered.
	ConfiguredUnit byte

	DupWindowMs     uint64
	DupWindowSize   int
	RecvScratchSize int
	DiagTraceDepth  int
}

func (o Options) defaulted() Options {
	if o.RecvScratchSize <= 0 {
		o.RecvScratchSize = 256
	}
	return o
}

// Server is a single, cooperatively-scheduled server instance. It owns
// its transport and storage table exclusively; Poll must be called
// from a single goroutine.
type Server struct {
	transport transport.Transport
	protocol  Protocol
	opts      Options

	table *storage.Table
	dup   *dupfilter.Filter

	rtuAsm   *rtu.Assembler
	asciiAsm *ascii.Assembler
	tcpAsm   *tcp.Assembler

	state State

	recvScratch []byte
	leftover    []byte

	curUnitID byte
	curTID    uint16
	curReq    pdu.ProtocolDataUnit

	txBuf  []byte
	txSent int

	idle diag.IdleTracker

	Counters      diag.Counters
	Trace         *diag.Trace
	RecvHighWater diag.HighWater
}

// New creates a Server driving t with the given protocol, options, and
// storage table.
func New(t transport.Transport, table *storage.Table, opts Options) *Server {
	opts = opts.defaulted()
	s := &Server{
		transport:   t,
		protocol:    opts.Protocol,
		opts:        opts,
		table:       table,
		dup:         dupfilter.New(opts.DupWindowMs, opts.DupWindowSize),
		state:       Idle,
		recvScratch: make([]byte, opts.RecvScratchSize),
		Trace:       diag.NewTrace(opts.DiagTraceDepth),
	}
	switch opts.Protocol {
	case ProtocolRTU:
		s.rtuAsm = rtu.NewAssembler(rtu.RoleRequest)
	case ProtocolASCII:
		s.asciiAsm = ascii.NewAssembler()
	case ProtocolTCP:
		s.tcpAsm = tcp.NewAssembler()
	}
	return s
}

// State reports the FSM's current state.
func (s *Server) State() State { return s.state }

// IdleFor reports how long, in milliseconds as of nowMs, it has been
// since this server last sent or received a byte on the wire.
func (s *Server) IdleFor(nowMs uint64) uint64 { return s.idle.IdleFor(nowMs) }

// Poll advances the FSM by one step. It never blocks.
func (s *Server) Poll() { s.PollBudget(1) }

// PollBudget advances the FSM by up to n steps, stopping early if a
// step makes no progress (nothing received, nothing to send).
func (s *Server) PollBudget(n int) {
	for i := 0; i < n; i++ {
		if !s.step() {
			return
		}
	}
}

func (s *Server) step() bool {
	switch s.state {
	case Idle, Receiving:
		return s.stepReceive()
	case Processing:
		return s.stepProcess()
	case Responding:
		return s.stepRespond()
	default:
		return false
	}
}

func (s *Server) stepReceive() bool {
	var buf []byte
	if len(s.leftover) > 0 {
		buf = s.leftover
		s.leftover = nil
	} else {
		res := s.transport.Recv(s.recvScratch)
		if res.Err != nil && !transport.IsTimeout(res.Err) {
			s.resetAssembler()
			s.state = Idle
			return false
		}
		if res.N == 0 {
			return false
		}
		s.idle.Touch(s.transport.NowMs())
		s.RecvHighWater.Observe(uint64(res.N))
		buf = s.recvScratch[:res.N]
	}

	if s.state == Idle {
		s.state = Receiving
	}
	for i := 0; i < len(buf); i++ {
		if s.feedByte(buf[i]) {
			if i+1 < len(buf) {
				s.leftover = append([]byte(nil), buf[i+1:]...)
			}
			return true
		}
	}
	return true
}

func (s *Server) resetAssembler() {
	switch s.protocol {
	case ProtocolRTU:
		s.rtuAsm.Reset()
	case ProtocolASCII:
		s.asciiAsm.Reset()
	case ProtocolTCP:
		s.tcpAsm.Reset()
	}
}

// feedByte feeds one received byte to the protocol assembler. It
// returns true iff the byte completed a frame (accepted, malformed, or
// duplicate), meaning the caller must stop consuming bytes for this
// request cycle.
func (s *Server) feedByte(b byte) bool {
	switch s.protocol {
	case ProtocolRTU:
		frame, ready, err := s.rtuAsm.Feed(b)
		if err != nil {
			s.onMalformed()
			s.state = Idle
			return true
		}
		if !ready {
			return false
		}
		adu, err := rtu.Decode(frame)
		if err != nil {
			s.onMalformed(err)
			s.state = Idle
			return true
		}
		s.accept(adu.UnitID, adu.Pdu)
		return true
	case ProtocolASCII:
		frame, ready := s.asciiAsm.Feed(b)
		if !ready {
			return false
		}
		adu, err := ascii.Decode(frame)
		if err != nil {
			s.onMalformed(err)
			s.state = Idle
			return true
		}
		s.accept(adu.UnitID, adu.Pdu)
		return true
	case ProtocolTCP:
		frame, ready := s.tcpAsm.Feed(b)
		if !ready {
			return false
		}
		adu, err := tcp.Decode(frame)
		if err != nil {
			s.onMalformed(err)
			s.state = Idle
			return true
		}
		s.curTID = adu.TransactionID
		s.accept(adu.UnitID, adu.Pdu)
		return true
	default:
		return false
	}
}

func (s *Server) onMalformed(err ...error) {
	if len(err) == 1 {
		var e *errs.Error
		if errs.As(err[0], &e) && e.Status == errs.StatusCRC {
			s.Counters.CRCErrors.Inc()
		}
	}
	s.Counters.FramesRejected.Inc()
}

// accept records an accepted frame, applying duplicate suppression
// before handing it to dispatch.
func (s *Server) accept(unitID byte, req pdu.ProtocolDataUnit) {
	s.Counters.FramesDecoded.Inc()
	now := s.transport.NowMs()
	if s.dup.Check(now, unitID, req.FunctionCode, req.Data) {
		s.state = Idle
		return
	}
	s.curUnitID = unitID
	s.curReq = req
	s.state = Processing
}

func (s *Server) stepProcess() bool {
	if s.curUnitID != s.opts.ConfiguredUnit && s.curUnitID != 0 {
		s.Counters.Filtered.Inc()
		s.state = Idle
		return true
	}

	resp := Dispatch(s.curReq, s.table)
	if _, ok := resp.IsException(); ok {
		s.Counters.Exceptions.Inc()
	}

	if s.curUnitID == 0 {
		s.state = Idle
		return true
	}

	raw, err := s.encode(resp)
	if err != nil {
		s.state = Idle
		return true
	}
	s.txBuf = raw
	s.txSent = 0
	s.state = Responding
	return true
}

func (s *Server) encode(resp pdu.ProtocolDataUnit) ([]byte, error) {
	switch s.protocol {
	case ProtocolRTU:
		return rtu.ApplicationDataUnit{UnitID: s.curUnitID, Pdu: resp}.Encode()
	case ProtocolASCII:
		return ascii.Encode(ascii.ApplicationDataUnit{UnitID: s.curUnitID, Pdu: resp})
	case ProtocolTCP:
		return tcp.ApplicationDataUnit{TransactionID: s.curTID, UnitID: s.curUnitID, Pdu: resp}.Encode()
	default:
		return nil, errs.New(errs.StatusInvalidArgument, nil)
	}
}

func (s *Server) stepRespond() bool {
	res := s.transport.Send(s.txBuf[s.txSent:])
	s.txSent += res.N
	if res.N > 0 {
		s.idle.Touch(s.transport.NowMs())
	}
	if res.Err != nil && !transport.IsTimeout(res.Err) {
		s.state = Idle
		return true
	}
	if s.txSent < len(s.txBuf) {
		return res.N > 0
	}
	s.state = Idle
	return true
}
