// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package client implements the non-blocking client (master) state
// machine: {Idle, Preparing, Sending, Waiting, Backoff}, driven
// entirely from Poll/PollBudget. It owns a fixed-capacity transaction
// pool, a two-tier QoS dispatcher, per-FC timeouts, a watchdog, and
// (on Modbus TCP) transaction-id allocation and matching.
package client

import (
	"github.com/ffutop/modbuscore/diag"
	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/frame/ascii"
	"github.com/ffutop/modbuscore/frame/rtu"
	"github.com/ffutop/modbuscore/frame/tcp"
	"github.com/ffutop/modbuscore/pdu"
	"github.com/ffutop/modbuscore/pool"
	"github.com/ffutop/modbuscore/qos"
	"github.com/ffutop/modbuscore/transport"
)

// Protocol selects which framing codec a Client drives its transport
// with.
type Protocol int

const (
	ProtocolRTU Protocol = iota
	ProtocolASCII
	ProtocolTCP
)

// State is a Client's current FSM state.
type State int

const (
	Idle State = iota
	Preparing
	Sending
	Waiting
	Backoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Sending:
		return "sending"
	case Waiting:
		return "waiting"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Callback receives the outcome of a submitted transaction. resp is
// only meaningful when status == errs.StatusOK or errs.StatusException.
type Callback func(status errs.Status, resp pdu.ProtocolDataUnit, err error)

// transaction is the pool-resident record backing one in-flight (or
// queued) request.
type transaction struct {
	unitID   byte
	req      pdu.ProtocolDataUnit
	priority qos.Priority

	timeoutMs  uint64
	watchdogMs uint64
	backoffMs  uint64
	retries    uint32

	callback Callback
	userCtx  any

	tid       uint16
	startMs   uint64
	lastSend  uint64
	nextFire  uint64
	cancelled bool
}

// Options configures a Client. Zero-value fields fall back to the
// defaults named in spec §6.3.
type Options struct {
	Protocol Protocol

	TxnPoolSize         int
	QueueHighCapacity   int
	QueueNormalCapacity int
	QoSPolicy           qos.Policy
	DeadlineThresholdMs uint64
	DefaultTimeoutMs    uint64
	WatchdogMs          uint64
	RetryBackoffMs      uint64
	MaxRetries          uint32
	PerFCTimeoutMs      map[byte]uint64
	DiagTraceDepth      int
	RecvScratchSize     int
}

// defaulted returns a copy of o with zero fields replaced by defaults.
func (o Options) defaulted() Options {
	if o.TxnPoolSize <= 0 {
		o.TxnPoolSize = 16
	}
	if o.QueueHighCapacity <= 0 {
		o.QueueHighCapacity = 16
	}
	if o.QueueNormalCapacity <= 0 {
		o.QueueNormalCapacity = 64
	}
	if o.DeadlineThresholdMs == 0 {
		o.DeadlineThresholdMs = qos.DefaultDeadlineThresholdMs
	}
	if o.DefaultTimeoutMs == 0 {
		o.DefaultTimeoutMs = 1000
	}
	if o.WatchdogMs == 0 {
		o.WatchdogMs = 5000
	}
	if o.RetryBackoffMs == 0 {
		o.RetryBackoffMs = 100
	}
	if o.RecvScratchSize <= 0 {
		o.RecvScratchSize = 64
	}
	return o
}

// SubmitRequest is the application-facing description of one request.
type SubmitRequest struct {
	UnitID     byte
	Pdu        pdu.ProtocolDataUnit
	Priority   qos.Priority // consulted only under qos.Application
	DeadlineMs uint64       // consulted only under qos.DeadlineBased/Hybrid; 0 = none
	TimeoutMs  uint64       // 0 selects the per-FC or default timeout
	WatchdogMs uint64       // 0 selects Options.WatchdogMs
	Callback   Callback
	UserCtx    any
}

const poisonIdx = -1

// Client is a single, cooperatively-scheduled client instance. It owns
// its transport, transaction pool and QoS queues exclusively; Poll
// must be called from a single goroutine.
type Client struct {
	transport transport.Transport
	protocol  Protocol
	opts      Options

	pool       *pool.Pool[transaction]
	dispatcher *qos.Dispatcher
	tids       *tcp.TIDAllocator

	rtuAsm   *rtu.Assembler
	asciiAsm *ascii.Assembler
	tcpAsm   *tcp.Assembler

	state      State
	currentIdx int

	txBuf  []byte
	txSent int

	recvScratch []byte

	idle diag.IdleTracker

	Counters diag.Counters
	Trace    *diag.Trace
}

// New creates a Client driving t with the given protocol and options.
func New(t transport.Transport, opts Options) *Client {
	opts = opts.defaulted()
	c := &Client{
		transport:   t,
		protocol:    opts.Protocol,
		opts:        opts,
		pool:        pool.New[transaction](opts.TxnPoolSize),
		dispatcher:  qos.NewDispatcher(opts.QueueHighCapacity, opts.QueueNormalCapacity),
		state:       Idle,
		currentIdx:  -1,
		recvScratch: make([]byte, opts.RecvScratchSize),
		Trace:       diag.NewTrace(opts.DiagTraceDepth),
	}
	switch opts.Protocol {
	case ProtocolRTU:
		c.rtuAsm = rtu.NewAssembler(rtu.RoleResponse)
	case ProtocolASCII:
		c.asciiAsm = ascii.NewAssembler()
	case ProtocolTCP:
		c.tcpAsm = tcp.NewAssembler()
		c.tids = tcp.NewTIDAllocator()
	}
	return c
}

// State reports the FSM's current state.
func (c *Client) State() State { return c.state }

// IdleFor reports how long, in milliseconds as of nowMs, it has been
// since this client last sent or received a byte on the wire.
func (c *Client) IdleFor(nowMs uint64) uint64 { return c.idle.IdleFor(nowMs) }

// Submit enqueues req for dispatch, returning the transaction index a
// caller can later pass to Cancel. When the transaction pool or the
// target queue is exhausted it returns errs.StatusNoResources for a
// High-priority request and errs.StatusBusy for a Normal one — per
// spec, the caller is expected to drop a Busy request rather than
// retry immediately.
func (c *Client) Submit(req SubmitRequest) (int, *errs.Error) {
	now := c.transport.NowMs()
	priority := qos.Classify(c.opts.QoSPolicy, req.Pdu.FunctionCode, now, req.DeadlineMs, c.opts.DeadlineThresholdMs, req.Priority)

	idx, txn, ok := c.pool.Acquire()
	if !ok {
		if priority == qos.High {
			return -1, errs.New(errs.StatusNoResources, nil)
		}
		return -1, errs.New(errs.StatusBusy, nil)
	}

	timeout := req.TimeoutMs
	if timeout == 0 {
		timeout = c.opts.PerFCTimeoutMs[req.Pdu.FunctionCode]
	}
	if timeout == 0 {
		timeout = c.opts.DefaultTimeoutMs
	}
	watchdog := req.WatchdogMs
	if watchdog == 0 {
		watchdog = c.opts.WatchdogMs
	}

	*txn = transaction{
		unitID:     req.UnitID,
		req:        req.Pdu,
		priority:   priority,
		timeoutMs:  timeout,
		watchdogMs: watchdog,
		backoffMs:  c.opts.RetryBackoffMs,
		retries:    c.opts.MaxRetries,
		callback:   req.Callback,
		userCtx:    req.UserCtx,
	}

	if !c.dispatcher.Submit(priority, idx) {
		c.pool.Release(idx)
		if priority == qos.High {
			return -1, errs.New(errs.StatusNoResources, nil)
		}
		return -1, errs.New(errs.StatusBusy, nil)
	}
	return idx, nil
}

// SubmitPoison enqueues a poison pill at High priority. Once dequeued,
// the FSM drains every other queued transaction (cancelling each) and
// returns to Idle once any in-flight request has completed naturally.
func (c *Client) SubmitPoison() {
	c.dispatcher.Submit(qos.High, poisonIdx)
}

// Cancel aborts txnIdx (as returned via the callback's UserCtx caller
// bookkeeping, or tracked externally by the caller). If the
// transaction is currently in flight it finalizes immediately with
// errs.StatusCancelled; if still queued it is marked so the FSM
// discards it without dispatch. Cancellation is idempotent.
func (c *Client) Cancel(txnIdx int) {
	txn := c.pool.Get(txnIdx)
	if txn.cancelled {
		return
	}
	txn.cancelled = true
	if txnIdx == c.currentIdx {
		c.finalize(txnIdx, errs.StatusCancelled, pdu.ProtocolDataUnit{}, nil)
	}
}

// Poll advances the FSM by one step. It never blocks.
func (c *Client) Poll() { c.PollBudget(1) }

// PollBudget advances the FSM by up to n steps, stopping early if a
// step makes no progress (nothing queued, nothing received).
func (c *Client) PollBudget(n int) {
	for i := 0; i < n; i++ {
		if !c.step() {
			return
		}
	}
}

func (c *Client) step() bool {
	switch c.state {
	case Idle:
		return c.stepIdle()
	case Preparing:
		return c.stepPreparing()
	case Sending:
		return c.stepSending()
	case Waiting:
		return c.stepWaiting()
	case Backoff:
		return c.stepBackoff()
	default:
		return false
	}
}

func (c *Client) stepIdle() bool {
	v, _, ok := c.dispatcher.Dequeue()
	if !ok {
		return false
	}
	idx := v.(int)
	if idx == poisonIdx {
		c.drainQueue()
		return true
	}
	txn := c.pool.Get(idx)
	if txn.cancelled {
		c.finalize(idx, errs.StatusCancelled, pdu.ProtocolDataUnit{}, nil)
		return true
	}
	c.currentIdx = idx
	c.state = Preparing
	c.trace("preparing", "")
	return true
}

// drainQueue cancels every transaction still queued, used by the
// poison-pill path.
func (c *Client) drainQueue() {
	for {
		v, _, ok := c.dispatcher.Dequeue()
		if !ok {
			return
		}
		idx := v.(int)
		if idx == poisonIdx {
			continue
		}
		c.finalize(idx, errs.StatusCancelled, pdu.ProtocolDataUnit{}, nil)
	}
}

func (c *Client) stepPreparing() bool {
	idx := c.currentIdx
	txn := c.pool.Get(idx)

	raw, err := c.encode(txn)
	if err != nil {
		c.finalize(idx, errs.StatusInvalidArgument, pdu.ProtocolDataUnit{}, err)
		return true
	}
	c.txBuf = raw
	c.txSent = 0
	c.state = Sending
	c.trace("sending", "")
	return true
}

func (c *Client) encode(txn *transaction) ([]byte, error) {
	switch c.protocol {
	case ProtocolRTU:
		return rtu.ApplicationDataUnit{UnitID: txn.unitID, Pdu: txn.req}.Encode()
	case ProtocolASCII:
		return ascii.Encode(ascii.ApplicationDataUnit{UnitID: txn.unitID, Pdu: txn.req})
	case ProtocolTCP:
		tid, ok := c.tids.Acquire()
		if !ok {
			return nil, errs.New(errs.StatusNoResources, nil)
		}
		txn.tid = tid
		return tcp.ApplicationDataUnit{TransactionID: tid, UnitID: txn.unitID, Pdu: txn.req}.Encode()
	default:
		return nil, errs.New(errs.StatusInvalidArgument, nil)
	}
}

func (c *Client) stepSending() bool {
	idx := c.currentIdx
	res := c.transport.Send(c.txBuf[c.txSent:])
	c.txSent += res.N
	if res.N > 0 {
		c.idle.Touch(c.transport.NowMs())
	}
	if res.Err != nil && !transport.IsTimeout(res.Err) {
		c.finalize(idx, errs.StatusTransport, pdu.ProtocolDataUnit{}, res.Err)
		return true
	}
	if c.txSent < len(c.txBuf) {
		return res.N > 0
	}

	now := c.transport.NowMs()
	txn := c.pool.Get(idx)
	txn.lastSend = now
	if txn.startMs == 0 {
		txn.startMs = now
	}

	if txn.unitID == 0 {
		c.finalize(idx, errs.StatusOK, pdu.ProtocolDataUnit{}, nil)
		return true
	}

	c.resetAssembler()
	c.state = Waiting
	c.trace("waiting", "")
	return true
}

func (c *Client) stepBackoff() bool {
	idx := c.currentIdx
	txn := c.pool.Get(idx)
	if c.transport.NowMs() < txn.nextFire {
		return false
	}
	c.txSent = 0
	c.state = Sending
	return true
}

func (c *Client) resetAssembler() {
	switch c.protocol {
	case ProtocolRTU:
		c.rtuAsm.Reset()
	case ProtocolASCII:
		c.asciiAsm.Reset()
	case ProtocolTCP:
		c.tcpAsm.Reset()
	}
}

func (c *Client) stepWaiting() bool {
	idx := c.currentIdx
	txn := c.pool.Get(idx)
	now := c.transport.NowMs()

	if elapsed(now, txn.startMs) > txn.watchdogMs {
		c.finalize(idx, errs.StatusTransport, pdu.ProtocolDataUnit{}, errs.New(errs.StatusTimeout, nil))
		return true
	}

	res := c.transport.Recv(c.recvScratch)
	if res.Err != nil {
		if !transport.IsTimeout(res.Err) {
			c.finalize(idx, errs.StatusTransport, pdu.ProtocolDataUnit{}, res.Err)
			return true
		}
		return c.checkPerAttemptTimeout(idx, txn, now)
	}
	if res.N == 0 {
		return c.checkPerAttemptTimeout(idx, txn, now)
	}
	c.idle.Touch(now)

	progressed := false
	for i := 0; i < res.N; i++ {
		if c.feedByte(idx, txn, c.recvScratch[i]) {
			progressed = true
			if c.currentIdx != idx {
				// finalized mid-loop (matched response, CRC error is
				// non-terminal so currentIdx is unchanged in that case)
				return true
			}
		}
	}
	return progressed || res.N > 0
}

func (c *Client) checkPerAttemptTimeout(idx int, txn *transaction, now uint64) bool {
	if elapsed(now, txn.lastSend) <= txn.timeoutMs {
		return false
	}
	if txn.retries > 0 {
		txn.retries--
		c.Counters.Retries.Inc()
		txn.nextFire = now + txn.backoffMs
		c.state = Backoff
		return true
	}
	c.finalize(idx, errs.StatusTimeout, pdu.ProtocolDataUnit{}, nil)
	return true
}

// feedByte feeds one received byte to the protocol assembler. It
// returns true iff the byte completed a frame that matched the current
// transaction and was handed to onResponse; malformed or mismatched
// frames are counted and discarded, returning false.
func (c *Client) feedByte(idx int, txn *transaction, b byte) bool {
	switch c.protocol {
	case ProtocolRTU:
		frame, ready, err := c.rtuAsm.Feed(b)
		if err != nil {
			c.Counters.FramesRejected.Inc()
			return false
		}
		if !ready {
			return false
		}
		adu, err := rtu.Decode(frame)
		if err != nil {
			c.onMalformed(err)
			return false
		}
		if adu.UnitID != txn.unitID {
			c.Counters.TIDMismatches.Inc()
			return false
		}
		c.onResponse(idx, adu.Pdu)
		return true
	case ProtocolASCII:
		frame, ready := c.asciiAsm.Feed(b)
		if !ready {
			return false
		}
		adu, err := ascii.Decode(frame)
		if err != nil {
			c.onMalformed(err)
			return false
		}
		if adu.UnitID != txn.unitID {
			c.Counters.TIDMismatches.Inc()
			return false
		}
		c.onResponse(idx, adu.Pdu)
		return true
	case ProtocolTCP:
		frame, ready := c.tcpAsm.Feed(b)
		if !ready {
			return false
		}
		adu, err := tcp.Decode(frame)
		if err != nil {
			c.onMalformed(err)
			return false
		}
		if adu.TransactionID != txn.tid {
			c.Counters.TIDMismatches.Inc()
			return false
		}
		c.onResponse(idx, adu.Pdu)
		return true
	default:
		return false
	}
}

func (c *Client) onMalformed(err error) {
	var e *errs.Error
	if errs.As(err, &e) && e.Status == errs.StatusCRC {
		c.Counters.CRCErrors.Inc()
	}
	c.Counters.FramesRejected.Inc()
}

func (c *Client) onResponse(idx int, resp pdu.ProtocolDataUnit) {
	c.Counters.ResponsesMatched.Inc()
	c.Counters.FramesDecoded.Inc()
	if code, ok := resp.IsException(); ok {
		c.Counters.Exceptions.Inc()
		c.finalize(idx, errs.StatusException, resp, errs.Exception(code))
		return
	}
	c.finalize(idx, errs.StatusOK, resp, nil)
}

func (c *Client) finalize(idx int, status errs.Status, resp pdu.ProtocolDataUnit, cause error) {
	txn := c.pool.Get(idx)
	if status == errs.StatusCancelled {
		c.Counters.Cancelled.Inc()
	}
	if c.protocol == ProtocolTCP && txn.tid != 0 {
		c.tids.Release(txn.tid)
	}
	cb := txn.callback
	if cb != nil {
		cb(status, resp, cause)
	}
	c.pool.Release(idx)
	if idx == c.currentIdx {
		c.currentIdx = -1
		c.state = Idle
	}
}

// elapsed returns now-since, clamped to zero across a clock regression.
func elapsed(now, since uint64) uint64 {
	if now <= since {
		return 0
	}
	return now - since
}

func (c *Client) trace(kind, note string) {
	if c.Trace == nil {
		return
	}
	c.Trace.Record(diag.Event{TsMs: c.transport.NowMs(), Kind: kind, Note: note})
}
