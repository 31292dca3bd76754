// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package client

import (
	"bytes"
	"testing"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/frame/rtu"
	"github.com/ffutop/modbuscore/pdu"
	"github.com/ffutop/modbuscore/transport"
)

// fakeTransport is a deterministic, manually-clocked Transport used so
// timeout/backoff/watchdog tests don't depend on wall-clock sleeps.
type fakeTransport struct {
	outbound bytes.Buffer
	inbound  []byte
	nowMs    uint64
}

func (f *fakeTransport) Send(buf []byte) transport.Result {
	f.outbound.Write(buf)
	return transport.Result{N: len(buf)}
}

func (f *fakeTransport) Recv(buf []byte) transport.Result {
	if len(f.inbound) == 0 {
		return transport.Result{Err: errs.New(errs.StatusTimeout, nil)}
	}
	n := copy(buf, f.inbound)
	f.inbound = f.inbound[n:]
	return transport.Result{N: n}
}

func (f *fakeTransport) NowMs() uint64 { return f.nowMs }
func (f *fakeTransport) Yield()        {}

func TestClientRTURoundTrip(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{Protocol: ProtocolRTU, MaxRetries: 1})

	var gotStatus errs.Status
	var gotResp pdu.ProtocolDataUnit
	req, err := pdu.EncodeReadRequest(pdu.FuncCodeReadHoldingRegisters, 0x0000, 4)
	if err != nil {
		t.Fatalf("EncodeReadRequest: %v", err)
	}
	if _, sErr := c.Submit(SubmitRequest{
		UnitID: 0x20,
		Pdu:    req,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, err error) {
			gotStatus = status
			gotResp = resp
		},
	}); sErr != nil {
		t.Fatalf("Submit: %v", sErr)
	}

	c.PollBudget(3) // Idle -> Preparing -> Sending (full send completes synchronously)
	if c.State() != Waiting {
		t.Fatalf("expected Waiting, got %v", c.State())
	}

	wantWire := []byte{0x20, 0x03, 0x00, 0x00, 0x00, 0x04}
	gotWire := ft.outbound.Bytes()
	if !bytes.Equal(gotWire[:6], wantWire) {
		t.Fatalf("wire request = % x, want % x", gotWire[:6], wantWire)
	}

	respPayload := []byte{0x08, 0x10, 0x00, 0x11, 0x00, 0x12, 0x00, 0x13, 0x00}
	respADU := rtu.ApplicationDataUnit{UnitID: 0x20, Pdu: pdu.ProtocolDataUnit{FunctionCode: pdu.FuncCodeReadHoldingRegisters, Data: respPayload}}
	respBytes, err := respADU.Encode()
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	ft.inbound = respBytes

	c.PollBudget(1)
	if c.State() != Idle {
		t.Fatalf("expected Idle after response, got %v", c.State())
	}
	if gotStatus != errs.StatusOK {
		t.Fatalf("expected StatusOK, got %v", gotStatus)
	}
	regs, err := pdu.DecodeReadResponse(pdu.FuncCodeReadHoldingRegisters, gotResp)
	if err != nil {
		t.Fatalf("DecodeReadResponse: %v", err)
	}
	if !bytes.Equal(regs, respPayload[1:]) {
		t.Fatalf("registers = % x, want % x", regs, respPayload[1:])
	}
}

func TestClientBroadcastCompletesWithoutWaiting(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{Protocol: ProtocolRTU})

	done := false
	req, _ := pdu.EncodeWriteSingleRegisterRequest(0x0010, 0x1234)
	if _, err := c.Submit(SubmitRequest{
		UnitID: 0,
		Pdu:    req,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, err error) {
			done = true
			if status != errs.StatusOK {
				t.Fatalf("expected StatusOK for broadcast, got %v", status)
			}
		},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	c.PollBudget(3)
	if c.State() != Idle {
		t.Fatalf("expected Idle after broadcast send, got %v", c.State())
	}
	if !done {
		t.Fatalf("expected broadcast callback to fire without a response")
	}
}

func TestClientCRCRetryThenSuccess(t *testing.T) {
	ft := &fakeTransport{nowMs: 1000}
	c := New(ft, Options{Protocol: ProtocolRTU, MaxRetries: 1, DefaultTimeoutMs: 100, RetryBackoffMs: 50})

	var gotStatus errs.Status
	req, _ := pdu.EncodeReadRequest(pdu.FuncCodeReadHoldingRegisters, 0, 1)
	c.Submit(SubmitRequest{
		UnitID: 0x11,
		Pdu:    req,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, err error) {
			gotStatus = status
		},
	})

	c.PollBudget(3)
	if c.State() != Waiting {
		t.Fatalf("expected Waiting, got %v", c.State())
	}
	firstSent := ft.outbound.Len()

	respADU := rtu.ApplicationDataUnit{UnitID: 0x11, Pdu: pdu.ProtocolDataUnit{FunctionCode: pdu.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0xAA, 0xBB}}}
	good, _ := respADU.Encode()
	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF // flip a CRC byte

	ft.inbound = corrupt
	c.PollBudget(1)
	if c.State() != Waiting {
		t.Fatalf("expected still Waiting after corrupt frame, got %v", c.State())
	}
	if c.Counters.CRCErrors.Load() != 1 {
		t.Fatalf("expected 1 CRC error counted, got %d", c.Counters.CRCErrors.Load())
	}

	ft.nowMs += 200 // past DefaultTimeoutMs
	c.PollBudget(1)
	if c.State() != Backoff {
		t.Fatalf("expected Backoff after per-attempt timeout, got %v", c.State())
	}
	if c.Counters.Retries.Load() != 1 {
		t.Fatalf("expected 1 retry counted, got %d", c.Counters.Retries.Load())
	}

	ft.nowMs += 100 // past retry_backoff_ms
	c.PollBudget(1)
	if c.State() != Sending {
		t.Fatalf("expected Sending after backoff elapsed, got %v", c.State())
	}
	c.PollBudget(1)
	if c.State() != Waiting {
		t.Fatalf("expected Waiting after retransmit, got %v", c.State())
	}
	if ft.outbound.Len() != firstSent*2 {
		t.Fatalf("expected retransmit to duplicate %d bytes, outbound now %d", firstSent, ft.outbound.Len())
	}

	ft.inbound = good
	c.PollBudget(1)
	if gotStatus != errs.StatusOK {
		t.Fatalf("expected eventual StatusOK, got %v", gotStatus)
	}
}

func TestClientWatchdogExpiresBeforeRetriesExhausted(t *testing.T) {
	ft := &fakeTransport{nowMs: 5000}
	c := New(ft, Options{Protocol: ProtocolRTU, MaxRetries: 5, DefaultTimeoutMs: 100000, WatchdogMs: 500})

	var gotStatus errs.Status
	req, _ := pdu.EncodeReadRequest(pdu.FuncCodeReadHoldingRegisters, 0, 1)
	c.Submit(SubmitRequest{
		UnitID: 0x05,
		Pdu:    req,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, err error) {
			gotStatus = status
		},
	})
	c.PollBudget(3)
	if c.State() != Waiting {
		t.Fatalf("expected Waiting, got %v", c.State())
	}

	ft.nowMs += 600 // past watchdog_ms, well under the per-attempt timeout
	c.PollBudget(1)
	if gotStatus != errs.StatusTransport {
		t.Fatalf("expected StatusTransport on watchdog expiry, got %v", gotStatus)
	}
	if c.State() != Idle {
		t.Fatalf("expected Idle after watchdog expiry, got %v", c.State())
	}
}

func TestClientPoolExhaustionReturnsNoResourcesForHigh(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{Protocol: ProtocolRTU, TxnPoolSize: 1, QueueHighCapacity: 4, QueueNormalCapacity: 4})

	req, _ := pdu.EncodeWriteSingleRegisterRequest(0, 1) // FC06 is High under FCBased
	if _, err := c.Submit(SubmitRequest{UnitID: 1, Pdu: req}); err != nil {
		t.Fatalf("first submit should succeed: %v", err)
	}
	_, err := c.Submit(SubmitRequest{UnitID: 1, Pdu: req})
	if err == nil || err.Status != errs.StatusNoResources {
		t.Fatalf("expected StatusNoResources, got %v", err)
	}
}

func TestClientCancelInFlight(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{Protocol: ProtocolRTU})

	var gotStatus errs.Status
	req, _ := pdu.EncodeReadRequest(pdu.FuncCodeReadHoldingRegisters, 0, 1)
	idx, _ := c.Submit(SubmitRequest{
		UnitID: 9,
		Pdu:    req,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, err error) {
			gotStatus = status
		},
	})
	c.PollBudget(3)
	if c.State() != Waiting {
		t.Fatalf("expected Waiting, got %v", c.State())
	}
	c.Cancel(idx)
	if gotStatus != errs.StatusCancelled {
		t.Fatalf("expected StatusCancelled, got %v", gotStatus)
	}
	if c.State() != Idle {
		t.Fatalf("expected Idle after cancel, got %v", c.State())
	}
}
