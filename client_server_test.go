// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"sync"
	"testing"

	"github.com/ffutop/modbuscore/adapters/pipeio"
	"github.com/ffutop/modbuscore/client"
	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/pdu"
	"github.com/ffutop/modbuscore/qos"
	"github.com/ffutop/modbuscore/server"
	"github.com/ffutop/modbuscore/storage"
)

// drivePair runs cli.PollBudget and srv.PollBudget alternately until
// done returns true or the step budget is exhausted, emulating two
// cooperatively-scheduled peers sharing an in-process pipe.
func drivePair(cli *client.Client, srv *server.Server, done func() bool) bool {
	for i := 0; i < 10000; i++ {
		cli.PollBudget(4)
		srv.PollBudget(4)
		if done() {
			return true
		}
	}
	return false
}

func newLoopback(t *testing.T) (*client.Client, *server.Server, *storage.Table) {
	t.Helper()
	a, b := pipeio.NewPair()

	table := storage.NewTable()
	region, err := storage.NewRegion(storage.HoldingRegisters, 0, 100, false, storage.NewMemory())
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	if err := table.AddRegion(region); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	roRegion, err := storage.NewRegion(storage.InputRegisters, 0, 10, true, storage.NewMemory())
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	if err := table.AddRegion(roRegion); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	srv := server.New(b, table, server.Options{Protocol: server.ProtocolTCP, ConfiguredUnit: 0x11})
	cli := client.New(a, client.Options{Protocol: client.ProtocolTCP, DefaultTimeoutMs: 2000, WatchdogMs: 5000})
	return cli, srv, table
}

func TestIntegrationTCPReadWriteRoundTrip(t *testing.T) {
	cli, srv, table := newLoopback(t)
	if err := table.WriteWords(storage.HoldingRegisters, 10, 1, []byte{0, 55}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var mu sync.Mutex
	var gotStatus errs.Status
	var gotResp pdu.ProtocolDataUnit
	done := false

	reqPdu, err := pdu.EncodeReadRequest(pdu.FuncCodeReadHoldingRegisters, 10, 1)
	if err != nil {
		t.Fatalf("EncodeReadRequest: %v", err)
	}
	_, subErr := cli.Submit(client.SubmitRequest{
		UnitID: 0x11,
		Pdu:    reqPdu,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, _ error) {
			mu.Lock()
			defer mu.Unlock()
			gotStatus, gotResp, done = status, resp, true
		},
	})
	if subErr != nil {
		t.Fatalf("Submit: %v", subErr)
	}

	if !drivePair(cli, srv, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}) {
		t.Fatal("transaction never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotStatus != errs.StatusOK {
		t.Fatalf("status = %v, want OK", gotStatus)
	}
	payload, err := pdu.DecodeReadResponse(pdu.FuncCodeReadHoldingRegisters, gotResp)
	if err != nil {
		t.Fatalf("DecodeReadResponse: %v", err)
	}
	if len(payload) != 2 || payload[0] != 0 || payload[1] != 55 {
		t.Fatalf("payload = % x, want [00 37]", payload)
	}
}

func TestIntegrationWriteRejectedOnReadOnlyRegion(t *testing.T) {
	cli, srv, table := newLoopback(t)
	// FC06 always targets HoldingRegisters, so register a read-only
	// holding bank at 0x100..0x103 beside the writable one at 0..99.
	roHolding, err := storage.NewRegion(storage.HoldingRegisters, 0x100, 4, true, storage.NewMemory())
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	if err := table.AddRegion(roHolding); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	var mu sync.Mutex
	var gotStatus errs.Status
	var gotResp pdu.ProtocolDataUnit
	done := false

	reqPdu, err := pdu.EncodeWriteSingleRegisterRequest(0x100, 0xFFFF)
	if err != nil {
		t.Fatalf("EncodeWriteSingleRegisterRequest: %v", err)
	}
	_, subErr := cli.Submit(client.SubmitRequest{
		UnitID: 0x11,
		Pdu:    reqPdu,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, _ error) {
			mu.Lock()
			defer mu.Unlock()
			gotStatus, gotResp, done = status, resp, true
		},
	})
	if subErr != nil {
		t.Fatalf("Submit: %v", subErr)
	}

	if !drivePair(cli, srv, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}) {
		t.Fatal("transaction never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotStatus != errs.StatusException {
		t.Fatalf("status = %v, want Exception", gotStatus)
	}
	code, ok := gotResp.IsException()
	if !ok || gotResp.FunctionCode != 0x86 || code != errs.ExcIllegalDataAddress {
		t.Fatalf("response = %v, want exception 0x86 with IllegalDataAddress", gotResp)
	}
}

func TestIntegrationDeadlineBasedQoSLateRequestCompletes(t *testing.T) {
	a, b := pipeio.NewPair()
	table := storage.NewTable()
	region, _ := storage.NewRegion(storage.HoldingRegisters, 0, 10, false, storage.NewMemory())
	_ = table.AddRegion(region)

	srv := server.New(b, table, server.Options{Protocol: server.ProtocolTCP, ConfiguredUnit: 0x01})
	cli := client.New(a, client.Options{
		Protocol:            client.ProtocolTCP,
		QoSPolicy:           qos.DeadlineBased,
		DeadlineThresholdMs: 100,
		DefaultTimeoutMs:    2000,
	})

	reqPdu, _ := pdu.EncodeReadRequest(pdu.FuncCodeReadHoldingRegisters, 0, 1)

	var mu sync.Mutex
	done := false
	_, err := cli.Submit(client.SubmitRequest{
		UnitID:     0x01,
		Pdu:        reqPdu,
		DeadlineMs: 1, // already past-due under any later now: promotes to High
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, _ error) {
			mu.Lock()
			defer mu.Unlock()
			done = true
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !drivePair(cli, srv, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}) {
		t.Fatal("transaction never completed")
	}
}

func TestIntegrationReadWriteMultipleRegisters(t *testing.T) {
	cli, srv, table := newLoopback(t)
	if err := table.WriteWords(storage.HoldingRegisters, 5, 1, []byte{0x00, 0x99}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var mu sync.Mutex
	var gotStatus errs.Status
	var gotResp pdu.ProtocolDataUnit
	done := false

	reqPdu, err := pdu.EncodeReadWriteMultipleRegistersRequest(pdu.ReadWriteMultipleRegistersRequest{
		ReadAddr:    5,
		ReadQty:     1,
		WriteAddr:   10,
		WriteQty:    1,
		WriteValues: []byte{0x00, 0x2A},
	})
	if err != nil {
		t.Fatalf("EncodeReadWriteMultipleRegistersRequest: %v", err)
	}
	_, subErr := cli.Submit(client.SubmitRequest{
		UnitID: 0x11,
		Pdu:    reqPdu,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, _ error) {
			mu.Lock()
			defer mu.Unlock()
			gotStatus, gotResp, done = status, resp, true
		},
	})
	if subErr != nil {
		t.Fatalf("Submit: %v", subErr)
	}

	if !drivePair(cli, srv, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}) {
		t.Fatal("transaction never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotStatus != errs.StatusOK {
		t.Fatalf("status = %v, want OK", gotStatus)
	}
	payload, err := pdu.DecodeReadResponse(pdu.FuncCodeReadWriteMultipleRegisters, gotResp)
	if err != nil {
		t.Fatalf("DecodeReadResponse: %v", err)
	}
	if len(payload) != 2 || payload[0] != 0x00 || payload[1] != 0x99 {
		t.Fatalf("read payload = % x, want [00 99] (pre-write value at addr 5)", payload)
	}

	written, ex := table.ReadWords(storage.HoldingRegisters, 10, 1)
	if ex != nil {
		t.Fatalf("ReadWords: %v", ex)
	}
	if written[0] != 0x00 || written[1] != 0x2A {
		t.Fatalf("write side effect = % x, want [00 2a]", written)
	}
}

func TestIntegrationCancelReportsCancelled(t *testing.T) {
	cli, srv, _ := newLoopback(t)

	reqPdu, _ := pdu.EncodeReadRequest(pdu.FuncCodeReadHoldingRegisters, 0, 1)
	calls := 0
	var gotStatus errs.Status
	idx, err := cli.Submit(client.SubmitRequest{
		UnitID: 0x11,
		Pdu:    reqPdu,
		Callback: func(status errs.Status, resp pdu.ProtocolDataUnit, _ error) {
			calls++
			gotStatus = status
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cli.Cancel(idx)

	// Drive a fixed number of steps; the cancelled transaction is never
	// sent and its callback fires exactly once, with StatusCancelled.
	for i := 0; i < 50; i++ {
		cli.PollBudget(1)
		srv.PollBudget(1)
	}
	if calls != 1 || gotStatus != errs.StatusCancelled {
		t.Fatalf("callback calls = %d, status = %v; want 1 call with Cancelled", calls, gotStatus)
	}
	if cli.State() != client.Idle {
		t.Fatalf("client did not settle back to Idle, got %v", cli.State())
	}
}
