// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"testing"

	"github.com/ffutop/modbuscore/pdu"
	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	adu := ApplicationDataUnit{
		TransactionID: 7,
		UnitID:        1,
		Pdu:           pdu.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x04}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(adu, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsNonZeroProtocolID(t *testing.T) {
	raw := []byte{0, 1, 0, 1, 0, 2, 1, 0x03}
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected error for non-zero protocol id")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	raw := []byte{0, 1, 0, 0, 0, 5, 1, 0x03}
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected error for length mismatch")
	}
}

func TestTIDAllocatorUniqueness(t *testing.T) {
	a := NewTIDAllocator()
	first, ok := a.Acquire()
	if !ok {
		t.Fatalf("expected successful acquire")
	}
	second, ok := a.Acquire()
	if !ok {
		t.Fatalf("expected successful acquire")
	}
	if first == second {
		t.Fatalf("expected distinct TIDs, got %d twice", first)
	}
	a.Release(first)
	if a.InUse(first) {
		t.Fatalf("expected tid %d to be released", first)
	}
}

func TestAssemblerFeed(t *testing.T) {
	adu := ApplicationDataUnit{TransactionID: 2, UnitID: 1, Pdu: pdu.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0, 0, 0, 4}}}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	a := NewAssembler()
	var frame []byte
	var ready bool
	for _, b := range raw {
		frame, ready = a.Feed(b)
	}
	if !ready {
		t.Fatalf("expected ready after full frame")
	}
	if diff := cmp.Diff(raw, frame); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
