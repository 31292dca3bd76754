// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ascii

import (
	"testing"

	"github.com/ffutop/modbuscore/pdu"
	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	adu := ApplicationDataUnit{
		UnitID: 0x11,
		Pdu:    pdu.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x6B, 0x00, 0x03}},
	}
	raw, err := Encode(adu)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw[0] != ':' {
		t.Fatalf("expected leading colon, got %q", raw[0])
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(adu, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsMissingColon(t *testing.T) {
	if _, err := Decode([]byte("110300036B0003\r\n")); err == nil {
		t.Fatalf("expected error for missing leading colon")
	}
}

func TestDecodeRejectsBadLRC(t *testing.T) {
	adu := ApplicationDataUnit{UnitID: 0x11, Pdu: pdu.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x01}}}
	raw, _ := Encode(adu)
	// overwrite both hex digits of the LRC field (the last pair before CRLF)
	raw[len(raw)-3] = 'F'
	raw[len(raw)-4] = 'F'
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected lrc mismatch error")
	}
}

func TestAssemblerFindsFrameBoundary(t *testing.T) {
	adu := ApplicationDataUnit{UnitID: 0x11, Pdu: pdu.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x6B, 0x00, 0x03}}}
	raw, err := Encode(adu)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	noisy := append([]byte{0x00, 0xFF}, raw...)

	a := NewAssembler()
	var frame []byte
	var ready bool
	for _, b := range noisy {
		if f, ok := a.Feed(b); ok {
			frame, ready = f, ok
		}
	}
	if !ready {
		t.Fatalf("expected assembler to find frame after leading noise")
	}
	if diff := cmp.Diff(raw, frame); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
