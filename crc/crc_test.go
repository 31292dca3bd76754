// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import "testing"

func TestCRC(t *testing.T) {
	var crc CRC
	crc.Reset()
	crc.PushBytes([]byte{0x02, 0x07})

	if crc.Value() != 0x1241 {
		t.Fatalf("crc expected %v, actual %v", 0x1241, crc.Value())
	}
}

func TestCRCChaining(t *testing.T) {
	var crc CRC
	got := crc.Reset().PushBytes([]byte{0x02}).PushBytes([]byte{0x07}).Value()
	if got != 0x1241 {
		t.Fatalf("chained crc expected %v, actual %v", 0x1241, got)
	}
}

func TestTableChecksumAgreesWithBitwise(t *testing.T) {
	cases := [][]byte{
		{0x02, 0x07},
		{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03},
		{},
		{0xFF},
	}
	for _, data := range cases {
		want := Checksum(data)
		got := TableChecksum(data)
		if got != want {
			t.Fatalf("TableChecksum(%v) = %#04x, want %#04x", data, got, want)
		}
	}
}

func TestChecksumBytesOrder(t *testing.T) {
	var crc CRC
	crc.Reset().PushBytes([]byte{0x02, 0x07})
	b := crc.Bytes()
	if uint16(b[0])|uint16(b[1])<<8 != crc.Value() {
		t.Fatalf("Bytes() not little-endian of Value()")
	}
}
