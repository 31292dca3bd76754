// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package lrc

import "testing"

func TestLRC(t *testing.T) {
	var l LRC
	l.Reset()
	l.PushByte(0x11).PushByte(0x03).PushBytes([]byte{0x00, 0x6B, 0x00, 0x03})

	want := Checksum([]byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03})
	if l.Value() != want {
		t.Fatalf("lrc mismatch: chained=%#02x one-shot=%#02x", l.Value(), want)
	}
}

func TestLRCKnownValue(t *testing.T) {
	// Sum of 0x02,0x07 is 0x09; two's complement is 0xF7.
	if got := Checksum([]byte{0x02, 0x07}); got != 0xF7 {
		t.Fatalf("Checksum([0x02,0x07]) = %#02x, want 0xF7", got)
	}
}

func TestLRCEmpty(t *testing.T) {
	if got := Checksum(nil); got != 0 {
		t.Fatalf("Checksum(nil) = %#02x, want 0", got)
	}
}
