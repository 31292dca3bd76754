// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "github.com/ffutop/modbuscore/crc"

// DefaultResyncBufferSize is the default capacity of a Scanner's ring
// buffer.
const DefaultResyncBufferSize = 256

// Scanner recovers frame boundaries from a noisy RTU byte stream after
// the primary decoder has rejected a frame. It accumulates bytes in a
// ring buffer and advances one byte at a time, looking for a plausible
// slave address followed by a CRC that checks out over the expected
// frame length. A candidate is sized both as a request and as a
// response, so either kind of frame can be recovered.
type Scanner struct {
	buf  []byte
	size int

	ResyncAttempts  uint64
	BytesDiscarded  uint64
	FramesRecovered uint64
}

// NewScanner creates a Scanner with the given ring-buffer capacity (0
// selects DefaultResyncBufferSize).
func NewScanner(capacity int) *Scanner {
	if capacity <= 0 {
		capacity = DefaultResyncBufferSize
	}
	return &Scanner{buf: make([]byte, 0, capacity), size: capacity}
}

// Feed appends a byte observed on the wire. When the accumulated bytes
// contain a recoverable frame it is returned and consumed bytes are
// dropped from the front of the buffer; otherwise ok is false and the
// byte has been retained for the next call (unless the buffer's
// capacity forces the oldest byte to be discarded first).
func (s *Scanner) Feed(b byte) (frame []byte, ok bool) {
	if len(s.buf) >= s.size {
		s.BytesDiscarded++
		s.buf = s.buf[1:]
	}
	s.buf = append(s.buf, b)

	for len(s.buf) >= MinSize {
		s.ResyncAttempts++
		unit := s.buf[0]
		if unit > 247 {
			s.BytesDiscarded++
			s.buf = s.buf[1:]
			continue
		}
		pending := false
		for _, lengthOf := range []func([]byte) (int, error){RequestLength, ResponseLength} {
			length, err := lengthOf(s.buf)
			if err != nil {
				continue
			}
			if length == 0 || len(s.buf) < length {
				pending = true
				continue
			}
			candidate := s.buf[:length]
			want := crc.TableChecksum(candidate[:length-2])
			got := uint16(candidate[length-2]) | uint16(candidate[length-1])<<8
			if want == got {
				s.FramesRecovered++
				s.buf = s.buf[length:]
				return candidate, true
			}
		}
		if pending {
			return nil, false
		}
		s.BytesDiscarded++
		s.buf = s.buf[1:]
	}
	return nil, false
}

// Reset discards all buffered bytes without affecting the counters.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}
