// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "time"

// SilenceTimings returns T1.5 (maximum intra-frame silence) and T3.5
// (minimum inter-frame silence) for the given baud rate, per the
// Modbus specification: above 19200 baud these are fixed at 750us and
// 1.75ms; below that they scale with character time (11 bits/char).
func SilenceTimings(baudRate int) (t1_5, t3_5 time.Duration) {
	if baudRate <= 0 {
		baudRate = 19200
	}
	if baudRate > 19200 {
		return 750 * time.Microsecond, 1750 * time.Microsecond
	}
	// One character is 11 bit-times (start + 8 data + parity/stop);
	// T1.5 = 1.5 * 11 / baud seconds, T3.5 = 3.5 * 11 / baud seconds.
	t1_5 = time.Duration(16_500_000_000/int64(baudRate)) * time.Nanosecond
	t3_5 = time.Duration(38_500_000_000/int64(baudRate)) * time.Nanosecond
	return t1_5, t3_5
}
