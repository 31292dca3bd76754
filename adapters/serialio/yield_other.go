// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build !unix

package serialio

import "runtime"

// yield falls back to runtime.Gosched on non-Unix targets, where
// unix.Sched_yield is unavailable.
func yield() {
	runtime.Gosched()
}
