// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build unix

package serialio

import "golang.org/x/sys/unix"

// yield gives the cooperative scheduler a real yield primitive instead
// of a no-op: sched_yield(2) asks the OS scheduler to run another
// ready goroutine's underlying thread immediately.
func yield() {
	_ = unix.Sched_yield()
}
