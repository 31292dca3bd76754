// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package pool

import "testing"

type txn struct {
	id int
}

func TestAcquireReleaseConservation(t *testing.T) {
	p := New[txn](4)
	var idxs []int
	for i := 0; i < 4; i++ {
		idx, val, ok := p.Acquire()
		if !ok {
			t.Fatalf("acquire %d should succeed", i)
		}
		val.id = i
		idxs = append(idxs, idx)
	}
	if _, _, ok := p.Acquire(); ok {
		t.Fatalf("acquire on exhausted pool should fail")
	}
	if p.FailedAcquires() != 1 {
		t.Fatalf("expected 1 failed acquire, got %d", p.FailedAcquires())
	}
	if p.InUse() != 4 {
		t.Fatalf("expected 4 in use, got %d", p.InUse())
	}
	if got, want := p.TotalAcquired()-p.TotalReleased(), uint64(p.InUse()); got != want {
		t.Fatalf("conservation violated: acquired-released=%d inUse=%d", got, want)
	}

	for _, idx := range idxs {
		p.Release(idx)
	}
	if p.InUse() != 0 {
		t.Fatalf("expected 0 in use after release, got %d", p.InUse())
	}
	if p.HighWater() != 4 {
		t.Fatalf("expected high water 4, got %d", p.HighWater())
	}

	idx, _, ok := p.Acquire()
	if !ok {
		t.Fatalf("acquire after full release should succeed")
	}
	if p.HighWater() != 4 {
		t.Fatalf("high water should not regress below prior peak, got %d", p.HighWater())
	}
	p.Release(idx)
}

func TestReleaseUnacquiredIsNoOp(t *testing.T) {
	p := New[txn](2)
	p.Release(0) // never acquired
	if p.TotalReleased() != 0 {
		t.Fatalf("releasing a free slot should not count as a release")
	}
}
