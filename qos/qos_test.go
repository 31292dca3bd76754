// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package qos

import (
	"testing"

	"github.com/ffutop/modbuscore/pdu"
)

func TestClassifyFCBased(t *testing.T) {
	if Classify(FCBased, pdu.FuncCodeWriteSingleRegister, 0, 0, 0, Normal) != High {
		t.Fatalf("FC06 should be High under FCBased")
	}
	if Classify(FCBased, pdu.FuncCodeReadHoldingRegisters, 0, 0, 0, Normal) != Normal {
		t.Fatalf("FC03 should be Normal under FCBased")
	}
}

func TestClassifyDeadlineBased(t *testing.T) {
	if Classify(DeadlineBased, pdu.FuncCodeReadHoldingRegisters, 1000, 1050, 100, Normal) != High {
		t.Fatalf("deadline within threshold should be High")
	}
	if Classify(DeadlineBased, pdu.FuncCodeReadHoldingRegisters, 1000, 5000, 100, Normal) != Normal {
		t.Fatalf("deadline beyond threshold should be Normal")
	}
}

func TestStrictPriorityPreemption(t *testing.T) {
	d := NewDispatcher(8, 8)
	for i := 0; i < 5; i++ {
		if !d.Submit(Normal, i) {
			t.Fatalf("normal submit %d should succeed", i)
		}
	}
	if !d.Submit(High, 99) {
		t.Fatalf("high submit should succeed")
	}

	v, p, ok := d.Dequeue()
	if !ok || p != High || v.(int) != 99 {
		t.Fatalf("expected High element 99 first, got %v %v", v, p)
	}
	for i := 0; i < 5; i++ {
		v, p, ok := d.Dequeue()
		if !ok || p != Normal || v.(int) != i {
			t.Fatalf("expected Normal element %d, got %v", i, v)
		}
	}
}

func TestRejectedWhenQueueFull(t *testing.T) {
	d := NewDispatcher(2, 2)
	d.Submit(High, 1)
	d.Submit(High, 2)
	if d.Submit(High, 3) {
		t.Fatalf("expected rejection on full high queue")
	}
	if d.Rejected.Load() != 1 {
		t.Fatalf("expected 1 rejection, got %d", d.Rejected.Load())
	}
}
