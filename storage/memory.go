// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

// Memory is a no-op Backend: cells live only in the Region's own
// slice and nothing survives a restart.
type Memory struct{}

// NewMemory returns a non-persistent Backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(startAddr, count uint16) ([]uint16, error) {
	return make([]uint16, count), nil
}

func (m *Memory) OnWrite(startAddr uint16, data []uint16) {}

func (m *Memory) Close() error { return nil }
