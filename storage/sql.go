// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// SQL persists a Region's cells in a `modbus_registers` table, upserting
// on every OnWrite. The driver (e.g. sqlite3, mysql) is never imported
// by this package — the caller registers it via database/sql and passes
// the open handle, matching the teacher's own "driver must be imported
// by main" convention.
type SQL struct {
	db        *sql.DB
	class     DataClass
	startAddr uint16
}

// NewSQL returns a Backend persisting class's cells into db's
// modbus_registers table, creating it if absent.
func NewSQL(db *sql.DB, class DataClass) *SQL {
	return &SQL{db: db, class: class}
}

func (s *SQL) Load(startAddr, count uint16) ([]uint16, error) {
	s.startAddr = startAddr
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("storage: sql backend schema: %w", err)
	}

	cells := make([]uint16, count)
	rows, err := s.db.Query(
		"SELECT address, value FROM modbus_registers WHERE table_type = ? AND address >= ? AND address < ?",
		int(s.class), int(startAddr), int(startAddr)+int(count),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: sql backend query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr, val int
		if err := rows.Scan(&addr, &val); err != nil {
			continue
		}
		cells[addr-int(startAddr)] = uint16(val)
	}
	return cells, rows.Err()
}

func (s *SQL) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS modbus_registers (
			table_type INTEGER,
			address INTEGER,
			value INTEGER,
			PRIMARY KEY (table_type, address)
		)
	`)
	return err
}

func (s *SQL) OnWrite(startAddr uint16, data []uint16) {
	for i, v := range data {
		addr := int(startAddr) + i
		_, err := s.db.Exec(
			"INSERT INTO modbus_registers (table_type, address, value) VALUES (?, ?, ?) "+
				"ON CONFLICT(table_type, address) DO UPDATE SET value = excluded.value",
			int(s.class), addr, int64(v),
		)
		if err != nil {
			slog.Error("storage: sql backend upsert failed", "class", s.class, "addr", addr, "err", err)
		}
	}
}

func (s *SQL) Close() error { return nil }
