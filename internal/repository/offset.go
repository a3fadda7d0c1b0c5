// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"time"
)

// OffsetID is the fixed row id the collector's offset bookkeeping
// uses; there is exactly one log file being tailed at a time.
const OffsetID = "log_collect"

// OffsetConfig is the collector's persisted read cursor.
type OffsetConfig struct {
	ID          string    `db:"id"`
	LogPath     string    `db:"log_path"`
	CollectDate string    `db:"collect_date"`
	Offset      int64     `db:"offset"`
	UpdateTime  time.Time `db:"update_time"`
}

// GetOffset loads the current cursor, returning the zero value with
// no error if none has been recorded yet.
func (c *DBConnection) GetOffset() (OffsetConfig, error) {
	var cfg OffsetConfig
	err := c.DB.Get(&cfg, `SELECT id, log_path, collect_date, "offset", update_time FROM offset_config WHERE id = ?`, OffsetID)
	if err == sql.ErrNoRows {
		return OffsetConfig{ID: OffsetID}, nil
	}
	return cfg, err
}

// SaveOffset upserts the cursor for the current log file.
func (c *DBConnection) SaveOffset(logPath, collectDate string, offset int64) error {
	_, err := c.DB.Exec(`
		INSERT INTO offset_config (id, log_path, collect_date, "offset", update_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			log_path = excluded.log_path,
			collect_date = excluded.collect_date,
			"offset" = excluded."offset",
			update_time = excluded.update_time
	`, OffsetID, logPath, collectDate, offset, time.Now())
	return err
}
