// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import "time"

// TaskStatus is one row of the task_scheduler bookkeeping table,
// updated by the task manager after every run of a registered task.
type TaskStatus struct {
	TaskID           string     `db:"task_id"`
	TaskName         string     `db:"task_name"`
	Enabled          bool       `db:"enabled"`
	Cron             string     `db:"cron"`
	Description      string     `db:"description"`
	LastRunAt        *time.Time `db:"last_run_at"`
	LastStatus       string     `db:"last_status"`
	LastMessage      string     `db:"last_message"`
	LastCostMs       int64      `db:"last_cost_ms"`
	RunCount         int64      `db:"run_count"`
	LastRunMinuteKey string     `db:"last_run_minute_key"`
}

// RegisterTask ensures a row exists for taskID, leaving run history
// untouched if it is already registered from a previous process start.
func (c *DBConnection) RegisterTask(taskID, taskName, cron, description string) error {
	_, err := c.DB.Exec(`
		INSERT INTO task_scheduler (task_id, task_name, enabled, cron, description)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			task_name = excluded.task_name,
			cron = excluded.cron,
			description = excluded.description
	`, taskID, taskName, cron, description)
	return err
}

// GetTask returns the bookkeeping row for taskID, or
// sql.ErrNoRows if the task has never been registered.
func (c *DBConnection) GetTask(taskID string) (*TaskStatus, error) {
	var t TaskStatus
	err := c.DB.Get(&t, "SELECT task_id, task_name, enabled, cron, description, last_run_at, last_status, last_message, last_cost_ms, run_count, last_run_minute_key FROM task_scheduler WHERE task_id = ?", taskID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecordRun updates a task's bookkeeping after one execution. minuteKey
// is the minute-precision key the caller used as its same-minute dedup
// guard for this run.
func (c *DBConnection) RecordRun(taskID, status, message, minuteKey string, cost time.Duration) error {
	now := time.Now()
	_, err := c.DB.Exec(`
		UPDATE task_scheduler SET
			last_run_at = ?,
			last_status = ?,
			last_message = ?,
			last_cost_ms = ?,
			run_count = run_count + 1,
			last_run_minute_key = ?
		WHERE task_id = ?
	`, now, status, message, cost.Milliseconds(), minuteKey, taskID)
	return err
}

// ListTasks returns the bookkeeping rows for every registered task.
func (c *DBConnection) ListTasks() ([]TaskStatus, error) {
	var tasks []TaskStatus
	err := c.DB.Select(&tasks, "SELECT task_id, task_name, enabled, cron, description, last_run_at, last_status, last_message, last_cost_ms, run_count FROM task_scheduler ORDER BY task_id")
	return tasks, err
}
