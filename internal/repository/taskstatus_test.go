// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Connect/GetConnection are process-wide singletons (dbConnOnce), so
// every subtest here shares one connection opened from the first
// t.TempDir() - matching how the rest of the tree only ever connects
// once per process.
func TestTaskStatusBookkeeping(t *testing.T) {
	dbfile := filepath.Join(t.TempDir(), "sentinel.db")
	MigrateDB("sqlite3", dbfile)
	Connect("sqlite3", dbfile)
	conn := GetConnection()

	t.Run("RegisterTask defaults to enabled with empty history", func(t *testing.T) {
		require.NoError(t, conn.RegisterTask("aggregator_task", "aggregator", "1-59/5 * * * *", "fold batches"))

		status, err := conn.GetTask("aggregator_task")
		require.NoError(t, err)
		assert.True(t, status.Enabled, "RegisterTask must default a new task to enabled")
		assert.Equal(t, "", status.LastRunMinuteKey)
		assert.Equal(t, int64(0), status.RunCount)
	})

	t.Run("RecordRun stamps status, cost and the minute-precision dedup key", func(t *testing.T) {
		require.NoError(t, conn.RecordRun("aggregator_task", "SUCCESS", "", "202607311005", 250*time.Millisecond))

		status, err := conn.GetTask("aggregator_task")
		require.NoError(t, err)
		assert.Equal(t, "SUCCESS", status.LastStatus)
		assert.Equal(t, "202607311005", status.LastRunMinuteKey)
		assert.Equal(t, int64(1), status.RunCount)
		assert.Equal(t, int64(250), status.LastCostMs)
	})

	t.Run("RegisterTask is idempotent and preserves run history", func(t *testing.T) {
		require.NoError(t, conn.RegisterTask("score_task", "score", "2-59/5 * * * *", "score batches"))
		require.NoError(t, conn.RecordRun("score_task", "SUCCESS", "", "202607311007", time.Second))

		// A later process restart re-registers the same task with
		// (possibly) a different description; run history/status must
		// survive untouched.
		require.NoError(t, conn.RegisterTask("score_task", "score", "2-59/5 * * * *", "score batches, reworded"))

		status, err := conn.GetTask("score_task")
		require.NoError(t, err)
		assert.Equal(t, "score batches, reworded", status.Description)
		assert.Equal(t, "202607311007", status.LastRunMinuteKey, "re-registering must not reset run bookkeeping")
		assert.Equal(t, int64(1), status.RunCount)
	})

	t.Run("GetTask surfaces sql.ErrNoRows for an unregistered task", func(t *testing.T) {
		_, err := conn.GetTask("no_such_task")
		assert.Error(t, err)
	})
}
