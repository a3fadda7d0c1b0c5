// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-ops/sentinel/internal/batchregistry"
	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/sentinel-ops/sentinel/internal/repository"

	_ "github.com/mattn/go-sqlite3"
)

func logLine(remoteAddr, timeLocal string) string {
	return remoteAddr + "||-||" + timeLocal + "||GET / HTTP/1.1||200||10||-||-||-||0.01\n"
}

// newTestCollector shares one sqlite connection across the whole test
// binary (repository.Connect is a process-wide singleton), so every
// collect test works against the same offset row the way the daemon
// does - tests reset it by letting SaveOffset overwrite it.
func newTestCollector(t *testing.T, pathTemplate string) (*Collector, *docstore.Store, *repository.DBConnection) {
	t.Helper()
	s, err := docstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	dbfile := filepath.Join(os.TempDir(), "sentinel-pipeline-test.db")
	repository.MigrateDB("sqlite3", dbfile)
	repository.Connect("sqlite3", dbfile)
	db := repository.GetConnection()

	return &Collector{
		Store:        s,
		Registry:     batchregistry.New(s),
		DB:           db,
		PathTemplate: pathTemplate,
		BatchSize:    1000,
	}, s, db
}

func countRecords(t *testing.T, s *docstore.Store, dateKey string) int {
	t.Helper()
	recs, err := docstore.QueryList[model.LogRecord](s, logMetadataPrefix+dateKey)
	require.NoError(t, err)
	return len(recs)
}

func TestCollectPersistsRecordsAndCommitsOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	content := logLine("203.0.113.1", "31/Jul/2026:10:03:00 +0000") +
		logLine("203.0.113.2", "31/Jul/2026:10:04:00 +0000")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pc, store, db := newTestCollector(t, path)
	_, err := pc.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, countRecords(t, store, "2026_07_31"))

	cursor, err := db.GetOffset()
	require.NoError(t, err)
	assert.Equal(t, path, cursor.LogPath)
	assert.EqualValues(t, len(content), cursor.Offset)

	entry, err := pc.Registry.Get("2026_07_3110_00")
	require.NoError(t, err)
	assert.Equal(t, model.BatchCollecting, entry.Status)
}

func TestCollectDrainsPreviousFileOnRotation(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "access-2026-07-30.log")
	newPath := filepath.Join(dir, "access-2026-07-31.log")

	oldContent := logLine("203.0.113.1", "30/Jul/2026:23:57:00 +0000")
	require.NoError(t, os.WriteFile(oldPath, []byte(oldContent), 0o644))

	// First tick: collect the old file so the cursor points at it.
	pc, store, db := newTestCollector(t, oldPath)
	_, err := pc.Collect(context.Background())
	require.NoError(t, err)

	// Rotation: more traffic lands in the old file's tail, then nginx
	// starts the new day's file and the template resolves to it.
	tail := logLine("203.0.113.2", "30/Jul/2026:23:59:00 +0000")
	f, err := os.OpenFile(oldPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(tail)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	newContent := logLine("203.0.113.3", "31/Jul/2026:00:01:00 +0000")
	require.NoError(t, os.WriteFile(newPath, []byte(newContent), 0o644))

	pc.PathTemplate = newPath
	_, err = pc.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, countRecords(t, store, "2026_07_30"), "the rotated-away file's tail must be drained before moving on")
	assert.Equal(t, 1, countRecords(t, store, "2026_07_31"))

	cursor, err := db.GetOffset()
	require.NoError(t, err)
	assert.Equal(t, newPath, cursor.LogPath)
	assert.EqualValues(t, len(newContent), cursor.Offset)
}

func TestCollectTreatsTruncationAsRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	content := logLine("203.0.113.1", "31/Jul/2026:10:03:00 +0000") +
		logLine("203.0.113.2", "31/Jul/2026:10:04:00 +0000")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pc, store, db := newTestCollector(t, path)
	_, err := pc.Collect(context.Background())
	require.NoError(t, err)
	before := countRecords(t, store, "2026_07_31")

	// Shrink the file below the stored offset: logrotate copytruncate.
	truncated := logLine("203.0.113.9", "31/Jul/2026:10:06:00 +0000")
	require.NoError(t, os.WriteFile(path, []byte(truncated), 0o644))

	_, err = pc.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, before+1, countRecords(t, store, "2026_07_31"))

	cursor, err := db.GetOffset()
	require.NoError(t, err)
	assert.EqualValues(t, len(truncated), cursor.Offset, "offset must restart from the truncated file's content, not the stale high-water mark")
}
