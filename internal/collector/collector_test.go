// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
	return path
}

func line(remoteAddr, timeLocal string) string {
	return remoteAddr + "||-||" + timeLocal + "||GET / HTTP/1.1||200||10||-||-||-||0.01"
}

func TestRunBatchesByBatchIDAndReturnsEOFOffset(t *testing.T) {
	path := writeLines(t, []string{
		line("203.0.113.1", "31/Jul/2026:10:03:00 +0000"),
		line("203.0.113.2", "31/Jul/2026:10:04:00 +0000"),
		line("203.0.113.3", "31/Jul/2026:10:06:00 +0000"),
	})

	var batches [][]model.LogRecord
	var events []model.CollectEvent
	c := New(1000, func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error {
		batches = append(batches, records)
		return nil
	}, func(e model.CollectEvent) {
		events = append(events, e)
	})

	result, err := c.Run(context.Background(), path, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RecordsRead)
	assert.Len(t, batches, 2, "the two 10:03/10:04 records share a batch, 10:06 starts a new one")
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	assert.Len(t, events, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, info.Size(), result.NewOffset)
}

func TestRunResumesFromOffset(t *testing.T) {
	path := writeLines(t, []string{
		line("203.0.113.1", "31/Jul/2026:10:03:00 +0000"),
		line("203.0.113.2", "31/Jul/2026:10:04:00 +0000"),
	})

	var first Result
	c := New(1000, func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error {
		return nil
	}, nil)
	first, err := c.Run(context.Background(), path, 0)
	require.NoError(t, err)

	var seen []model.LogRecord
	c2 := New(1000, func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error {
		seen = append(seen, records...)
		return nil
	}, nil)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line("203.0.113.3", "31/Jul/2026:10:05:00 +0000") + "\n")
	require.NoError(t, err)
	f.Close()

	_, err = c2.Run(context.Background(), path, first.NewOffset)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "203.0.113.3", seen[0].RemoteAddr)
}

func TestRunCountsParseErrorsWithoutAborting(t *testing.T) {
	path := writeLines(t, []string{
		"not-a-valid-line",
		line("203.0.113.1", "31/Jul/2026:10:03:00 +0000"),
	})

	var seen int
	c := New(1000, func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error {
		seen += len(records)
		return nil
	}, nil)

	result, err := c.Run(context.Background(), path, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ParseErrors)
	assert.Equal(t, 1, seen)
}

func TestRunLeavesUnterminatedTrailingLineUnconsumed(t *testing.T) {
	path := writeLines(t, []string{
		line("203.0.113.1", "31/Jul/2026:10:03:00 +0000"),
	})

	partial := line("203.0.113.2", "31/Jul/2026:10:04:00 +0000")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(partial) // no trailing newline: nginx mid-write
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var seen []model.LogRecord
	c := New(1000, func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error {
		seen = append(seen, records...)
		return nil
	}, nil)

	result, err := c.Run(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, seen, 1, "the unterminated line must not be parsed yet")
	assert.Equal(t, "203.0.113.1", seen[0].RemoteAddr)

	completeLineLen := int64(len(line("203.0.113.1", "31/Jul/2026:10:03:00 +0000")) + 1)
	assert.Equal(t, completeLineLen, result.NewOffset,
		"offset must stop before the unterminated partial line, not include its bytes")

	// Once nginx finishes the write, a second Run from the same offset
	// must see the whole, now-complete line rather than re-parsing a tail.
	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var seen2 []model.LogRecord
	c2 := New(1000, func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error {
		seen2 = append(seen2, records...)
		return nil
	}, nil)
	result2, err := c2.Run(context.Background(), path, result.NewOffset)
	require.NoError(t, err)
	require.Len(t, seen2, 1)
	assert.Equal(t, "203.0.113.2", seen2[0].RemoteAddr)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, info.Size(), result2.NewOffset)
}

func TestResolveLogPathExpandsDateTemplate(t *testing.T) {
	at := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	got := ResolveLogPath("/var/log/nginx/access-${2006-01-02}.log", at)
	assert.Equal(t, "/var/log/nginx/access-2026-07-31.log", got)
}
