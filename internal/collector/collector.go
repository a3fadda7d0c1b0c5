// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package collector tails the nginx access log from a byte offset,
// batches parsed records by their 5-minute batch id, and hands
// completed batches to a callback. One invocation processes whatever
// is currently on disk and returns, rather than following the file
// forever, since the scheduler is what decides how often to re-invoke
// it.
package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/sentinel-ops/sentinel/internal/nginxlog"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

// BatchCallback receives one completed batch's records together with
// the file position just past the last line they came from. The
// callback is the durability boundary: once it returns nil, the caller
// may persist endOffset as the resume point for the next Run.
type BatchCallback func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error

// EventCallback is notified whenever collection crosses a batch or
// calendar-day boundary.
type EventCallback func(event model.CollectEvent)

// Collector reads a single access log file starting at a byte offset.
type Collector struct {
	BatchSize int
	OnBatch   BatchCallback
	OnEvent   EventCallback
}

// New returns a Collector with the given batch size (number of
// records buffered before OnBatch fires mid-file).
func New(batchSize int, onBatch BatchCallback, onEvent EventCallback) *Collector {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Collector{BatchSize: batchSize, OnBatch: onBatch, OnEvent: onEvent}
}

// Result reports what one Run call accomplished, so the caller can
// persist the new offset and decide whether to keep going.
type Result struct {
	NewOffset    int64
	LinesRead    int
	RecordsRead  int
	ParseErrors  int
}

// Run reads path from offset to EOF, parsing and batching lines. It
// returns the offset the caller should persist for the next Run, even
// if ctx is cancelled partway through - all progress made before
// cancellation is flushed through OnBatch first.
func (c *Collector) Run(ctx context.Context, path string, offset int64) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("collector: open %s: %w", path, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return Result{}, fmt.Errorf("collector: seek %s to %d: %w", path, offset, err)
		}
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	result := Result{NewOffset: offset}

	// offsetAfterLastFullLine is the only offset ever persisted. It
	// advances exclusively when ReadString returns a line terminated by
	// '\n' - never for the trailing bytes bufio hands back alongside
	// io.EOF, since those belong to a line nginx may still be mid-write
	// on. Keeping it as its own variable (instead of folding updates
	// into result.NewOffset inline) makes that invariant checkable in
	// one place rather than depending on which branch of the loop ran.
	offsetAfterLastFullLine := offset

	var batch []model.LogRecord
	var currentBatchID string
	var currentDateKey string

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if c.OnBatch != nil {
			if err := c.OnBatch(ctx, currentBatchID, batch, offsetAfterLastFullLine); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			result.NewOffset = offsetAfterLastFullLine
			return result, ctx.Err()
		default:
		}

		line, readErr := reader.ReadString('\n')

		if readErr != nil {
			if readErr == io.EOF {
				// A non-empty line here has no trailing '\n': nginx may
				// still be mid-write on it. It must never be parsed and
				// its bytes must never advance offsetAfterLastFullLine,
				// or a restart would reopen the file mid-line and parse
				// the tail of an already-seen record as a new one. Leave
				// it unread for the next Run to pick up whole.
				if err := flush(); err != nil {
					result.NewOffset = offsetAfterLastFullLine
					return result, err
				}
				break
			}
			result.NewOffset = offsetAfterLastFullLine
			return result, fmt.Errorf("collector: read %s: %w", path, readErr)
		}

		consumed := int64(len(line))
		trimmed := trimNewline(line)
		result.LinesRead++
		rec, perr := nginxlog.Parse(trimmed)
		if perr != nil {
			log.Warnf("collector: skipping line: %v", perr)
			result.ParseErrors++
			offsetAfterLastFullLine += consumed
			continue
		}

		if currentBatchID != "" && rec.BatchID != currentBatchID {
			// Flush before emitting either event, with the post-line
			// position of the previous record, so a date or batch
			// boundary never straddles a data callback. Capture the
			// completed batch's size before flush resets the buffer.
			completedCount := len(batch)
			if err := flush(); err != nil {
				result.NewOffset = offsetAfterLastFullLine
				return result, err
			}
			dateKey := nginxlog.DateKey(rec.BatchID)
			if currentDateKey != "" && dateKey != currentDateKey {
				c.emitDateChanged(currentDateKey, dateKey)
			}
			c.emitBatchChanged(currentBatchID, rec.BatchID, completedCount)
			currentDateKey = dateKey
		}
		if currentDateKey == "" {
			currentDateKey = nginxlog.DateKey(rec.BatchID)
		}
		currentBatchID = rec.BatchID
		batch = append(batch, rec)
		result.RecordsRead++
		offsetAfterLastFullLine += consumed
		if len(batch) >= c.BatchSize {
			if err := flush(); err != nil {
				result.NewOffset = offsetAfterLastFullLine
				return result, err
			}
		}
	}

	result.NewOffset = offsetAfterLastFullLine
	return result, nil
}

func (c *Collector) emitDateChanged(previous, next string) {
	if c.OnEvent == nil {
		return
	}
	c.OnEvent(model.CollectEvent{
		Type:       model.EventDateChanged,
		PreviousID: previous,
		DateKey:    next,
	})
}

func (c *Collector) emitBatchChanged(previous, next string, count int) {
	if c.OnEvent == nil {
		return
	}
	c.OnEvent(model.CollectEvent{
		Type:        model.EventBatchChanged,
		BatchID:     next,
		PreviousID:  previous,
		RecordCount: count,
	})
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		n--
	}
	if n > 0 && s[n-1] == '\r' {
		n--
	}
	return s[:n]
}
