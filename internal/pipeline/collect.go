// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline wires the leaf components (collector, aggregator,
// scoreengine, summarizer, punish) into the four
// COLLECT -> AGGREGATE -> SCORE -> SUMMARIZE stages the task manager
// schedules, plus the punishment decision step. Each stage's method
// here (Collect, Aggregate, Score, Summarize, Punish) is what one cron
// tick of that stage executes; the daily retention sweep lives in
// internal/maintenance.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sentinel-ops/sentinel/internal/batchregistry"
	"github.com/sentinel-ops/sentinel/internal/collector"
	"github.com/sentinel-ops/sentinel/internal/controller"
	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/sentinel-ops/sentinel/internal/nginxlog"
	"github.com/sentinel-ops/sentinel/internal/repository"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

// logMetadataPrefix names the daily raw-record index family.
const logMetadataPrefix = "log_metadata_"

// Collector bundles the collaborators the collect stage needs.
// Adaptive is optional: when set, Collect feeds the controller the
// tick's (file size, offset) observation and returns the interval
// it recommends for the task manager's next scheduling of this task.
type Collector struct {
	Store        *docstore.Store
	Registry     *batchregistry.Registry
	DB           *repository.DBConnection
	Adaptive     *controller.Controller
	PathTemplate string
	BatchSize    int
}

// Collect runs one tick: it resolves the active file path from the
// template, drains the previous day's file if rotation has happened,
// then tails the active file from the persisted offset. The offset is
// only committed once the records it covers have landed in the
// document store, so a crash between the two re-reads rather than
// skips. The returned duration is the controller's recommendation for
// the delay before the next tick; callers that don't use adaptive
// scheduling may ignore it.
func (p *Collector) Collect(ctx context.Context) (time.Duration, error) {
	now := time.Now()
	activePath := collector.ResolveLogPath(p.PathTemplate, now)

	cursor, err := p.DB.GetOffset()
	if err != nil {
		return 0, fmt.Errorf("pipeline: load offset: %w", err)
	}

	if cursor.LogPath != "" && cursor.LogPath != activePath {
		if _, statErr := os.Stat(cursor.LogPath); statErr == nil {
			if err := p.runOnce(ctx, cursor.LogPath, cursor.Offset); err != nil {
				return 0, err
			}
		}
		cursor.Offset = 0
	}

	// A shrunken file means it was truncated or replaced in place;
	// resuming from the stored offset would silently skip everything
	// written since, so restart from the top.
	if info, statErr := os.Stat(activePath); statErr == nil && info.Size() < cursor.Offset {
		log.Warnf("pipeline: %s truncated below stored offset (%d < %d), restarting from 0", activePath, info.Size(), cursor.Offset)
		cursor.Offset = 0
	}

	if err := p.runOnce(ctx, activePath, cursor.Offset); err != nil {
		return 0, err
	}

	return p.adjustInterval(now, activePath)
}

// adjustInterval feeds the controller the new file size and persisted
// offset, returning its recommended interval. With no Adaptive
// controller configured, it returns zero and the caller keeps its
// static cron.
func (p *Collector) adjustInterval(now time.Time, activePath string) (time.Duration, error) {
	if p.Adaptive == nil {
		return 0, nil
	}
	info, err := os.Stat(activePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("pipeline: stat %s: %w", activePath, err)
	}
	cursor, err := p.DB.GetOffset()
	if err != nil {
		return 0, fmt.Errorf("pipeline: reload offset: %w", err)
	}
	state, err := p.Adaptive.Adjust(now, info.Size(), cursor.Offset)
	if err != nil {
		return 0, fmt.Errorf("pipeline: adjust controller: %w", err)
	}
	metrics.CollectorLagBytes.Set(float64(info.Size() - cursor.Offset))
	metrics.ControllerRatio.Set(state.AvgRatio)
	metrics.ControllerIntervalSeconds.Set(float64(state.Interval))
	metrics.SetRegime(string(state.Regime))
	log.Debugf("pipeline: controller regime=%s interval=%ds duration=%ds", state.Regime, state.Interval, state.Duration)
	return time.Duration(state.Interval) * time.Second, nil
}

func (p *Collector) runOnce(ctx context.Context, path string, offset int64) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pipeline: stat %s: %w", path, err)
	}

	batchCounts := map[string]int{}
	lastDateKey := ""

	c := collector.New(p.BatchSize, func(ctx context.Context, batchID string, records []model.LogRecord, endOffset int64) error {
		index := logMetadataPrefix + nginxlog.DateKey(batchID)
		// Ids derive from the flush's file position, which strictly
		// increases within one file: a later tick appending to the
		// same 5-minute batch can never collide with an earlier
		// flush, and re-collecting the same bytes after a crash
		// rewrites the same ids instead of duplicating records.
		docs := make(map[string]any, len(records))
		for i, rec := range records {
			docs[fmt.Sprintf("%s/%012d_%04d", batchID, endOffset, i)] = rec
		}
		if err := p.Store.CreateIndex(index, model.LogRecord{}); err != nil {
			return fmt.Errorf("pipeline: register index %s: %w", index, err)
		}
		if err := p.Store.BatchInsert(index, docs); err != nil {
			return fmt.Errorf("pipeline: persist batch %s: %w", batchID, err)
		}
		if err := p.Registry.Create(batchID); err != nil {
			return fmt.Errorf("pipeline: register batch %s: %w", batchID, err)
		}
		batchCounts[batchID] += len(records)
		lastDateKey = nginxlog.DateKey(batchID)
		return nil
	}, func(e model.CollectEvent) {
		switch e.Type {
		case model.EventBatchChanged:
			if e.PreviousID == "" {
				return
			}
			count := batchCounts[e.PreviousID]
			e.RecordCount = count
			if err := p.Registry.Advance(ctx, e.PreviousID, model.BatchCollected, count, ""); err != nil {
				log.Warnf("pipeline: advance batch %s to COLLECTED: %v", e.PreviousID, err)
			} else {
				metrics.BatchesProcessed.WithLabelValues("collect").Inc()
			}
			publishEvent(subjectCollectEvents, e)
		case model.EventDateChanged:
			log.Infof("pipeline: collector crossed into date %s", e.DateKey)
			publishEvent(subjectCollectEvents, e)
		}
	})

	result, err := c.Run(ctx, path, offset)
	if err != nil {
		return fmt.Errorf("pipeline: collect %s: %w", path, err)
	}
	metrics.RecordsCollected.Add(float64(result.RecordsRead))
	if result.ParseErrors > 0 {
		metrics.ParseErrors.Add(float64(result.ParseErrors))
		log.Warnf("pipeline: skipped %d malformed lines in %s", result.ParseErrors, path)
	}
	if lastDateKey == "" {
		lastDateKey = clockNow().Format("2006_01_02")
	}
	return p.DB.SaveOffset(path, lastDateKey, result.NewOffset)
}

// clockNow is an indirection point so tests could stub wall-clock
// access if ever needed; production code always calls time.Now.
var clockNow = time.Now
