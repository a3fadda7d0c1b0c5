// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package batchregistry tracks every batch_id's position in the
// COLLECT -> AGGREGATE -> SCORE -> SUMMARIZE conveyor.
package batchregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/model"
)

const indexName = "log_metadata_batch"

// Registry is the single source of truth for batch lifecycle state.
type Registry struct {
	store *docstore.Store
}

func New(store *docstore.Store) *Registry {
	return &Registry{store: store}
}

// Create registers a new batch in COLLECTING state if it does not
// already exist. On an existing batch still in COLLECTING it only
// refreshes UpdatedAt, so the stuck-batch reaper measures time since
// the last flush rather than since the batch first appeared; any
// further-progressed entry is left untouched.
func (r *Registry) Create(batchID string) error {
	existing, err := docstore.GetTyped[model.BatchEntry](r.store, indexName, batchID)
	if err == nil {
		if existing.Status != model.BatchCollecting {
			return nil
		}
		existing.UpdatedAt = time.Now()
		return r.store.Put(indexName, batchID, existing)
	}
	now := time.Now()
	entry := model.BatchEntry{
		BatchID:   batchID,
		DateKey:   dateKey(batchID),
		Status:    model.BatchCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.store.Put(indexName, batchID, entry)
}

func dateKey(batchID string) string {
	if len(batchID) < 10 {
		return batchID
	}
	return batchID[:10]
}

// Get returns the current entry for batchID.
func (r *Registry) Get(batchID string) (model.BatchEntry, error) {
	return docstore.GetTyped[model.BatchEntry](r.store, indexName, batchID)
}

// validTransitions enumerates the only status changes Advance allows,
// enforcing the monotonic COLLECT->AGGREGATE->SCORE->SUMMARIZE walk.
var validTransitions = map[model.BatchStatus][]model.BatchStatus{
	model.BatchCollecting:  {model.BatchCollected, model.BatchFailed},
	model.BatchCollected:   {model.BatchAggregating, model.BatchFailed},
	model.BatchAggregating: {model.BatchAggregated, model.BatchFailed},
	model.BatchAggregated:  {model.BatchScoring, model.BatchFailed},
	model.BatchScoring:     {model.BatchScored, model.BatchFailed},
	model.BatchScored:      {model.BatchSummarizing, model.BatchFailed},
	model.BatchSummarizing: {model.BatchSummarized, model.BatchFailed},
}

// Advance moves batchID to next, validating the transition and
// recording recordCount when provided (>=0).
func (r *Registry) Advance(ctx context.Context, batchID string, next model.BatchStatus, recordCount int, message string) error {
	return r.store.Merge(ctx, indexName, batchID, func(cur []byte, found bool) (any, error) {
		if !found {
			return nil, fmt.Errorf("batchregistry: advance %s: not found", batchID)
		}
		var entry model.BatchEntry
		if err := json.Unmarshal(cur, &entry); err != nil {
			return nil, err
		}
		if !allowed(entry.Status, next) {
			return nil, fmt.Errorf("batchregistry: invalid transition %s -> %s for batch %s", entry.Status, next, batchID)
		}
		entry.Status = next
		entry.UpdatedAt = time.Now()
		if recordCount >= 0 {
			entry.RecordCount = recordCount
		}
		entry.Message = message
		return entry, nil
	})
}

func allowed(from, to model.BatchStatus) bool {
	if to == model.BatchFailed {
		return true
	}
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ListByStatus returns every batch entry currently in status, ordered
// by batch id (chronological, since batch ids are zero-padded
// timestamps).
func (r *Registry) ListByStatus(status model.BatchStatus) ([]model.BatchEntry, error) {
	all, err := docstore.QueryList[model.BatchEntry](r.store, indexName)
	if err != nil {
		return nil, err
	}
	var out []model.BatchEntry
	for _, e := range all {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

// stuckThreshold is how long a batch may sit in a transient *ING state
// before ReapStuck resets it back to its last stable predecessor so
// the corresponding task picks it up again.
const stuckThreshold = 15 * time.Minute

// COLLECTING is reapable too: the last batch of a rotated-away file
// never sees a successor record to trigger its BATCH_CHANGED, so once
// its 5-minute window is well past, the reaper closes it.
var reapTargets = map[model.BatchStatus]model.BatchStatus{
	model.BatchCollecting:  model.BatchCollected,
	model.BatchAggregating: model.BatchCollected,
	model.BatchScoring:     model.BatchAggregated,
	model.BatchSummarizing: model.BatchScored,
}

// ReapStuck resets batches that have been sitting in a transient *ING
// state for longer than stuckThreshold back to the prior stable state,
// so the owning task's next run retries them. This assumes task runs
// are idempotent, which every stage in this pipeline is by
// construction (batch-scoped overwrite, not append).
func (r *Registry) ReapStuck(ctx context.Context) (int, error) {
	all, err := docstore.QueryList[model.BatchEntry](r.store, indexName)
	if err != nil {
		return 0, err
	}
	reaped := 0
	now := time.Now()
	for _, e := range all {
		target, stuck := reapTargets[e.Status]
		if !stuck {
			continue
		}
		if now.Sub(e.UpdatedAt) < stuckThreshold {
			continue
		}
		err := r.store.Merge(ctx, indexName, e.BatchID, func(cur []byte, found bool) (any, error) {
			var entry model.BatchEntry
			if found {
				if err := json.Unmarshal(cur, &entry); err != nil {
					return nil, err
				}
			}
			if entry.Status != e.Status {
				return entry, nil
			}
			entry.Status = target
			entry.UpdatedAt = now
			entry.Message = "reaped from stuck " + string(e.Status)
			return entry, nil
		})
		if err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

// DeleteOlderThan removes every batch entry whose date key
// lexicographically precedes cutoffDateKey (a "YYYY_MM_DD" string),
// the registry-side half of the daily maintenance sweep. The cutoff
// delete walks the same index ReapStuck and ListByStatus read from.
func (r *Registry) DeleteOlderThan(cutoffDateKey string) (int, error) {
	all, err := docstore.QueryList[model.BatchEntry](r.store, indexName)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, e := range all {
		if e.DateKey >= cutoffDateKey {
			continue
		}
		if err := r.store.DeleteByID(indexName, e.BatchID); err != nil {
			return deleted, fmt.Errorf("batchregistry: delete %s: %w", e.BatchID, err)
		}
		deleted++
	}
	return deleted, nil
}
