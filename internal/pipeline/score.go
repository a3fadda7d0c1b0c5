// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sentinel-ops/sentinel/internal/aggregator"
	"github.com/sentinel-ops/sentinel/internal/batchregistry"
	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/sentinel-ops/sentinel/internal/nginxlog"
	"github.com/sentinel-ops/sentinel/internal/scoreengine"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

const scoreRecordPrefix = "score_record_"

// Scorer bundles the scoring stage's collaborators.
type Scorer struct {
	Store    *docstore.Store
	Registry *batchregistry.Registry
	Engine   *scoreengine.Engine
}

// Score processes every AGGREGATED batch, oldest first, evaluating
// the loaded rule set's condition/formula pairs against each IP's
// behavior vector and upserting the resulting ScoreRecord. Idempotent
// the same way Aggregate is: re-scoring overwrites the same
// (batch_id, ip) document.
func (p *Scorer) Score(ctx context.Context) error {
	batches, err := p.Registry.ListByStatus(model.BatchAggregated)
	if err != nil {
		return fmt.Errorf("pipeline: list aggregated batches: %w", err)
	}

	for _, entry := range batches {
		if err := p.scoreOne(ctx, entry.BatchID); err != nil {
			log.Errorf("pipeline: score batch %s: %v", entry.BatchID, err)
			_ = p.Registry.Advance(ctx, entry.BatchID, model.BatchFailed, -1, err.Error())
			continue
		}
		metrics.BatchesProcessed.WithLabelValues("score").Inc()
	}
	return nil
}

func (p *Scorer) scoreOne(ctx context.Context, batchID string) error {
	if err := p.Registry.Advance(ctx, batchID, model.BatchScoring, -1, ""); err != nil {
		return err
	}

	aggIndex := accessIPAggregationPrefix + nginxlog.DateKey(batchID)
	aggs, err := docstore.ScanPrefixTyped[model.AccessIPAggregation](p.Store, aggIndex, batchID+"/")
	if err != nil {
		return fmt.Errorf("load aggregates: %w", err)
	}

	outIndex := scoreRecordPrefix + nginxlog.DateKey(batchID)
	docs := make(map[string]any, len(aggs))
	for _, agg := range aggs {
		features := aggregator.BuildFeatures(agg)
		rec, err := p.Engine.Score(agg.IP, batchID, features)
		if err != nil {
			return fmt.Errorf("score ip %s: %w", agg.IP, err)
		}
		rec.Enrich = agg.Enrich
		docs[batchID+"/"+agg.IP] = rec
	}
	if len(docs) > 0 {
		if err := p.Store.CreateIndex(outIndex, model.ScoreRecord{}); err != nil {
			return fmt.Errorf("register index %s: %w", outIndex, err)
		}
		if err := p.Store.BatchInsert(outIndex, docs); err != nil {
			return fmt.Errorf("persist score records: %w", err)
		}
	}

	return p.Registry.Advance(ctx, batchID, model.BatchScored, len(aggs), "")
}
