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
	"github.com/sentinel-ops/sentinel/pkg/log"
)

const accessIPAggregationPrefix = "access_ip_aggregation_"

// Aggregator bundles the aggregation stage's collaborators.
type Aggregator struct {
	Store    *docstore.Store
	Registry *batchregistry.Registry
	Allowed  aggregator.AllowedLookup
	Geo      aggregator.GeoLookup
}

// Aggregate processes every batch currently COLLECTED, oldest first:
// for each, it loads that batch's raw records from the
// day's log_metadata index, groups them by IP, enriches, and upserts
// the result into access_ip_aggregation_<date>. Re-running this for a
// batch that is already AGGREGATED is a no-op because ListByStatus
// only returns COLLECTED batches; re-running a batch that failed
// partway through is safe because the upsert is keyed by
// (batch_id, ip) and therefore idempotent.
func (p *Aggregator) Aggregate(ctx context.Context) error {
	batches, err := p.Registry.ListByStatus(model.BatchCollected)
	if err != nil {
		return fmt.Errorf("pipeline: list collected batches: %w", err)
	}

	for _, entry := range batches {
		if err := p.aggregateOne(ctx, entry.BatchID); err != nil {
			log.Errorf("pipeline: aggregate batch %s: %v", entry.BatchID, err)
			_ = p.Registry.Advance(ctx, entry.BatchID, model.BatchFailed, -1, err.Error())
			continue
		}
		metrics.BatchesProcessed.WithLabelValues("aggregate").Inc()
	}
	return nil
}

func (p *Aggregator) aggregateOne(ctx context.Context, batchID string) error {
	if err := p.Registry.Advance(ctx, batchID, model.BatchAggregating, -1, ""); err != nil {
		return err
	}

	index := logMetadataPrefix + nginxlog.DateKey(batchID)
	records, err := docstore.ScanPrefixTyped[model.LogRecord](p.Store, index, batchID+"/")
	if err != nil {
		return fmt.Errorf("load batch records: %w", err)
	}

	aggs := aggregator.Aggregate(batchID, records, p.Allowed, p.Geo)

	outIndex := accessIPAggregationPrefix + nginxlog.DateKey(batchID)
	docs := make(map[string]any, len(aggs))
	for _, agg := range aggs {
		docs[batchID+"/"+agg.IP] = agg
	}
	if len(docs) > 0 {
		if err := p.Store.CreateIndex(outIndex, model.AccessIPAggregation{}); err != nil {
			return fmt.Errorf("register index %s: %w", outIndex, err)
		}
		if err := p.Store.BatchInsert(outIndex, docs); err != nil {
			return fmt.Errorf("persist aggregates: %w", err)
		}
	}

	return p.Registry.Advance(ctx, batchID, model.BatchAggregated, len(records), "")
}
