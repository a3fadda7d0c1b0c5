// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sentinel-ops/sentinel/internal/batchregistry"
	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/sentinel-ops/sentinel/internal/nginxlog"
	"github.com/sentinel-ops/sentinel/internal/summarizer"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

// IPSummaryIndex is the single, non-date-partitioned index holding one
// rolling IPSummary document per IP, continuously folded by every
// batch that scores that IP.
const IPSummaryIndex = "ip_summary"

// Summarizer bundles the summarize stage's collaborators.
type Summarizer struct {
	Store    *docstore.Store
	Registry *batchregistry.Registry
}

// Summarize processes every SCORED batch, oldest first, folding each
// of its ScoreRecords into the rolling ip_summary document for that
// IP. Re-running a batch that is already SUMMARIZED is a no-op
// because ListByStatus only returns SCORED batches; folding the same
// batch's records in twice would double-count, which is why a batch
// only ever reaches SCORED once and is advanced to SUMMARIZED here
// under the same registry compare-and-swap the other stages use.
func (p *Summarizer) Summarize(ctx context.Context) error {
	batches, err := p.Registry.ListByStatus(model.BatchScored)
	if err != nil {
		return fmt.Errorf("pipeline: list scored batches: %w", err)
	}

	for _, entry := range batches {
		if err := p.summarizeOne(ctx, entry.BatchID); err != nil {
			log.Errorf("pipeline: summarize batch %s: %v", entry.BatchID, err)
			_ = p.Registry.Advance(ctx, entry.BatchID, model.BatchFailed, -1, err.Error())
			continue
		}
		metrics.BatchesProcessed.WithLabelValues("summarize").Inc()
	}
	return nil
}

func (p *Summarizer) summarizeOne(ctx context.Context, batchID string) error {
	if err := p.Registry.Advance(ctx, batchID, model.BatchSummarizing, -1, ""); err != nil {
		return err
	}

	index := scoreRecordPrefix + nginxlog.DateKey(batchID)
	records, err := docstore.ScanPrefixTyped[model.ScoreRecord](p.Store, index, batchID+"/")
	if err != nil {
		return fmt.Errorf("load score records: %w", err)
	}

	for _, rec := range records {
		if err := p.Store.Merge(ctx, IPSummaryIndex, rec.IP, summarizer.Accumulate(rec)); err != nil {
			return fmt.Errorf("merge summary for %s: %w", rec.IP, err)
		}
	}

	return p.Registry.Advance(ctx, batchID, model.BatchSummarized, len(records), "")
}
