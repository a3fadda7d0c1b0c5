// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-ops/sentinel/internal/batchregistry"
	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/model"
)

func TestSummarizeFoldsScoredBatchIntoIPSummaryAndAdvances(t *testing.T) {
	s, err := docstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := batchregistry.New(s)
	ctx := context.Background()
	batchID := "2026_07_3115_00"

	require.NoError(t, reg.Create(batchID))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchCollected, 1, ""))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchAggregating, -1, ""))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchAggregated, 1, ""))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchScoring, -1, ""))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchScored, 1, ""))

	scoreIndex := scoreRecordPrefix + "2026_07_31"
	require.NoError(t, s.CreateIndex(scoreIndex, model.ScoreRecord{}))
	require.NoError(t, s.Put(scoreIndex, batchID+"/203.0.113.7", model.ScoreRecord{
		IP: "203.0.113.7", BatchID: batchID, ScoreFixed: 3, ScoreDynamic: 2,
	}))

	summ := &Summarizer{Store: s, Registry: reg}
	require.NoError(t, summ.Summarize(ctx))

	entry, err := reg.Get(batchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchSummarized, entry.Status)

	summary, err := docstore.GetTyped[model.IPSummary](s, IPSummaryIndex, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 5.0, summary.ScoreTotal)
	assert.Equal(t, batchID, summary.LastBatchID)
}

func TestSummarizeAccumulatesAcrossRepeatedBatches(t *testing.T) {
	s, err := docstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := batchregistry.New(s)
	ctx := context.Background()
	summ := &Summarizer{Store: s, Registry: reg}

	for i, batchID := range []string{"2026_07_3115_00", "2026_07_3115_05"} {
		require.NoError(t, reg.Create(batchID))
		require.NoError(t, reg.Advance(ctx, batchID, model.BatchCollected, 1, ""))
		require.NoError(t, reg.Advance(ctx, batchID, model.BatchAggregating, -1, ""))
		require.NoError(t, reg.Advance(ctx, batchID, model.BatchAggregated, 1, ""))
		require.NoError(t, reg.Advance(ctx, batchID, model.BatchScoring, -1, ""))
		require.NoError(t, reg.Advance(ctx, batchID, model.BatchScored, 1, ""))

		scoreIndex := scoreRecordPrefix + "2026_07_31"
		require.NoError(t, s.CreateIndex(scoreIndex, model.ScoreRecord{}))
		require.NoError(t, s.Put(scoreIndex, batchID+"/203.0.113.7", model.ScoreRecord{
			IP: "203.0.113.7", BatchID: batchID, ScoreFixed: float64(i + 1),
		}))

		require.NoError(t, summ.Summarize(ctx))
	}

	summary, err := docstore.GetTyped[model.IPSummary](s, IPSummaryIndex, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 3.0, summary.ScoreFixed)
}
