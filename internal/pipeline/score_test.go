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
	"github.com/sentinel-ops/sentinel/internal/scoreengine"
)

func newTestScorer(t *testing.T) (*Scorer, *docstore.Store, *batchregistry.Registry) {
	t.Helper()
	s, err := docstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := batchregistry.New(s)

	engine, err := scoreengine.Load([]model.ScoreRule{
		{RuleName: "hot", ScoreType: model.ScoreFixed, Condition: "count > 1", Formula: "5", Enabled: true},
	})
	require.NoError(t, err)

	return &Scorer{Store: s, Registry: reg, Engine: engine}, s, reg
}

func TestScoreAdvancesAggregatedBatchToScored(t *testing.T) {
	sc, store, reg := newTestScorer(t)
	ctx := context.Background()
	batchID := "2026_07_3115_00"

	require.NoError(t, reg.Create(batchID))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchCollected, 2, ""))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchAggregating, -1, ""))
	require.NoError(t, reg.Advance(ctx, batchID, model.BatchAggregated, 1, ""))

	aggIndex := accessIPAggregationPrefix + "2026_07_31"
	require.NoError(t, store.CreateIndex(aggIndex, model.AccessIPAggregation{}))
	require.NoError(t, store.Put(aggIndex, batchID+"/203.0.113.7", model.AccessIPAggregation{
		IP: "203.0.113.7", BatchID: batchID, Count: 5,
	}))

	require.NoError(t, sc.Score(ctx))

	entry, err := reg.Get(batchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchScored, entry.Status)

	outIndex := scoreRecordPrefix + "2026_07_31"
	rec, err := docstore.GetTyped[model.ScoreRecord](store, outIndex, batchID+"/203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 5.0, rec.ScoreFixed)
}
