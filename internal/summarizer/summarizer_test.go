// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package summarizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-ops/sentinel/internal/model"
)

func TestAccumulateStartsFreshSummaryOnFirstWrite(t *testing.T) {
	rec := model.ScoreRecord{
		IP:           "203.0.113.7",
		BatchID:      "2024_06_0109_00",
		ScoreFixed:   5,
		ScoreDynamic: 2,
		ScoreFeature: 1,
		Details: []model.ScoreDetail{
			{RuleName: "burst", ScoreType: model.ScoreFeature},
			{RuleName: "ua-missing", ScoreType: model.ScoreFixed},
		},
	}

	out, err := Accumulate(rec)(nil, false)
	require.NoError(t, err)

	summary, ok := out.(model.IPSummary)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7", summary.IP)
	assert.Equal(t, 8.0, summary.ScoreTotal)
	assert.True(t, summary.FeatureTags["burst"])
	assert.False(t, summary.FeatureTags["ua-missing"])
	assert.Equal(t, "2024_06_0109_00", summary.LastBatchID)
}

func TestAccumulateFoldsIntoExistingSummary(t *testing.T) {
	prev := model.IPSummary{
		IP:           "203.0.113.7",
		ScoreFixed:   5,
		ScoreDynamic: 2,
		ScoreFeature: 1,
		ScoreTotal:   8,
	}
	raw, err := json.Marshal(prev)
	require.NoError(t, err)

	rec := model.ScoreRecord{
		IP:           "203.0.113.7",
		BatchID:      "2024_06_0109_05",
		ScoreFixed:   1,
		ScoreDynamic: 1,
		ScoreFeature: 0,
	}

	out, err := Accumulate(rec)(raw, true)
	require.NoError(t, err)

	summary, ok := out.(model.IPSummary)
	require.True(t, ok)
	assert.Equal(t, 6.0, summary.ScoreFixed)
	assert.Equal(t, 3.0, summary.ScoreDynamic)
	assert.Equal(t, 1.0, summary.ScoreFeature)
	assert.Equal(t, 10.0, summary.ScoreTotal)
	assert.Equal(t, "2024_06_0109_05", summary.LastBatchID)
}
