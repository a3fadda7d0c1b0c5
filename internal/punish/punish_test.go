// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package punish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-ops/sentinel/internal/model"
)

func levels() []model.PunishLevel {
	return []model.PunishLevel{
		{Name: "warn", Level: 1, PunishType: model.PunishRateLimit, Condition: "score_total > 10", ExpireAfter: time.Hour},
		{Name: "ban", Level: 2, PunishType: model.PunishNginxBan, Condition: "score_total > 50", ExpireAfter: 24 * time.Hour},
		{Name: "firewall", Level: 3, PunishType: model.PunishFirewall, Condition: `feature_tags["scanner"] == true`, ExpireAfter: 7 * 24 * time.Hour},
	}
}

func TestLoadRejectsBadCondition(t *testing.T) {
	bad := []model.PunishLevel{{Name: "broken", Level: 1, Condition: "score_total >"}}
	_, err := Load(bad)
	assert.Error(t, err)
}

func TestEvaluateReturnsHighestMatchingLevel(t *testing.T) {
	ev, err := Load(levels())
	require.NoError(t, err)

	summary := model.IPSummary{IP: "203.0.113.7", ScoreFixed: 40, ScoreDynamic: 20, ScoreTotal: 60}
	level, ok, err := ev.Evaluate(summary)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ban", level.Name)
}

func TestEvaluateNoMatchReturnsFalse(t *testing.T) {
	ev, err := Load(levels())
	require.NoError(t, err)

	summary := model.IPSummary{IP: "203.0.113.7", ScoreTotal: 1}
	_, ok, err := ev.Evaluate(summary)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateMatchesOnFeatureTags(t *testing.T) {
	ev, err := Load(levels())
	require.NoError(t, err)

	summary := model.IPSummary{IP: "203.0.113.7", ScoreTotal: 5, FeatureTags: map[string]bool{"scanner": true}}
	level, ok, err := ev.Evaluate(summary)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "firewall", level.Name)
}
