// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package controller

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingSidecarReturnsBalancedDefault(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, RegimeBalanced, c.state.Regime)
}

func TestAdjustPersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.json")
	c, err := Load(path)
	require.NoError(t, err)

	now := time.Now()
	_, err = c.Adjust(now, 1000, 500)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.state.FileSize, reloaded.state.FileSize)
	assert.Equal(t, c.state.Offset, reloaded.state.Offset)
}

func TestIdleRegimeWidensInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.json")
	c, err := Load(path)
	require.NoError(t, err)
	base := time.Now()

	// no growth at all in file size or offset -> idle
	state, err := c.Adjust(base, 0, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		base = base.Add(time.Duration(state.Interval) * time.Second)
		state, err = c.Adjust(base, 0, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, RegimeIdle, state.Regime)
	assert.Greater(t, state.Interval, 300)
}

func TestBacklogRegimeNarrowsInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.json")
	c, err := Load(path)
	require.NoError(t, err)
	base := time.Now()

	var fileSize int64 = 1000
	var offset int64
	state, err := c.Adjust(base, fileSize, offset)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		base = base.Add(time.Duration(state.Interval) * time.Second)
		fileSize += 1_000_000
		state, err = c.Adjust(base, fileSize, offset)
		require.NoError(t, err)
	}
	assert.Equal(t, RegimeBacklog, state.Regime)
	assert.LessOrEqual(t, state.Interval, 300)
}

func TestIntervalNeverExceedsBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.json")
	c, err := Load(path)
	require.NoError(t, err)
	base := time.Now()
	state, err := c.Adjust(base, 0, 0)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		base = base.Add(time.Duration(state.Interval) * time.Second)
		state, err = c.Adjust(base, 0, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, state.Interval, minIntervalSeconds)
		assert.LessOrEqual(t, state.Interval, maxIntervalSeconds)
	}
}
