// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregator

import (
	"testing"

	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records() []model.LogRecord {
	return []model.LogRecord{
		{RemoteAddr: "203.0.113.7", Path: "/a", PathType: model.PathNormal, Status: 200, Referer: "", UserAgent: "curl/8.0", RequestLength: 100, BodyBytesSent: 200, RequestTimeMs: 10},
		{RemoteAddr: "203.0.113.7", Path: "/a", PathType: model.PathNormal, Status: 200, Referer: "https://x", UserAgent: "curl/8.0", RequestLength: 120, BodyBytesSent: 220, RequestTimeMs: 20},
		{RemoteAddr: "203.0.113.7", Path: "/b", PathType: model.PathStatic, Status: 404, Referer: "", UserAgent: "curl/8.0", RequestLength: 80, BodyBytesSent: 0, RequestTimeMs: 5},
		{RemoteAddr: "198.51.100.1", Path: "/page/1", PathType: model.PathPage, Status: 200, Referer: "", UserAgent: "Mozilla/5.0 (Windows NT 10.0)", RequestLength: 300, BodyBytesSent: 5000, RequestTimeMs: 50},
	}
}

func TestAggregateGroupsByIP(t *testing.T) {
	aggs := Aggregate("2026_07_3115_00", records(), nil, nil)
	require.Len(t, aggs, 2)
	assert.Equal(t, "198.51.100.1", aggs[0].IP)
	assert.Equal(t, "203.0.113.7", aggs[1].IP)
	assert.Equal(t, int64(3), aggs[1].Count)
}

func TestAggregateComputesExtendedStats(t *testing.T) {
	aggs := Aggregate("2026_07_3115_00", records(), nil, nil)
	var target model.AccessIPAggregation
	for _, a := range aggs {
		if a.IP == "203.0.113.7" {
			target = a
		}
	}
	assert.Equal(t, int64(3), target.RequestTimeMs.Count)
	assert.InDelta(t, float64(10+20+5)/3, target.RequestTimeMs.Avg, 0.001)
}

func TestBuildFeaturesRatiosSumToOne(t *testing.T) {
	aggs := Aggregate("2026_07_3115_00", records(), nil, nil)
	for _, agg := range aggs {
		f := BuildFeatures(agg)
		statusSum := f.Status200Ratio + f.Status403Ratio + f.Status404Ratio + f.Status429Ratio +
			f.Status499Ratio + f.StatusRedirectRatio + f.Status5xxRatio + f.StatusOtherRatio
		assert.InDelta(t, 1.0, statusSum, 0.0001)

		pathSum := f.PageRatio + f.NormalRatio + f.StaticRatio
		assert.InDelta(t, 1.0, pathSum, 0.0001)
	}
}

func TestBuildFeaturesSuspiciousUAFlag(t *testing.T) {
	aggs := Aggregate("2026_07_3115_00", records(), nil, nil)
	for _, agg := range aggs {
		f := BuildFeatures(agg)
		if agg.IP == "203.0.113.7" {
			assert.Equal(t, 1.0, f.UASuspicious)
		}
		if agg.IP == "198.51.100.1" {
			assert.Equal(t, 1.0, f.UAIsDesktop)
		}
	}
}

func TestDetectCategoryPrecedence(t *testing.T) {
	cases := []struct {
		ua   string
		want uaCategory
	}{
		{"Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0", uaDesktop},
		{"Mozilla/5.0 (Linux; Android 13; wv) AppleWebKit/537.36", uaWebview},
		{"Mozilla/5.0 (Linux; Android 13) uni-app", uaWebview},
		// A mobile signature wins over a bot one when both appear.
		{"SomeBot (Linux; Android 13; Mobile)", uaMobile},
		{"Googlebot/2.1 (+http://www.google.com/bot.html)", uaSpider},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", uaDesktop},
		{"curl/8.0", uaOther},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, detectCategory(c.ua), c.ua)
	}
}

type fakeAllowed struct {
	segments map[string]model.AllowedIPSegment
}

func (f fakeAllowed) Lookup(ip string) (model.AllowedIPSegment, bool) {
	seg, ok := f.segments[ip]
	return seg, ok
}

func TestAggregateMarksAllowedIPs(t *testing.T) {
	allowed := fakeAllowed{segments: map[string]model.AllowedIPSegment{
		"203.0.113.7":  {OrgName: "example-org", IsInternal: true},
		"198.51.100.1": {OrgName: "partner-org", IsInternal: false},
	}}
	aggs := Aggregate("2026_07_3115_00", records(), allowed, nil)
	for _, a := range aggs {
		switch a.IP {
		case "203.0.113.7":
			assert.True(t, a.Enrich.Allowed)
			assert.Equal(t, "example-org", a.Enrich.OrgName)
		case "198.51.100.1":
			// A matched but non-internal segment carries its org name
			// without exempting the IP.
			assert.False(t, a.Enrich.Allowed)
			assert.Equal(t, "partner-org", a.Enrich.OrgName)
		default:
			assert.False(t, a.Enrich.Allowed)
		}
	}
}
