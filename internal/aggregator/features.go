// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregator

import (
	"math"
	"strings"

	"github.com/sentinel-ops/sentinel/internal/model"
)

// suspiciousUAMarkers are substrings of a user agent string that mark
// it as an automated client rather than a browser.
var suspiciousUAMarkers = []string{
	"HeadlessChrome", "PhantomJS", "Python", "curl", "Java/",
	"Go-http-client", "Dalvik", "okhttp",
}

func isSuspiciousUA(ua string) bool {
	for _, marker := range suspiciousUAMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

type uaCategory int

const (
	uaDesktop uaCategory = iota
	uaMobile
	uaWebview
	uaSpider
	uaOther
)

// detectCategory classifies a single user-agent string into one of
// the one-hot buckets, checked in precedence order: headless counts
// as desktop automation, webview requires an android UA carrying a
// wv/uni-app marker, and a mobile signature wins over a bot one when
// both appear.
func detectCategory(ua string) uaCategory {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "headless"):
		return uaDesktop
	case strings.Contains(lower, "android") && (strings.Contains(lower, "wv") || strings.Contains(lower, "uni-app")):
		return uaWebview
	case strings.Contains(lower, "android"), strings.Contains(lower, "iphone"), strings.Contains(lower, "mobile"):
		return uaMobile
	case strings.Contains(lower, "spider"), strings.Contains(lower, "bot"):
		return uaSpider
	case strings.Contains(lower, "windows"), strings.Contains(lower, "macintosh"), strings.Contains(lower, "x11"):
		return uaDesktop
	default:
		return uaOther
	}
}

// uaFeatures holds the 10 UA-derived dimensions appended to the end of
// the behavior vector.
type uaFeatures struct {
	distinct   float64
	entropy    float64
	suspicious float64
	maxRatio   float64
	category   uaCategory
}

// parseUAFeatures derives the UA dimensions from the bucket's
// distribution; the category one-hot is taken from the single most
// frequent UA string, not a majority vote across all of them.
func parseUAFeatures(uas []model.KeyValue) uaFeatures {
	if len(uas) == 0 {
		return uaFeatures{category: uaOther}
	}
	var total int64
	for _, kv := range uas {
		total += kv.Value
	}

	f := uaFeatures{
		distinct: float64(len(uas)),
		maxRatio: ratioOf(uas[0].Value, total),
		category: detectCategory(uas[0].Key),
	}

	for _, kv := range uas {
		p := float64(kv.Value) / float64(total)
		if p > 0 {
			f.entropy -= p * math.Log(p)
		}
		if isSuspiciousUA(kv.Key) {
			f.suspicious = 1
		}
	}
	return f
}

func ratioOf(n int64, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func entropyBase2(kvs []model.KeyValue, total int64) float64 {
	if total == 0 {
		return 0
	}
	var h float64
	for _, kv := range kvs {
		p := float64(kv.Value) / float64(total)
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}

func findValue(kvs []model.KeyValue, key string) int64 {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value
		}
	}
	return 0
}

// BuildFeatures converts one AccessIPAggregation into its fixed-order
// behavior vector.
func BuildFeatures(agg model.AccessIPAggregation) model.AccessIPScoreFeatures {
	total := agg.Count
	norm, prefix16 := ipToFloat(agg.IP)

	var topPathCount int64
	if len(agg.Paths) > 0 {
		topPathCount = agg.Paths[0].Value
	}

	f := model.AccessIPScoreFeatures{
		IPNorm:        norm,
		Prefix16:      prefix16,
		Count:         float64(total),
		PageRatio:     ratioOf(agg.PageCount, total),
		NormalRatio:   ratioOf(agg.NormalCount, total),
		StaticRatio:   ratioOf(agg.StaticCount, total),
		DistinctPaths: float64(len(agg.Paths)),
		TopPathRatio:  ratioOf(topPathCount, total),
		PathEntropy:   entropyBase2(agg.Paths, total),

		Status200Ratio:      ratioOf(findValue(agg.Statuses, "200"), total),
		Status403Ratio:      ratioOf(findValue(agg.Statuses, "403"), total),
		Status404Ratio:      ratioOf(findValue(agg.Statuses, "404"), total),
		Status429Ratio:      ratioOf(findValue(agg.Statuses, "429"), total),
		Status499Ratio:      ratioOf(findValue(agg.Statuses, "499"), total),
		StatusRedirectRatio: ratioOf(findValue(agg.Statuses, "redirect"), total),
		Status5xxRatio:      ratioOf(findValue(agg.Statuses, "5xx"), total),
		StatusOtherRatio:    ratioOf(findValue(agg.Statuses, "other"), total),

		RefEmptyRatio:    ratioOf(findValue(agg.Referers, "__empty__"), total),
		RefNonEmptyRatio: ratioOf(findValue(agg.Referers, "__present__"), total),

		RequestLengthAvg: agg.RequestLength.Avg,
		RequestLengthStd: agg.RequestLength.StdDeviation,
		BodyBytesSentAvg: agg.BodyBytesSent.Avg,
		BodyBytesSentStd: agg.BodyBytesSent.StdDeviation,
		RequestTimeAvg:   agg.RequestTimeMs.Avg,
		RequestTimeStd:   agg.RequestTimeMs.StdDeviation,
	}

	ua := parseUAFeatures(agg.UserAgents)
	f.UADistinct = ua.distinct
	f.UAEntropy = ua.entropy
	f.UASuspicious = ua.suspicious
	f.UAMaxRatio = ua.maxRatio
	f.UAIsDesktop = boolFloat(ua.category == uaDesktop)
	f.UAIsMobile = boolFloat(ua.category == uaMobile)
	f.UAIsWebview = boolFloat(ua.category == uaWebview)
	f.UAIsSpider = boolFloat(ua.category == uaSpider)
	f.UAIsOther = boolFloat(ua.category == uaOther)

	return f
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
