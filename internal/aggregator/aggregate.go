// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregator folds one batch's raw log records into a
// per-IP AccessIPAggregation and, from that, the fixed-order 35
// dimension behavior vector the scoring stage evaluates rules
// against.
package aggregator

import (
	"math"
	"net"
	"sort"

	"github.com/sentinel-ops/sentinel/internal/model"
)

// AllowedLookup reports whether ip falls inside an administratively
// whitelisted segment, and its org metadata if so.
type AllowedLookup interface {
	Lookup(ip string) (segment model.AllowedIPSegment, allowed bool)
}

// GeoLookup resolves geographic enrichment for an ip.
type GeoLookup interface {
	City(ip string) model.IPEnrich
}

type accumulator struct {
	count    int64
	paths    map[string]int64
	statuses map[string]int64
	referers map[string]int64
	uas      map[string]int64

	requestLength []float64
	bodyBytesSent []float64
	requestTimeMs []float64

	staticCount int64
	pageCount   int64
	normalCount int64
}

// Aggregate groups records (assumed to all share one batch id) by IP
// and builds one AccessIPAggregation per IP.
func Aggregate(batchID string, records []model.LogRecord, allowed AllowedLookup, geo GeoLookup) []model.AccessIPAggregation {
	byIP := make(map[string]*accumulator)
	order := make([]string, 0)

	for _, rec := range records {
		acc, ok := byIP[rec.RemoteAddr]
		if !ok {
			acc = &accumulator{
				paths:    map[string]int64{},
				statuses: map[string]int64{},
				referers: map[string]int64{},
				uas:      map[string]int64{},
			}
			byIP[rec.RemoteAddr] = acc
			order = append(order, rec.RemoteAddr)
		}
		acc.count++
		acc.paths[rec.Path]++
		acc.statuses[statusBucket(rec.Status)]++
		if rec.Referer == "" {
			acc.referers["__empty__"]++
		} else {
			acc.referers["__present__"]++
		}
		if rec.UserAgent != "" {
			acc.uas[rec.UserAgent]++
		}
		acc.requestLength = append(acc.requestLength, float64(rec.RequestLength))
		acc.bodyBytesSent = append(acc.bodyBytesSent, float64(rec.BodyBytesSent))
		acc.requestTimeMs = append(acc.requestTimeMs, float64(rec.RequestTimeMs))

		switch rec.PathType {
		case model.PathStatic:
			acc.staticCount++
		case model.PathPage:
			acc.pageCount++
		default:
			acc.normalCount++
		}
	}

	sort.Strings(order)

	out := make([]model.AccessIPAggregation, 0, len(order))
	for _, ip := range order {
		acc := byIP[ip]
		enrich := model.IPEnrich{Allowed: false}
		if allowed != nil {
			// allowed reflects the matched segment's is_internal flag,
			// not the mere existence of a match: a known-but-external
			// org's range stays scoreable.
			if seg, ok := allowed.Lookup(ip); ok {
				enrich.Allowed = seg.IsInternal
				enrich.OrgName = seg.OrgName
			}
		}
		if geo != nil {
			geoInfo := geo.City(ip)
			enrich.CityName = geoInfo.CityName
			enrich.CountryName = geoInfo.CountryName
			enrich.CountryCode = geoInfo.CountryCode
			enrich.ContinentName = geoInfo.ContinentName
			enrich.ContinentCode = geoInfo.ContinentCode
		}

		out = append(out, model.AccessIPAggregation{
			IP:            ip,
			BatchID:       batchID,
			Count:         acc.count,
			Enrich:        enrich,
			Paths:         toKeyValues(acc.paths),
			Statuses:      toKeyValues(acc.statuses),
			Referers:      toKeyValues(acc.referers),
			UserAgents:    toKeyValues(acc.uas),
			StaticCount:   acc.staticCount,
			PageCount:     acc.pageCount,
			NormalCount:   acc.normalCount,
			RequestLength: extendedStats(acc.requestLength),
			BodyBytesSent: extendedStats(acc.bodyBytesSent),
			RequestTimeMs: extendedStats(acc.requestTimeMs),
		})
	}
	return out
}

// statusBucket folds an HTTP status into the 8 categories the
// behavior vector tracks ratios for.
func statusBucket(status int) string {
	switch {
	case status == 200:
		return "200"
	case status == 403:
		return "403"
	case status == 404:
		return "404"
	case status == 429:
		return "429"
	case status == 499:
		return "499"
	case status == 301 || status == 302:
		return "redirect"
	case status == 500 || status == 502 || status == 503 || status == 504:
		return "5xx"
	default:
		return "other"
	}
}

func toKeyValues(m map[string]int64) []model.KeyValue {
	out := make([]model.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, model.KeyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func extendedStats(vals []float64) model.ExtendedStats {
	n := len(vals)
	if n == 0 {
		return model.ExtendedStats{}
	}
	var sum, sumSq, min, max float64
	min = vals[0]
	max = vals[0]
	for _, v := range vals {
		sum += v
		sumSq += v * v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	avg := sum / float64(n)
	variance := sumSq/float64(n) - avg*avg
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)

	var sampleVariance, sampleStd float64
	if n > 1 {
		sampleVariance = (sumSq - float64(n)*avg*avg) / float64(n-1)
		if sampleVariance < 0 {
			sampleVariance = 0
		}
		sampleStd = math.Sqrt(sampleVariance)
	}

	return model.ExtendedStats{
		Count:                  int64(n),
		Min:                    min,
		Max:                    max,
		Avg:                    avg,
		Sum:                    sum,
		SumOfSquares:           sumSq,
		Variance:               variance,
		VariancePopulation:     variance,
		VarianceSampling:       sampleVariance,
		StdDeviation:           std,
		StdDeviationPopulation: std,
		StdDeviationSampling:   sampleStd,
		StdDeviationBounds: model.StdDeviationBound{
			Upper: avg + 2*std,
			Lower: avg - 2*std,
		},
	}
}

// ipToFloat normalizes an IPv4 address to a [0,1] float and extracts
// its /16 prefix as a separate [0,1] float, giving the score engine a
// coarse, stable numeric handle on address space without hardcoding
// any particular subnet's rules.
func ipToFloat(ip string) (norm, prefix16 float64) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, 0
	}
	v4 := parsed.To4()
	if v4 == nil {
		return 0, 0
	}
	asUint := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
	norm = float64(asUint) / float64(math.MaxUint32)
	prefixUint := uint32(v4[0])<<8 | uint32(v4[1])
	prefix16 = float64(prefixUint) / float64(256*256-1)
	return norm, prefix16
}
