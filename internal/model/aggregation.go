// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package model

// KeyValue is a generic bucket count, used for top-path/top-UA terms.
type KeyValue struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// StdDeviationBound mirrors an Elasticsearch extended-stats std-deviation
// bound pair, kept for feature parity even though they are only used by
// the +/-2 sigma bounds here.
type StdDeviationBound struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// ExtendedStats is the numeric-stats summary computed over one bucket
// for a single field (request_length, body_bytes_sent, request_time_ms).
type ExtendedStats struct {
	Count                   int64              `json:"count"`
	Min                     float64            `json:"min"`
	Max                     float64            `json:"max"`
	Avg                     float64            `json:"avg"`
	Sum                     float64            `json:"sum"`
	SumOfSquares            float64            `json:"sum_of_squares"`
	Variance                float64            `json:"variance"`
	VariancePopulation      float64            `json:"variance_population"`
	VarianceSampling        float64            `json:"variance_sampling"`
	StdDeviation            float64            `json:"std_deviation"`
	StdDeviationPopulation  float64            `json:"std_deviation_population"`
	StdDeviationSampling    float64            `json:"std_deviation_sampling"`
	StdDeviationBounds      StdDeviationBound  `json:"std_deviation_bounds"`
}

// IPEnrich holds the lookup-derived attributes of an IP address that are
// not computed from the access log itself.
type IPEnrich struct {
	Allowed       bool   `json:"allowed"`
	OrgName       string `json:"org_name,omitempty"`
	CityName      string `json:"city_name,omitempty"`
	CountryName   string `json:"country_name,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	ContinentName string `json:"continent_name,omitempty"`
	ContinentCode string `json:"continent_code,omitempty"`
}

// AccessIPAggregation is the per-IP, per-batch aggregation record built
// by the aggregation stage from the raw log records of one batch.
type AccessIPAggregation struct {
	IP          string   `json:"ip"`
	BatchID     string   `json:"batch_id"`
	Count       int64    `json:"count"`
	Enrich      IPEnrich `json:"enrich"`

	Paths       []KeyValue `json:"paths"`
	Statuses    []KeyValue `json:"statuses"`
	Referers    []KeyValue `json:"referers"`
	UserAgents  []KeyValue `json:"user_agents"`

	StaticCount int64 `json:"static_count"`
	PageCount   int64 `json:"page_count"`
	NormalCount int64 `json:"normal_count"`

	RequestLength ExtendedStats `json:"request_length"`
	BodyBytesSent ExtendedStats `json:"body_bytes_sent"`
	RequestTimeMs ExtendedStats `json:"request_time_ms"`
}

// AccessIPScoreFeatures is the flat 35-dimension behavior vector derived
// from one AccessIPAggregation, in the fixed field order the scoring
// stage's rule conditions/formulas reference by name.
type AccessIPScoreFeatures struct {
	IPNorm   float64 `json:"ip_norm"`
	Prefix16 float64 `json:"prefix16"`
	Count    float64 `json:"count"`

	PageRatio      float64 `json:"page_ratio"`
	DistinctPaths  float64 `json:"distinct_paths"`
	TopPathRatio   float64 `json:"top_path_ratio"`
	PathEntropy    float64 `json:"path_entropy"`

	NormalRatio float64 `json:"normal_ratio"`
	StaticRatio float64 `json:"static_ratio"`

	Status200Ratio    float64 `json:"status_200_ratio"`
	Status403Ratio    float64 `json:"status_403_ratio"`
	Status404Ratio    float64 `json:"status_404_ratio"`
	Status429Ratio    float64 `json:"status_429_ratio"`
	Status499Ratio    float64 `json:"status_499_ratio"`
	StatusRedirectRatio float64 `json:"status_redirect_ratio"`
	Status5xxRatio    float64 `json:"status_5xx_ratio"`
	StatusOtherRatio  float64 `json:"status_other_ratio"`

	RefEmptyRatio    float64 `json:"ref_empty_ratio"`
	RefNonEmptyRatio float64 `json:"ref_non_empty_ratio"`

	RequestLengthAvg float64 `json:"request_length_avg"`
	RequestLengthStd float64 `json:"request_length_std"`
	BodyBytesSentAvg float64 `json:"body_bytes_sent_avg"`
	BodyBytesSentStd float64 `json:"body_bytes_sent_std"`
	RequestTimeAvg   float64 `json:"request_time_avg"`
	RequestTimeStd   float64 `json:"request_time_std"`

	UADistinct   float64 `json:"ua_distinct"`
	UAEntropy    float64 `json:"ua_entropy"`
	UASuspicious float64 `json:"ua_suspicious"`
	UAMaxRatio   float64 `json:"ua_max_ratio"`

	// One-hot from the most frequent UA. The third slot is never set;
	// it is carried so the one-hot stays 6 wide and downstream
	// consumers of the vector keep a stable shape.
	UAIsDesktop   float64 `json:"ua_is_desktop"`
	UAIsMobile    float64 `json:"ua_is_mobile"`
	UACatReserved float64 `json:"ua_cat_reserved"`
	UAIsWebview   float64 `json:"ua_is_webview"`
	UAIsSpider    float64 `json:"ua_is_spider"`
	UAIsOther     float64 `json:"ua_is_other"`
}
