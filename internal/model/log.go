// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package model holds the shared data types passed between the
// collection, aggregation, scoring and summarization stages.
package model

import "time"

// PathType classifies a request path for the aggregation stage.
type PathType string

const (
	PathStatic PathType = "static"
	PathPage   PathType = "page"
	PathNormal PathType = "normal"
)

// LogRecord is one parsed line of the nginx access log, using the
// sentinel log_format (10 pipe-delimited fields).
type LogRecord struct {
	RemoteAddr    string    `json:"remote_addr"`
	RemoteUser    string    `json:"remote_user,omitempty"`
	TimeLocal     time.Time `json:"time_local"`
	Request       string    `json:"request"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Status        int       `json:"status"`
	BodyBytesSent int64     `json:"body_bytes_sent"`
	Referer       string    `json:"referer"`
	UserAgent     string    `json:"user_agent"`
	RequestLength int64     `json:"request_length"`
	RequestTimeMs int64     `json:"request_time_ms"`
	BatchID       string    `json:"batch_id"`
	PathType      PathType  `json:"path_type"`
}

// BatchStatus is the state of one 5-minute collection batch as it
// moves through the conveyor.
type BatchStatus string

const (
	BatchCollecting  BatchStatus = "COLLECTING"
	BatchCollected   BatchStatus = "COLLECTED"
	BatchAggregating BatchStatus = "AGGREGATING"
	BatchAggregated  BatchStatus = "AGGREGATED"
	BatchScoring     BatchStatus = "SCORING"
	BatchScored      BatchStatus = "SCORED"
	BatchSummarizing BatchStatus = "SUMMARIZING"
	BatchSummarized  BatchStatus = "SUMMARIZED"
	BatchFailed      BatchStatus = "FAILED"
)

// BatchEntry tracks the lifecycle of one batch_id through the pipeline.
type BatchEntry struct {
	BatchID     string      `json:"batch_id"`
	DateKey     string      `json:"date_key"`
	Status      BatchStatus `json:"status"`
	RecordCount int         `json:"record_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Message     string      `json:"message,omitempty"`
}

// CollectEventType distinguishes why a collection event fired.
type CollectEventType string

const (
	EventDateChanged  CollectEventType = "DATE_CHANGED"
	EventBatchChanged CollectEventType = "BATCH_CHANGED"
)

// CollectEvent is published on a batch or date boundary during tailing.
type CollectEvent struct {
	Type        CollectEventType `json:"type"`
	BatchID     string           `json:"batch_id,omitempty"`
	PreviousID  string           `json:"previous_id,omitempty"`
	DateKey     string           `json:"date_key,omitempty"`
	RecordCount int              `json:"record_count"`
}
