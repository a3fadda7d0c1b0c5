// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nginxlog parses the sentinel nginx access_log format and
// derives the batch identifiers used by the rest of the pipeline.
package nginxlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sentinel-ops/sentinel/internal/model"
)

// Delimiter separates the 10 fields of one sentinel log line.
const Delimiter = "||"

const fieldCount = 10

// timeLayout matches nginx's default $time_local format.
const timeLayout = "02/Jan/2006:15:04:05 -0700"

// ParseError reports a malformed log line; the caller should skip the
// line and keep reading rather than aborting the whole batch.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("nginxlog: %s: %q", e.Reason, e.Line)
}

// Parse decodes one access_log line into a LogRecord, including its
// BatchID (via BatchID) and PathType (via Classify).
func Parse(line string) (model.LogRecord, error) {
	parts := strings.Split(line, Delimiter)
	if len(parts) != fieldCount {
		return model.LogRecord{}, &ParseError{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", fieldCount, len(parts))}
	}

	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	// Field order is fixed by the sentinel log_format:
	// remote_addr||remote_user||time_local||request||status||
	// request_length||body_bytes_sent||http_referer||http_user_agent||
	// request_time.
	remoteAddr, remoteUser, timeLocalStr, request, statusStr, requestLengthStr, bodyBytesStr, referer, userAgent, requestTimeStr :=
		parts[0], parts[1], parts[2], parts[3], parts[4], parts[5], parts[6], parts[7], parts[8], parts[9]

	if remoteAddr == "" {
		return model.LogRecord{}, &ParseError{Line: line, Reason: "empty remote_addr"}
	}

	timeLocal, err := time.Parse(timeLayout, timeLocalStr)
	if err != nil {
		return model.LogRecord{}, &ParseError{Line: line, Reason: "bad time_local: " + err.Error()}
	}

	status, err := strconv.Atoi(statusStr)
	if err != nil {
		return model.LogRecord{}, &ParseError{Line: line, Reason: "bad status: " + err.Error()}
	}

	bodyBytes, err := strconv.ParseInt(emptyAsZero(bodyBytesStr), 10, 64)
	if err != nil {
		return model.LogRecord{}, &ParseError{Line: line, Reason: "bad body_bytes_sent: " + err.Error()}
	}

	requestLength, err := strconv.ParseInt(emptyAsZero(requestLengthStr), 10, 64)
	if err != nil {
		return model.LogRecord{}, &ParseError{Line: line, Reason: "bad request_length: " + err.Error()}
	}

	// request_time arrives as seconds with fractional milliseconds
	// ("0.123"); truncate (not round) to whole milliseconds.
	requestTimeSec, err := strconv.ParseFloat(emptyAsZero(requestTimeStr), 64)
	if err != nil {
		return model.LogRecord{}, &ParseError{Line: line, Reason: "bad request_time: " + err.Error()}
	}
	requestTimeMs := int64(requestTimeSec * 1000)

	method, path := splitRequest(request)

	rec := model.LogRecord{
		RemoteAddr:    remoteAddr,
		RemoteUser:    nilIfDash(remoteUser),
		TimeLocal:     timeLocal,
		Request:       request,
		Method:        method,
		Path:          path,
		Status:        status,
		BodyBytesSent: bodyBytes,
		Referer:       nilIfDash(referer),
		UserAgent:     nilIfDash(userAgent),
		RequestLength: requestLength,
		RequestTimeMs: requestTimeMs,
	}
	rec.BatchID = BatchID(timeLocal)
	rec.PathType = Classify(rec.Path)
	return rec, nil
}

func emptyAsZero(s string) string {
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

func nilIfDash(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func splitRequest(request string) (method, path string) {
	fields := strings.Fields(request)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return "", fields[0]
	}
	method = fields[0]
	path = fields[1]
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return method, path
}

// batchIntervalMinutes is the width of one collection batch.
const batchIntervalMinutes = 5

// BatchID floors t to the nearest 5-minute boundary and formats it as
// e.g. "2024_06_0112_35". The result intentionally has no separator
// between day and hour; DateKey below is how callers recover the
// calendar day unambiguously instead of re-parsing this string.
func BatchID(t time.Time) string {
	floored := t.Truncate(batchIntervalMinutes * time.Minute)
	return floored.Format("2006_01_0215_04")
}

// DateKey returns the calendar-day portion of a batch id, i.e. its
// first 10 characters ("2026_07_31"). Slicing is safe because BatchID
// always produces that fixed-width prefix.
func DateKey(batchID string) string {
	if len(batchID) < 10 {
		return batchID
	}
	return batchID[:10]
}
