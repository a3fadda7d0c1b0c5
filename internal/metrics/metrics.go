// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes sentineld's operational counters and gauges
// for Prometheus scraping. Stages increment these as side effects;
// nothing in the pipeline reads them back.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinel-ops/sentinel/pkg/log"
)

var (
	RecordsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_records_collected_total",
		Help: "Log records parsed and persisted by the collector.",
	})

	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_parse_errors_total",
		Help: "Malformed log lines skipped by the collector.",
	})

	// BatchesProcessed counts terminal stage transitions per stage
	// (collect, aggregate, score, summarize).
	BatchesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_batches_processed_total",
		Help: "Batches a stage finished, by stage.",
	}, []string{"stage"})

	PunishDecisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_punish_decisions_total",
		Help: "Punishment escalation decisions recorded.",
	})

	CollectorLagBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_collector_lag_bytes",
		Help: "Bytes between the active file's size and the persisted offset.",
	})

	ControllerRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_controller_avg_ratio",
		Help: "EWMA-smoothed write/read rate ratio of the adaptive controller.",
	})

	ControllerIntervalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_controller_interval_seconds",
		Help: "Collector poll interval currently recommended by the adaptive controller.",
	})

	// ControllerRegime is a one-hot gauge over the four regimes; the
	// label whose value is 1 names the current classification.
	ControllerRegime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_controller_regime",
		Help: "Current adaptive controller regime (1 on the active regime's label).",
	}, []string{"regime"})

	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_task_runs_total",
		Help: "Scheduler task completions, by task id and outcome.",
	}, []string{"task", "status"})

	TaskDurationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_task_duration_seconds",
		Help: "Wall-clock duration of each task's most recent run.",
	}, []string{"task"})
)

// regimes mirrors the controller's classification set so SetRegime can
// zero the three inactive labels.
var regimes = []string{"IDLE", "BALANCED", "OVERLOAD", "BACKLOG"}

// SetRegime marks active as the current controller regime.
func SetRegime(active string) {
	for _, r := range regimes {
		v := 0.0
		if r == active {
			v = 1.0
		}
		ControllerRegime.WithLabelValues(r).Set(v)
	}
}

// ObserveTaskRun records one task completion.
func ObserveTaskRun(taskID, status string, cost time.Duration) {
	TaskRuns.WithLabelValues(taskID, status).Inc()
	TaskDurationSeconds.WithLabelValues(taskID).Set(cost.Seconds())
}

// Serve exposes /metrics on addr. It blocks, so callers run it on its
// own goroutine; a bind failure is logged, not fatal, since scraping
// is advisory while the pipeline keeps running.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Infof("metrics: serving /metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("metrics: serve on %s: %v", addr, err)
	}
}
