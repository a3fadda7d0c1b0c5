// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager drives the always-on pipeline: one gocron job
// per conveyor stage, each constrained to single-instance execution so
// a slow tick is coalesced rather than overlapped.
package taskmanager

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/repository"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

// minuteKeyLayout gives the per-run dedup key minute precision: a
// same-minute re-trigger of a task - a manual re-arm, or the
// scheduler restarting mid-minute and replaying a tick - is a no-op.
const minuteKeyLayout = "200601021504"

var (
	s  gocron.Scheduler
	db *repository.DBConnection
)

// Task is one static entry in the task registry: no reflection, no
// package-walking plugin discovery, just a literal list assembled by
// the caller via NewTask and handed to Start.
type Task struct {
	id          string
	name        string
	description string
	cron        string
	run         func(ctx context.Context) error
}

// NewTask builds one static registry entry. cron is a standard 5-field
// cron expression (no seconds field); the stages stagger themselves a
// minute apart so each sees freshly-terminal work from its
// predecessor.
func NewTask(id, name, description, cron string, run func(ctx context.Context) error) Task {
	return Task{id: id, name: name, description: description, cron: cron, run: run}
}

// Start wires every registered task into the scheduler and starts it.
// tasks is built by the caller (cmd/sentineld) from config.Keys.Cron
// and the pipeline stage structs, keeping taskmanager itself free of
// any direct dependency on docstore/aggregator/scoreengine wiring.
func Start(conn *repository.DBConnection, tasks []Task) error {
	db = conn
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		return err
	}

	for _, t := range tasks {
		t := t
		if err := db.RegisterTask(t.id, t.name, t.cron, t.description); err != nil {
			return err
		}
		job, err := s.NewJob(
			gocron.CronJob(t.cron, false),
			gocron.NewTask(func() { runWithStatusTracking(t.id, t.run) }),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
		log.Infof("taskmanager: registered %s (%s) as job %s", t.name, t.cron, job.ID())
	}

	s.Start()
	return nil
}

// RegisterAdaptive registers the collector task on a duration trigger
// instead of a fixed cron, and reschedules itself after every run to
// whatever interval the adaptive controller recommends. Must be
// called after Start.
func RegisterAdaptive(id, name, description string, initial time.Duration, run func(ctx context.Context) (time.Duration, error)) error {
	if err := db.RegisterTask(id, name, "adaptive", description); err != nil {
		return err
	}

	job, err := s.NewJob(
		gocron.DurationJob(initial),
		gocron.NewTask(func() { runAdaptive(id, run) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	adaptiveJobs[id] = job.ID()
	log.Infof("taskmanager: registered adaptive task %s with initial interval %s", name, initial)
	return nil
}

// adaptiveJobs maps a task id to its gocron job id so runAdaptive can
// reschedule it after a run recommends a new interval.
var adaptiveJobs = map[string]uuid.UUID{}

// runAdaptive wraps run with the same enabled/dedup-guarded
// status-tracking runWithStatusTracking provides, then reschedules the
// job to the interval run recommends, if any and if it differs from
// "leave it alone" (zero).
func runAdaptive(taskID string, run func(ctx context.Context) (time.Duration, error)) {
	minuteKey := time.Now().UTC().Format(minuteKeyLayout)
	if !claimRun(taskID, minuteKey) {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	next, err := run(ctx)
	cost := time.Since(start)

	if err != nil {
		log.Errorf("taskmanager: %s failed after %s: %v", taskID, cost, err)
		metrics.ObserveTaskRun(taskID, "FAILED", cost)
		if recErr := db.RecordRun(taskID, "FAILED", err.Error(), minuteKey, cost); recErr != nil {
			log.Errorf("taskmanager: record run for %s: %v", taskID, recErr)
		}
		return
	}
	metrics.ObserveTaskRun(taskID, "SUCCESS", cost)
	if recErr := db.RecordRun(taskID, "SUCCESS", "", minuteKey, cost); recErr != nil {
		log.Errorf("taskmanager: record run for %s: %v", taskID, recErr)
	}

	if next <= 0 {
		return
	}
	jobID, ok := adaptiveJobs[taskID]
	if !ok {
		return
	}
	if _, err := s.Update(jobID, gocron.DurationJob(next), gocron.NewTask(func() { runAdaptive(taskID, run) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule)); err != nil {
		log.Errorf("taskmanager: reschedule %s to %s: %v", taskID, next, err)
	}
}

// Shutdown stops the scheduler, letting any in-flight task finish.
func Shutdown() {
	if s != nil {
		_ = s.Shutdown()
	}
}

// runWithStatusTracking reads the task's config row and skips the run
// if the task is disabled or this same minute already ran it,
// otherwise it runs fn and persists SUCCESS/FAILED with elapsed time
// and (on failure) the error message to the task_scheduler table.
func runWithStatusTracking(taskID string, fn func(ctx context.Context) error) {
	minuteKey := time.Now().UTC().Format(minuteKeyLayout)
	if !claimRun(taskID, minuteKey) {
		return
	}

	start := time.Now()
	log.Debugf("taskmanager: %s started at %s", taskID, start.Format(time.RFC3339))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	err := fn(ctx)
	cost := time.Since(start)

	if err != nil {
		log.Errorf("taskmanager: %s failed after %s: %v", taskID, cost, err)
		metrics.ObserveTaskRun(taskID, "FAILED", cost)
		if recErr := db.RecordRun(taskID, "FAILED", err.Error(), minuteKey, cost); recErr != nil {
			log.Errorf("taskmanager: record run for %s: %v", taskID, recErr)
		}
		return
	}

	log.Debugf("taskmanager: %s succeeded after %s", taskID, cost)
	metrics.ObserveTaskRun(taskID, "SUCCESS", cost)
	if recErr := db.RecordRun(taskID, "SUCCESS", "", minuteKey, cost); recErr != nil {
		log.Errorf("taskmanager: record run for %s: %v", taskID, recErr)
	}
}

// claimRun reports whether taskID should run now: it must be enabled,
// and this minuteKey must not be the same one its last run already
// claimed. A task with no bookkeeping row yet (should not normally
// happen, Start registers every task before scheduling it) is allowed
// to run rather than silently skipped.
func claimRun(taskID, minuteKey string) bool {
	status, err := db.GetTask(taskID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Errorf("taskmanager: load task config for %s: %v", taskID, err)
		}
		return true
	}
	if !status.Enabled {
		log.Debugf("taskmanager: %s is disabled, skipping tick", taskID)
		return false
	}
	if status.LastRunMinuteKey == minuteKey {
		log.Debugf("taskmanager: %s already ran this minute (%s), skipping re-trigger", taskID, minuteKey)
		return false
	}
	return true
}
