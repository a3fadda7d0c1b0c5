// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/model"
	"github.com/sentinel-ops/sentinel/internal/punish"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

// PunishRecordIndex holds one decision document per IP currently under
// an active or expired punishment, keyed by IP.
const PunishRecordIndex = "punish_record"

// Punisher bundles the punishment stage's collaborators. It runs after
// the summarizer, independent of the batch state machine: it scans the
// whole rolling ip_summary index rather than a single batch, since a
// quiet IP's summary can cross a threshold purely from past
// accumulation without appearing in the newest batch at all.
type Punisher struct {
	Store     *docstore.Store
	Evaluator *punish.Evaluator
}

// Punish evaluates every IP's current summary against the loaded
// punishment levels and records a new PunishRecord whenever an IP
// qualifies for a level above what it already holds, or its record has
// expired, is disabled or does not exist. An
// IP already recorded at or above the matched level, and not yet
// expired, is left untouched, so this is safe to run every tick
// without re-writing unchanged decisions.
func (p *Punisher) Punish(ctx context.Context) error {
	summaries, err := docstore.QueryList[model.IPSummary](p.Store, IPSummaryIndex)
	if err != nil {
		return fmt.Errorf("pipeline: list ip summaries: %w", err)
	}

	now := time.Now()
	for _, summary := range summaries {
		level, matched, err := p.Evaluator.Evaluate(summary)
		if err != nil {
			log.Errorf("pipeline: evaluate punishment for %s: %v", summary.IP, err)
			continue
		}
		if !matched {
			continue
		}

		existing, err := docstore.GetTyped[model.PunishRecord](p.Store, PunishRecordIndex, summary.IP)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			log.Errorf("pipeline: load punish record for %s: %v", summary.IP, err)
			continue
		}
		if err == nil && existing.Enabled && existing.Level.Level >= level.Level && now.Before(existing.ExpireAt) {
			continue
		}

		record := model.PunishRecord{
			IP:          summary.IP,
			Level:       level,
			Description: level.Description,
			CreatedAt:   now,
			ExpireAt:    now.Add(level.ExpireAfter),
			Enabled:     true,
		}
		if err := p.Store.Put(PunishRecordIndex, summary.IP, record); err != nil {
			return fmt.Errorf("pipeline: persist punish record for %s: %w", summary.IP, err)
		}
		metrics.PunishDecisions.Inc()
		log.Infof("pipeline: ip %s escalated to punishment level %s", summary.IP, level.Name)
		publishEvent(subjectPunishEvents, record)
	}
	return nil
}
