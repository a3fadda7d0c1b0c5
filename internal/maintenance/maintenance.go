// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package maintenance implements the daily retention sweep: drop
// every daily-indexed prefix (log_metadata_, access_ip_aggregation_,
// score_record_) older than the configured keep window, and prune the
// batch registry to match.
package maintenance

import (
	"fmt"
	"time"

	"github.com/sentinel-ops/sentinel/internal/batchregistry"
	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

// datedPrefixes are the index name prefixes written with a
// "<prefix><YYYY_MM_DD>" suffix by the collect, aggregate and score
// stages. ip_summary and punish_record are deliberately excluded:
// they are rolling, non-date-partitioned state, not daily logs.
var datedPrefixes = []string{
	"log_metadata_",
	"access_ip_aggregation_",
	"score_record_",
}

const dateKeyLayout = "2006_01_02"

// Sweeper bundles the retention sweep's collaborators.
type Sweeper struct {
	Store    *docstore.Store
	Registry *batchregistry.Registry
}

// Run drops every daily index older than keepDays and prunes batch
// registry entries for the same cutoff.
func (s *Sweeper) Run(keepDays int) error {
	if keepDays <= 0 {
		keepDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	cutoffKey := cutoff.Format(dateKeyLayout)

	for _, prefix := range datedPrefixes {
		names, err := s.Store.IndexNames(prefix)
		if err != nil {
			return fmt.Errorf("maintenance: list indices for prefix %s: %w", prefix, err)
		}
		for _, index := range names {
			dateSuffix := index[len(prefix):]
			if _, err := time.Parse(dateKeyLayout, dateSuffix); err != nil {
				log.Warnf("maintenance: skipping unparseable index suffix %q for prefix %s", dateSuffix, prefix)
				continue
			}
			if dateSuffix >= cutoffKey {
				continue
			}
			if err := s.Store.DropIndex(index); err != nil {
				return fmt.Errorf("maintenance: drop index %s: %w", index, err)
			}
			log.Infof("maintenance: dropped index %s (older than %d days)", index, keepDays)
		}
	}

	deleted, err := s.Registry.DeleteOlderThan(cutoffKey)
	if err != nil {
		return fmt.Errorf("maintenance: prune batch registry: %w", err)
	}
	if deleted > 0 {
		log.Infof("maintenance: pruned %d batch registry entries older than %s", deleted, cutoffKey)
	}
	return nil
}
