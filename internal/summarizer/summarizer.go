// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package summarizer folds a batch's ScoreRecords into the rolling
// per-IP IPSummary, the Go equivalent of a document-store
// scripted_upsert: score components accumulate, everything else is
// overwritten to the newly-scored batch's values.
package summarizer

import (
	"encoding/json"
	"time"

	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/model"
)

// Accumulate returns a docstore.MergeFunc that folds rec into whatever
// IPSummary is currently stored (or starts a fresh one keyed by
// rec.IP on first write).
func Accumulate(rec model.ScoreRecord) docstore.MergeFunc {
	return func(cur []byte, found bool) (any, error) {
		var summary model.IPSummary
		if found {
			if err := json.Unmarshal(cur, &summary); err != nil {
				return nil, err
			}
		} else {
			summary.IP = rec.IP
		}
		summary.ScoreFixed += rec.ScoreFixed
		summary.ScoreDynamic += rec.ScoreDynamic
		summary.ScoreFeature += rec.ScoreFeature
		summary.ScoreTotal = summary.Total()
		summary.FeatureTags = featureTags(rec)
		summary.Enrich = rec.Enrich
		summary.LastBatchID = rec.BatchID
		summary.LastUpdate = time.Now()
		return summary, nil
	}
}

// featureTags extracts the set of FEATURE-type rules that matched, the
// "behavioral fingerprint" tags a summary carries forward.
func featureTags(rec model.ScoreRecord) map[string]bool {
	tags := make(map[string]bool, len(rec.Details))
	for _, d := range rec.Details {
		if d.ScoreType == model.ScoreFeature {
			tags[d.RuleName] = true
		}
	}
	return tags
}
