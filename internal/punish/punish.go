// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package punish implements the punishment hand-off: it decides, for
// each rolling IPSummary, whether an IP has crossed a configured
// escalation threshold, and records that decision as a PunishRecord.
// It never enforces anything itself - no firewall call, no nginx
// reload - it only writes a decision row for an external enforcer to
// pick up.
package punish

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sentinel-ops/sentinel/internal/model"
)

// Env is the variable set a PunishLevel.Condition expression is
// compiled and evaluated against, the punishment-stage counterpart of
// scoreengine's feature vector.
type Env struct {
	ScoreFixed   float64         `expr:"score_fixed"`
	ScoreDynamic float64         `expr:"score_dynamic"`
	ScoreFeature float64         `expr:"score_feature"`
	ScoreTotal   float64         `expr:"score_total"`
	FeatureTags  map[string]bool `expr:"feature_tags"`
}

type compiledLevel struct {
	level   model.PunishLevel
	program *vm.Program
}

// Evaluator holds the compiled condition for every configured
// PunishLevel, ordered highest level first so Evaluate returns the
// highest escalation an IP qualifies for rather than the first one
// configured.
type Evaluator struct {
	levels []compiledLevel
}

// Load compiles every level's expr condition once up front; a bad
// condition fails the whole load rather than silently never matching.
func Load(levels []model.PunishLevel) (*Evaluator, error) {
	compiled := make([]compiledLevel, 0, len(levels))
	for _, lvl := range levels {
		program, err := expr.Compile(lvl.Condition, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("punish: compile level %s: %w", lvl.Name, err)
		}
		compiled = append(compiled, compiledLevel{level: lvl, program: program})
	}
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].level.Level > compiled[j].level.Level
	})
	return &Evaluator{levels: compiled}, nil
}

// LoadFromFile reads a JSON array of model.PunishLevel from path and
// compiles it, the administrator-edited escalation ladder.
func LoadFromFile(path string) (*Evaluator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("punish: read %s: %w", path, err)
	}
	var levels []model.PunishLevel
	if err := json.Unmarshal(raw, &levels); err != nil {
		return nil, fmt.Errorf("punish: parse %s: %w", path, err)
	}
	return Load(levels)
}

// Evaluate returns the highest-level PunishLevel whose condition
// matches summary, or ok=false if none do.
func (e *Evaluator) Evaluate(summary model.IPSummary) (level model.PunishLevel, ok bool, err error) {
	env := Env{
		ScoreFixed:   summary.ScoreFixed,
		ScoreDynamic: summary.ScoreDynamic,
		ScoreFeature: summary.ScoreFeature,
		ScoreTotal:   summary.ScoreTotal,
		FeatureTags:  summary.FeatureTags,
	}
	for _, cl := range e.levels {
		out, runErr := expr.Run(cl.program, env)
		if runErr != nil {
			return model.PunishLevel{}, false, fmt.Errorf("punish: evaluate level %s: %w", cl.level.Name, runErr)
		}
		if matched, isBool := out.(bool); isBool && matched {
			return cl.level, true, nil
		}
	}
	return model.PunishLevel{}, false, nil
}
