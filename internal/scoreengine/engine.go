// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scoreengine

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"github.com/sentinel-ops/sentinel/internal/model"
)

// compiledRule pairs a loaded rule definition with its compiled
// condition/formula trees, so every batch's scoring pass only pays
// the parse cost once per rule load, not once per IP.
type compiledRule struct {
	rule      model.ScoreRule
	condition Node
	formula   Node
}

// Engine holds the compiled rule set used by Score.
type Engine struct {
	rules []compiledRule
}

// Load compiles every enabled rule in rules, returning an error that
// names the offending rule if any condition or formula fails to
// parse. Disabled rules are kept out of Engine entirely so Score
// never has to re-check Enabled.
func Load(rules []model.ScoreRule) (*Engine, error) {
	var compiled []compiledRule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cond, err := Compile(r.Condition)
		if err != nil {
			return nil, &RuleError{RuleName: r.RuleName, Field: "condition", Err: err}
		}
		formula, err := Compile(r.Formula)
		if err != nil {
			return nil, &RuleError{RuleName: r.RuleName, Field: "formula", Err: err}
		}
		compiled = append(compiled, compiledRule{rule: r, condition: cond, formula: formula})
	}
	return &Engine{rules: compiled}, nil
}

// LoadFromFile reads a JSON array of model.ScoreRule from path and
// compiles it. An administrator edits this file directly; there is no
// admin UI for rule management in scope.
func LoadFromFile(path string) (*Engine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scoreengine: read %s: %w", path, err)
	}
	var rules []model.ScoreRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("scoreengine: parse %s: %w", path, err)
	}
	return Load(rules)
}

// RuleError names which rule and which field failed to compile.
type RuleError struct {
	RuleName string
	Field    string
	Err      error
}

func (e *RuleError) Error() string {
	return "scoreengine: rule " + e.RuleName + " " + e.Field + ": " + e.Err.Error()
}

func (e *RuleError) Unwrap() error { return e.Err }

// featuresToEnv flattens a behavior vector into the float64 map rule
// expressions are evaluated against, using the vector's JSON tags as
// variable names so rule authors reference the same names the
// aggregation stage documents.
func featuresToEnv(f model.AccessIPScoreFeatures) Env {
	env := make(Env)
	v := reflect.ValueOf(f)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" {
			continue
		}
		env[tag] = v.Field(i).Float()
	}
	return env
}

// Score evaluates every compiled rule's condition against features and,
// for each that matches, evaluates its formula and accumulates the
// result into the matching ScoreType bucket.
func (e *Engine) Score(ip, batchID string, features model.AccessIPScoreFeatures) (model.ScoreRecord, error) {
	env := featuresToEnv(features)
	rec := model.ScoreRecord{IP: ip, BatchID: batchID}

	for _, cr := range e.rules {
		condVal, err := evalNode(cr.condition, env)
		if err != nil {
			return rec, &RuleError{RuleName: cr.rule.RuleName, Field: "condition", Err: err}
		}
		matched, err := asBool(condVal)
		if err != nil {
			return rec, &RuleError{RuleName: cr.rule.RuleName, Field: "condition", Err: err}
		}
		if !matched {
			continue
		}

		formulaVal, err := evalNode(cr.formula, env)
		if err != nil {
			return rec, &RuleError{RuleName: cr.rule.RuleName, Field: "formula", Err: err}
		}
		score, err := asFloat(formulaVal)
		if err != nil {
			return rec, &RuleError{RuleName: cr.rule.RuleName, Field: "formula", Err: err}
		}

		switch cr.rule.ScoreType {
		case model.ScoreFixed:
			rec.ScoreFixed += score
		case model.ScoreDynamic:
			rec.ScoreDynamic += score
		case model.ScoreFeature:
			rec.ScoreFeature += score
		}
		rec.Details = append(rec.Details, model.ScoreDetail{
			RuleName:    cr.rule.RuleName,
			ScoreType:   cr.rule.ScoreType,
			Score:       score,
			Description: cr.rule.Description,
		})
	}
	return rec, nil
}
