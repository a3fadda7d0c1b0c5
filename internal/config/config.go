// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates sentineld's configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/sentinel-ops/sentinel/pkg/log"
)

type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	StaticPath string `json:"static_path,omitempty"`
}

type NginxConfig struct {
	LogPathTemplate string `json:"log_path_template"`
	BatchSize       int    `json:"batch_size"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type DocumentStoreConfig struct {
	Dir string `json:"dir"`
}

type GeoIPConfig struct {
	DataPath string `json:"data_path"`
	Locale   string `json:"locale"`
}

type ScoringConfig struct {
	RulesPath string `json:"rules_path"`
}

// ControllerConfig points at the adaptive controller's persisted
// sidecar file.
type ControllerConfig struct {
	StatePath string `json:"state_path"`
}

// PunishConfig points at the escalation-level rule file consumed by
// internal/punish. The daemon only records punishment decisions; an
// external enforcer executes them.
type PunishConfig struct {
	RulesPath string `json:"rules_path"`
}

// MaintenanceConfig controls the daily retention sweep.
type MaintenanceConfig struct {
	RecordKeepDays int `json:"record_keep_days"`
}

type EventsConfig struct {
	Address       string `json:"address,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds_file_path,omitempty"`
}

// ProcessConfig names the unprivileged user/group sentineld should
// drop to once it has opened whatever privileged resources it needs
// (a log directory readable only by root/adm, a low port). Empty
// fields mean "keep running as the user that started the process".
type ProcessConfig struct {
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

// CronConfig overrides the per-stage schedules. The collector has no
// entry here: its cadence is owned by the adaptive controller's
// persisted interval, not a fixed cron.
type CronConfig struct {
	AggregatorCron string `json:"aggregator_cron"`
	ScoreCron      string `json:"score_cron"`
	PunishCron     string `json:"punish_cron"`
	DailyCron      string `json:"daily_cron"`
}

// ProgramConfig is the root of sentineld's configuration file.
type ProgramConfig struct {
	Server        ServerConfig        `json:"server"`
	Nginx         NginxConfig         `json:"nginx"`
	Database      DatabaseConfig      `json:"database"`
	DocumentStore DocumentStoreConfig `json:"documentstore"`
	GeoIP         GeoIPConfig         `json:"geoip"`
	Scoring       ScoringConfig       `json:"scoring"`
	Controller    ControllerConfig    `json:"controller"`
	Punish        PunishConfig        `json:"punish"`
	Maintenance   MaintenanceConfig   `json:"maintenance"`
	Events        EventsConfig        `json:"events"`
	Process       ProcessConfig       `json:"process"`
	Cron          CronConfig          `json:"cron"`
}

// Keys holds the effective configuration after Init runs.
var Keys = ProgramConfig{
	Server: ServerConfig{
		Host: "127.0.0.1",
		Port: 8090,
	},
	Nginx: NginxConfig{
		LogPathTemplate: "/var/log/nginx/access-${2006-01-02}.log",
		BatchSize:       1000,
	},
	Database: DatabaseConfig{
		Driver: "sqlite3",
		DSN:    "./var/sentinel.db",
	},
	DocumentStore: DocumentStoreConfig{
		Dir: "./var/docstore",
	},
	GeoIP: GeoIPConfig{
		DataPath: "./var/GeoLite2-City.mmdb",
		Locale:   "en",
	},
	Scoring: ScoringConfig{
		RulesPath: "./var/score_rules.json",
	},
	Controller: ControllerConfig{
		StatePath: "./var/controller_state.json",
	},
	Punish: PunishConfig{
		RulesPath: "./var/punish_levels.json",
	},
	Maintenance: MaintenanceConfig{
		RecordKeepDays: 7,
	},
	Cron: CronConfig{
		AggregatorCron: "1-59/5 * * * *",
		ScoreCron:      "2-59/5 * * * *",
		PunishCron:     "3-59/5 * * * *",
		DailyCron:      "30 0 * * *",
	},
}

// Init reads flagConfigFile, validating it against the embedded JSON
// schema before decoding it over the defaults in Keys. A missing file
// is not an error: the defaults above are a complete, runnable
// configuration on their own.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatal(err)
		}
		return
	}

	if err := Validate(Config, bytes.NewReader(raw)); err != nil {
		log.Fatalf("validate config: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Fatal(err)
	}
}
