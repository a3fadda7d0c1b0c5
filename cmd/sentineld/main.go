// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command sentineld is the always-on nginx access-log ingestion,
// aggregation and scoring daemon: it tails the active log file,
// aggregates and scores each 5-minute batch, rolls the result into a
// per-IP summary, and decides punishment escalations, all on cron
// triggers driven by internal/taskmanager.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sentinel-ops/sentinel/internal/aggregator"
	"github.com/sentinel-ops/sentinel/internal/batchregistry"
	"github.com/sentinel-ops/sentinel/internal/config"
	"github.com/sentinel-ops/sentinel/internal/controller"
	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/geoip"
	"github.com/sentinel-ops/sentinel/internal/maintenance"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/pipeline"
	"github.com/sentinel-ops/sentinel/internal/punish"
	"github.com/sentinel-ops/sentinel/internal/repository"
	"github.com/sentinel-ops/sentinel/internal/runtimeEnv"
	"github.com/sentinel-ops/sentinel/internal/scoreengine"
	"github.com/sentinel-ops/sentinel/internal/taskmanager"
	"github.com/sentinel-ops/sentinel/pkg/log"
	natsclient "github.com/sentinel-ops/sentinel/pkg/nats"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	var flagConfigFile, flagLogLevel string
	var flagMigrateDB bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default configuration with the options in `config.json`")
	flag.BoolVar(&flagMigrateDB, "migrate-db", false, "Run any pending database migrations and exit")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Sets the logging level: `[debug, info, notice, warn, err, crit]`")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	config.Init(flagConfigFile)

	if flagMigrateDB {
		repository.MigrateDB(config.Keys.Database.Driver, config.Keys.Database.DSN)
		return
	}

	repository.Connect(config.Keys.Database.Driver, config.Keys.Database.DSN)
	db := repository.GetConnection()

	store, err := docstore.Open(config.Keys.DocumentStore.Dir)
	if err != nil {
		log.Fatalf("open document store: %s", err.Error())
	}
	defer store.Close()

	geo, err := geoip.Open(config.Keys.GeoIP.DataPath, config.Keys.GeoIP.Locale)
	if err != nil {
		log.Fatalf("open geoip database: %s", err.Error())
	}
	defer geo.Close()

	allowed, err := aggregator.LoadAllowedSegments(store)
	if err != nil {
		log.Fatalf("load allowed ip segments: %s", err.Error())
	}

	engine, err := scoreengine.LoadFromFile(config.Keys.Scoring.RulesPath)
	if err != nil {
		log.Fatalf("load scoring rules: %s", err.Error())
	}

	evaluator, err := punish.LoadFromFile(config.Keys.Punish.RulesPath)
	if err != nil {
		log.Fatalf("load punishment levels: %s", err.Error())
	}

	adaptive, err := controller.Load(config.Keys.Controller.StatePath)
	if err != nil {
		log.Fatalf("load controller state: %s", err.Error())
	}

	// Every resource that needs elevated permissions - the relational
	// store, the document store directory, the GeoIP database - is open
	// by now. Drop to an unprivileged user/group before the collector
	// starts tailing the nginx log directory on a cron tick.
	if err := runtimeEnv.DropPrivileges(config.Keys.Process.User, config.Keys.Process.Group); err != nil {
		log.Fatalf("drop privileges: %s", err.Error())
	}

	natsclient.Init(natsclient.NatsConfig(config.Keys.Events))
	natsclient.Connect()

	go metrics.Serve(fmt.Sprintf("%s:%d", config.Keys.Server.Host, config.Keys.Server.Port))

	registry := batchregistry.New(store)

	collectStage := &pipeline.Collector{
		Store:        store,
		Registry:     registry,
		DB:           db,
		Adaptive:     adaptive,
		PathTemplate: config.Keys.Nginx.LogPathTemplate,
		BatchSize:    config.Keys.Nginx.BatchSize,
	}
	aggregateStage := &pipeline.Aggregator{
		Store:    store,
		Registry: registry,
		Allowed:  allowed,
		Geo:      geo,
	}
	scoreStage := &pipeline.Scorer{
		Store:    store,
		Registry: registry,
		Engine:   engine,
	}
	summarizeStage := &pipeline.Summarizer{
		Store:    store,
		Registry: registry,
	}
	punishStage := &pipeline.Punisher{
		Store:     store,
		Evaluator: evaluator,
	}
	sweeper := &maintenance.Sweeper{
		Store:    store,
		Registry: registry,
	}

	tasks := []taskmanager.Task{
		taskmanager.NewTask("log_aggregator", "aggregator", "fold COLLECTED batches into access_ip_aggregation_*", config.Keys.Cron.AggregatorCron, aggregateStage.Aggregate),
		taskmanager.NewTask("score_task", "score", "evaluate AGGREGATED batches into score_record_*", config.Keys.Cron.ScoreCron, scoreStage.Score),
		// One cron slot for summarize + punish, staggered one minute
		// behind scoring so it always sees freshly SCORED batches.
		taskmanager.NewTask("punish_task", "summarize and punish", "merge SCORED batches into ip_summary, decide punishment escalations", config.Keys.Cron.PunishCron, func(ctx context.Context) error {
			if err := summarizeStage.Summarize(ctx); err != nil {
				return err
			}
			return punishStage.Punish(ctx)
		}),
		taskmanager.NewTask("daily_task", "daily maintenance", "drop indices/records older than record_keep_days", config.Keys.Cron.DailyCron, func(context.Context) error {
			return sweeper.Run(config.Keys.Maintenance.RecordKeepDays)
		}),
		taskmanager.NewTask("reap_task", "stuck batch reaper", "reset batches stuck in a transient *ING state", config.Keys.Cron.AggregatorCron, func(ctx context.Context) error {
			_, err := registry.ReapStuck(ctx)
			return err
		}),
	}

	if err := taskmanager.Start(db, tasks); err != nil {
		log.Fatalf("start task manager: %s", err.Error())
	}

	if err := taskmanager.RegisterAdaptive("log_collector", "collector", "tail the active nginx access log",
		adaptive.InitialInterval(), collectStage.Collect); err != nil {
		log.Fatalf("register collector task: %s", err.Error())
	}

	runtimeEnv.SystemdNotifiy(true, "running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	runtimeEnv.SystemdNotifiy(false, "shutting down")
	taskmanager.Shutdown()
	if client := natsclient.GetClient(); client != nil {
		client.Close()
	}
	log.Print("graceful shutdown completed")
}
