// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/sentinel-ops/sentinel/pkg/log"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens the relational store used for offset bookkeeping and
// task-scheduler state. Only sqlite3 is supported: this process is a
// single daemon with one writer, so the extra operational surface of
// a network database buys nothing here.
func Connect(driver string, db string) {
	var err error
	var dbHandle *sqlx.DB

	dbConnOnce.Do(func() {
		if driver != "sqlite3" {
			log.Fatalf("unsupported database driver: %s", driver)
		}

		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
		dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", db))
		if err != nil {
			log.Fatal(err)
		}

		// sqlite does not multithread. Having more than one connection open would just mean
		// waiting for locks.
		dbHandle.SetMaxOpenConns(1)

		dbConnInstance = &DBConnection{DB: dbHandle}
		checkDBVersion(driver, dbHandle.DB)
	})
}

func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatalf("Database connection not initialized!")
	}

	return dbConnInstance
}
