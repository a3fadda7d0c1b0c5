// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetKeys(t *testing.T) {
	t.Helper()
	original := Keys
	t.Cleanup(func() { Keys = original })
}

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	resetKeys(t)
	Init(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Equal(t, 8090, Keys.Server.Port)
	assert.Equal(t, "sqlite3", Keys.Database.Driver)
}

func TestInitOverridesOnlyProvidedFields(t *testing.T) {
	resetKeys(t)
	path := filepath.Join(t.TempDir(), "sentinel.json")
	content := `{"server":{"port":9999},"nginx":{"batch_size":500}}`
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(os.WriteFile(path, []byte(content), 0o644))

	Init(path)
	assert.Equal(t, 9999, Keys.Server.Port)
	assert.Equal(t, 500, Keys.Nginx.BatchSize)
	assert.Equal(t, "./var/sentinel.db", Keys.Database.DSN, "unspecified fields must retain their default")
}
