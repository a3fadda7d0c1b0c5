// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Kind int

const (
	Config Kind = iota + 1
)

//go:embed schemas/*
var schemaFiles embed.FS

func load(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	// "embedfs://schemas/x.json" parses with "schemas" as the host, so
	// the embedded file name is host + path.
	return schemaFiles.Open(u.Host + u.Path)
}

func init() {
	// Loaders is keyed by the URL scheme as url.Parse returns it,
	// which is always lower case.
	jsonschema.Loaders["embedfs"] = load
}

// Validate checks r against the named embedded schema.
func Validate(k Kind, r io.Reader) error {
	var s *jsonschema.Schema
	var err error
	switch k {
	case Config:
		s, err = jsonschema.Compile("embedfs://schemas/config.schema.json")
	default:
		return fmt.Errorf("unknown schema kind")
	}
	if err != nil {
		return err
	}

	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%#v", err)
	}
	return nil
}
