// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package geoip resolves an IP address to city/country/continent
// names using a local MaxMind GeoLite2-City database.
package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/sentinel-ops/sentinel/internal/model"
)

// Lookup wraps a geoip2.Reader to produce model.IPEnrich fragments.
type Lookup struct {
	reader *geoip2.Reader
	locale string
}

// Open opens the MMDB file at path. locale selects which localized
// name set is read from the database ("en" by default); the database
// ships several locales, so this is a config knob rather than a
// constant.
func Open(path, locale string) (*Lookup, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	if locale == "" {
		locale = "en"
	}
	return &Lookup{reader: reader, locale: locale}, nil
}

func (l *Lookup) Close() error {
	return l.reader.Close()
}

// City resolves ip, leaving an empty model.IPEnrich if it cannot be
// found (private ranges, reserved blocks, no match in the database).
func (l *Lookup) City(ip string) model.IPEnrich {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return model.IPEnrich{}
	}
	record, err := l.reader.City(parsed)
	if err != nil || record == nil {
		return model.IPEnrich{}
	}
	return model.IPEnrich{
		CityName:      record.City.Names[l.locale],
		CountryName:   record.Country.Names[l.locale],
		CountryCode:   record.Country.IsoCode,
		ContinentName: record.Continent.Names[l.locale],
		ContinentCode: record.Continent.Code,
	}
}
