// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package docstore

import "encoding/json"

// QueryList decodes every document under index as a T and returns them
// in key order. Used by components that need the full contents of an
// index (batch registry listings, punishment-level config, ...).
func QueryList[T any](s *Store, index string) ([]T, error) {
	var out []T
	err := s.GetAll(index, func(val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// GetTyped is a generic convenience wrapper over GetByID.
func GetTyped[T any](s *Store, index, id string) (T, error) {
	var v T
	err := s.GetByID(index, id, &v)
	return v, err
}

// ScanPrefixTyped decodes every document under index whose id starts
// with idPrefix as a T, discarding ids.
func ScanPrefixTyped[T any](s *Store, index, idPrefix string) ([]T, error) {
	var out []T
	err := s.ScanPrefix(index, idPrefix, func(_ string, val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}
