// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregator

import (
	"net"
	"net/netip"

	"github.com/sentinel-ops/sentinel/internal/docstore"
	"github.com/sentinel-ops/sentinel/internal/model"
)

const allowedSegmentIndex = "allowed_ip_segment"

// AllowedSegments implements AllowedLookup against the document
// store's allowed_ip_segment index, answering the range query
// (start_ip <= ip <= end_ip) by scanning in memory the whole (small,
// administrator-maintained) segment list that LoadAllowedSegments read.
// Segments added to the store afterwards are not seen until it is
// called again.
type AllowedSegments struct {
	segments []model.AllowedIPSegment
}

// LoadAllowedSegments reads every configured segment from the store.
func LoadAllowedSegments(store *docstore.Store) (*AllowedSegments, error) {
	segs, err := docstore.QueryList[model.AllowedIPSegment](store, allowedSegmentIndex)
	if err != nil {
		return nil, err
	}
	return &AllowedSegments{segments: segs}, nil
}

// Lookup reports the first configured segment containing ip; when
// ranges overlap, the first match wins.
func (a *AllowedSegments) Lookup(ip string) (model.AllowedIPSegment, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return model.AllowedIPSegment{}, false
	}
	for _, seg := range a.segments {
		if ipInRange(addr, seg.StartIP, seg.EndIP) {
			return seg, true
		}
	}
	return model.AllowedIPSegment{}, false
}

func ipInRange(addr netip.Addr, startStr, endStr string) bool {
	start := net.ParseIP(startStr)
	end := net.ParseIP(endStr)
	if start == nil || end == nil {
		return false
	}
	target := net.ParseIP(addr.String())
	if target == nil {
		return false
	}
	return bytesCompare(target, start) >= 0 && bytesCompare(target, end) <= 0
}

// bytesCompare compares two net.IP values as big-endian byte strings
// after normalizing both to the same (4 or 16 byte) representation.
func bytesCompare(a, b net.IP) int {
	a4, b4 := a.To4(), b.To4()
	var av, bv []byte
	if a4 != nil && b4 != nil {
		av, bv = a4, b4
	} else {
		av, bv = a.To16(), b.To16()
	}
	if av == nil || bv == nil || len(av) != len(bv) {
		return 0
	}
	for i := range av {
		if av[i] != bv[i] {
			if av[i] < bv[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
