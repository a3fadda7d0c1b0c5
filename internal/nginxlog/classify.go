// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package nginxlog

import (
	"path"
	"strings"

	"github.com/sentinel-ops/sentinel/internal/model"
)

var staticExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".svg": {}, ".ico": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".map": {},
	".webp": {}, ".mp4": {}, ".pdf": {}, ".json": {},
}

var pagePrefixes = []string{"/page", "/article", "/post", "/view"}

// Classify buckets a request path into static asset, content page, or
// everything else ("normal", which in practice is API/RPC traffic).
func Classify(p string) model.PathType {
	ext := strings.ToLower(path.Ext(p))
	if _, ok := staticExtensions[ext]; ok {
		return model.PathStatic
	}
	for _, prefix := range pagePrefixes {
		if strings.HasPrefix(p, prefix) {
			return model.PathPage
		}
	}
	return model.PathNormal
}
