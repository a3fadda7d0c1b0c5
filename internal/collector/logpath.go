// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package collector

import (
	"regexp"
	"time"
)

var templateVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveLogPath expands ${...} placeholders in a templated log path
// as Go reference-time layouts (time.Format), e.g.
// "/var/log/nginx/access-${2006-01-02}.log" becomes today's path.
// strftime "%" directives are not interpreted. This
// lets one config entry name a daily-rotated file family instead of a
// single static path.
func ResolveLogPath(template string, at time.Time) string {
	return templateVar.ReplaceAllStringFunc(template, func(match string) string {
		layout := templateVar.FindStringSubmatch(match)[1]
		return at.Format(layout)
	})
}
