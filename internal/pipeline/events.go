// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline

import (
	"encoding/json"

	"github.com/sentinel-ops/sentinel/pkg/log"
	natsclient "github.com/sentinel-ops/sentinel/pkg/nats"
)

const (
	subjectCollectEvents = "sentinel.collect"
	subjectPunishEvents  = "sentinel.punish"
)

// publishEvent marshals payload and fans it out over the optional NATS
// connection. With no broker address configured, this is a silent
// no-op: every stage's own correctness never depends on delivery.
func publishEvent(subject string, payload any) {
	if natsclient.Keys.Address == "" {
		return
	}
	client := natsclient.GetClient()
	if client == nil {
		return
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		log.Warnf("pipeline: marshal event for %s: %v", subject, err)
		return
	}
	if err := client.Publish(subject, buf); err != nil {
		log.Warnf("pipeline: publish event to %s: %v", subject, err)
	}
}
