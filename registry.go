// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"sort"

	"github.com/gogama/httpsync/request"
)

// An entry is the registry record of one tracker.
//
// For a tracker the rate limiter manages, op and cancel are unused and
// the limiter owns the running operation; the entry still holds the
// latest desired descriptor so that reconciliation can diff against it.
type entry struct {
	tracker     string
	fingerprint request.Fingerprint
	descriptor  *request.Descriptor
	op          string
	cancel      func()
	limited     bool
	finished    bool
}

// registry maps tracker ids to entries. There is at most one entry per
// tracker.
type registry map[string]*entry

// ids returns the registry's tracker ids in sorted order.
func (reg registry) ids() []string {
	ids := make([]string, 0, len(reg))
	for id := range reg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// live reports whether op is the live operation of tracker.
func (reg registry) live(tracker, op string) (*entry, bool) {
	e := reg[tracker]
	if e == nil || e.limited || e.finished || e.op != op {
		return e, false
	}
	return e, true
}
