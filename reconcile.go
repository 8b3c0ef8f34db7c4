// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"sort"

	"github.com/gogama/httpsync/request"
)

// A Set is a desired set of tracked requests, keyed by tracker id.
type Set map[string]*request.Descriptor

// NewSet builds a Set from tracked descriptors, keying each by its
// Tracker field. It returns an error if a descriptor is untracked or if
// two descriptors name the same tracker.
func NewSet(ds ...*request.Descriptor) (Set, error) {
	s := make(Set, len(ds))
	for _, d := range ds {
		if d == nil {
			continue
		}
		if !d.Tracked() {
			return nil, errUntracked
		}
		if _, dup := s[d.Tracker]; dup {
			return nil, &duplicateTrackerError{d.Tracker}
		}
		s[d.Tracker] = d
	}
	return s, nil
}

// A plan is the result of diffing the registry against a desired set.
//
// dead holds trackers whose operation must be canceled: those no longer
// desired and those whose descriptor changed. born holds trackers that
// need a new operation: those newly desired and, again, those whose
// descriptor changed. unchanged holds trackers left alone. All three
// are sorted.
type plan struct {
	dead      []string
	unchanged []string
	born      []string
}

// diff merges the sorted tracker ids of reg and desired in a single
// pass. Two descriptors for the same tracker are the same request when
// their fingerprints are equal.
func diff(reg registry, desired map[string]request.Fingerprint) plan {
	have := reg.ids()
	want := make([]string, 0, len(desired))
	for id := range desired {
		want = append(want, id)
	}
	sort.Strings(want)

	var p plan
	i, j := 0, 0
	for i < len(have) || j < len(want) {
		switch {
		case j >= len(want) || (i < len(have) && have[i] < want[j]):
			p.dead = append(p.dead, have[i])
			i++
		case i >= len(have) || want[j] < have[i]:
			p.born = append(p.born, want[j])
			j++
		default:
			id := have[i]
			if reg[id].fingerprint == desired[id] {
				p.unchanged = append(p.unchanged, id)
			} else {
				p.dead = append(p.dead, id)
				p.born = append(p.born, id)
			}
			i++
			j++
		}
	}
	return p
}
