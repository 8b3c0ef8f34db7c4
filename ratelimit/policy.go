// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package ratelimit

import (
	"strings"
	"time"
)

// A Policy decides which trackers are rate limited.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Cooldown returns the minimum spacing between the completion of
	// one request for tracker and the start of the next. A zero or
	// negative value means the tracker is not rate limited.
	Cooldown(tracker string) time.Duration
}

// The PolicyFunc type is an adapter to allow the use of ordinary
// functions as rate limiting policies.
type PolicyFunc func(tracker string) time.Duration

// Cooldown calls f(tracker).
func (f PolicyFunc) Cooldown(tracker string) time.Duration {
	return f(tracker)
}

// Disabled is a policy that limits no tracker.
var Disabled Policy = Uniform(0)

// Uniform constructs a policy that limits every tracker with the same
// cooldown.
func Uniform(cooldown time.Duration) Policy {
	return uniform(cooldown)
}

type uniform time.Duration

func (u uniform) Cooldown(_ string) time.Duration {
	return time.Duration(u)
}

// PerTracker constructs a policy that limits only the trackers named in
// m, each with its own cooldown. The map is copied.
func PerTracker(m map[string]time.Duration) Policy {
	c := make(perTracker, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

type perTracker map[string]time.Duration

func (p perTracker) Cooldown(tracker string) time.Duration {
	return p[tracker]
}

// Prefix constructs a policy that limits trackers whose id starts with
// prefix, and consults next for all other trackers. If next is nil,
// other trackers are not limited.
//
// Prefix policies chain naturally:
//
//	p := Prefix("search/", 300*time.Millisecond,
//		Prefix("autosave/", 2*time.Second, nil))
func Prefix(prefix string, cooldown time.Duration, next Policy) Policy {
	if next == nil {
		next = Disabled
	}
	return prefixPolicy{prefix: prefix, cooldown: cooldown, next: next}
}

type prefixPolicy struct {
	prefix   string
	cooldown time.Duration
	next     Policy
}

func (p prefixPolicy) Cooldown(tracker string) time.Duration {
	if strings.HasPrefix(tracker, p.prefix) {
		return p.cooldown
	}
	return p.next.Cooldown(tracker)
}
