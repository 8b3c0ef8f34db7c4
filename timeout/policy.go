// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"time"

	"github.com/gogama/httpsync/request"
)

// A Policy defines a timeout policy which may be plugged into the HTTP
// transport (httpsync.HTTPTransport) to direct how long an exchange
// may take.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Timeout returns the timeout to set on the exchange described by
	// d. The return value must be positive.
	Timeout(d *request.Descriptor) time.Duration
}

// Infinite is a built-in timeout policy which never times out.
var Infinite Policy = Fixed(1<<63 - 1)

// DefaultPolicy is the default timeout policy. It uses the timeout set
// on the descriptor and never times out descriptors that set none.
var DefaultPolicy Policy = Descriptor(Infinite)

// Fixed constructs a timeout policy that uses the same value for every
// exchange, ignoring the descriptor's own timeout.
func Fixed(d time.Duration) Policy {
	if d <= 0 {
		panic("httpsync/timeout: timeout must be positive")
	}
	return fixed(d)
}

type fixed time.Duration

func (p fixed) Timeout(_ *request.Descriptor) time.Duration {
	return time.Duration(p)
}

// Descriptor constructs a timeout policy that honors the descriptor's
// Timeout field when it is set, and otherwise consults fallback.
func Descriptor(fallback Policy) Policy {
	if fallback == nil {
		panic("httpsync/timeout: nil fallback")
	}
	return descriptor{fallback}
}

type descriptor struct {
	fallback Policy
}

func (p descriptor) Timeout(d *request.Descriptor) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return p.fallback.Timeout(d)
}

// Capped constructs a timeout policy that returns the lesser of max and
// the timeout chosen by p.
//
// Use Capped to protect an application from descriptors asking for
// unreasonably long timeouts:
//
//	p := Capped(Descriptor(Fixed(10*time.Second)), time.Minute)
//
// The policy p uses the descriptor's timeout, or 10 seconds if the
// descriptor sets none, but never more than one minute.
func Capped(p Policy, max time.Duration) Policy {
	if p == nil {
		panic("httpsync/timeout: nil policy")
	}
	if max <= 0 {
		panic("httpsync/timeout: max must be positive")
	}
	return capped{p, max}
}

type capped struct {
	p   Policy
	max time.Duration
}

func (c capped) Timeout(d *request.Descriptor) time.Duration {
	t := c.p.Timeout(d)
	if t > c.max {
		return c.max
	}
	return t
}
