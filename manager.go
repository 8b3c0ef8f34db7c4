// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/httpsync/ratelimit"
	"github.com/gogama/httpsync/request"
	"github.com/rs/zerolog"
)

// A Manager keeps the set of in-flight HTTP requests in line with the
// set an application declares, relays request progress to subscribers,
// and rate limits trackers. Its zero value is a valid configuration.
//
// The zero value manager uses an HTTPTransport with default settings,
// applies no rate limiting, runs no event handlers, and logs nothing.
//
// All of the Manager's state is owned by a single control loop
// goroutine, started by Run. The other methods submit commands to the
// loop and wait for it to execute them, so they are safe for concurrent
// use by multiple goroutines. They block until Run has been called, and
// return ErrClosed once Run has returned.
//
// Subscribers and handlers are invoked on the control loop goroutine.
// They must never call the Manager's methods synchronously, since that
// would deadlock the loop.
//
// The configuration fields must not be changed after Run is called.
type Manager struct {
	// Transport performs the HTTP exchanges.
	//
	// If Transport is nil, a zero value HTTPTransport is used.
	Transport Transport
	// RateLimit decides which trackers are rate limited and with what
	// cooldown.
	//
	// If RateLimit is nil, ratelimit.Disabled is used.
	RateLimit ratelimit.Policy
	// Handlers allows custom handler chains to be invoked when
	// lifecycle events occur in the control loop.
	//
	// If Handlers is nil, no custom handlers will be run.
	Handlers *HandlerGroup
	// Logger receives structured debug logs from the control loop.
	//
	// If Logger is nil, nothing is logged.
	Logger *zerolog.Logger
	// Clock tells the time for rate limiting bookkeeping.
	//
	// If Clock is nil, time.Now is used. Cooldown timers always run on
	// real time.
	Clock func() time.Time

	initOnce sync.Once
	started  atomic.Bool
	commands chan func(*loop)
	done     chan struct{}
}

// Run runs the control loop until ctx is canceled, then cancels every
// in-flight request and returns ctx.Err(). Run may only be called once
// on each Manager; later calls return ErrRunning.
func (m *Manager) Run(ctx context.Context) error {
	if ctx == nil {
		panic("httpsync: nil context")
	}
	m.init()
	if !m.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(m.done)
	return newLoop(m).run(ctx)
}

// Update reconciles the in-flight requests with desired, the complete
// set of tracked requests the application currently wants.
//
// Trackers that are no longer desired, or whose descriptor changed,
// have their request canceled. Trackers that are newly desired, or
// whose descriptor changed, get a new request. Trackers whose
// descriptor is unchanged are left alone, whether their request is
// still running or has already completed, so calling Update repeatedly
// with the same set never repeats a request. All cancellations happen
// before any new request starts.
//
// The map key is the tracker id. A descriptor whose Tracker field
// differs from its key is started as a copy whose Tracker is the key,
// so the transport and handlers always see the reconciled id. Nil
// descriptors are ignored. Update
// returns after the reconciliation has been carried out.
func (m *Manager) Update(ctx context.Context, desired Set) error {
	return m.exec(ctx, func(l *loop) {
		l.reconcile(desired)
	})
}

// Subscribe registers s to receive the progress events of tracker. The
// tracker need not be desired yet. Events that occurred before the
// subscription are not replayed.
func (m *Manager) Subscribe(ctx context.Context, tracker string, s Subscriber) (SubscriptionID, error) {
	if s == nil {
		panic("httpsync: nil subscriber")
	}
	var id SubscriptionID
	err := m.exec(ctx, func(l *loop) {
		id = l.subs.add(tracker, s)
	})
	return id, err
}

// Unsubscribe removes the subscription with the given id. Events that
// arrive afterwards for a tracker with no remaining subscribers are
// dropped. Unsubscribing an unknown id does nothing.
func (m *Manager) Unsubscribe(ctx context.Context, id SubscriptionID) error {
	return m.exec(ctx, func(l *loop) {
		l.subs.remove(id)
	})
}

// Send fires an untracked request. Nothing can cancel it short of
// stopping the Manager. If s is not nil it receives the request's
// progress events, with an empty tracker id.
func (m *Manager) Send(ctx context.Context, d *request.Descriptor, s Subscriber) error {
	if d == nil {
		panic("httpsync: nil descriptor")
	}
	if d.Tracked() {
		return errTracked
	}
	return m.exec(ctx, func(l *loop) {
		l.send(d, s)
	})
}

// Inspect returns a snapshot of the control loop's state.
func (m *Manager) Inspect(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.exec(ctx, func(l *loop) {
		snap = l.snapshot()
	})
	return snap, err
}

func (m *Manager) init() {
	m.initOnce.Do(func() {
		m.commands = make(chan func(*loop))
		m.done = make(chan struct{})
	})
}

// exec hands f to the control loop and waits until it has run.
func (m *Manager) exec(ctx context.Context, f func(*loop)) error {
	if ctx == nil {
		panic("httpsync: nil context")
	}
	m.init()
	ran := make(chan struct{})
	cmd := func(l *loop) {
		defer close(ran)
		f(l)
	}
	select {
	case m.commands <- cmd:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

func (m *Manager) transport() Transport {
	if m.Transport == nil {
		return &HTTPTransport{}
	}

	return m.Transport
}

func (m *Manager) rateLimit() ratelimit.Policy {
	if m.RateLimit == nil {
		return ratelimit.Disabled
	}

	return m.RateLimit
}

func (m *Manager) handlers() *HandlerGroup {
	if m.Handlers == nil {
		return &emptyHandlers
	}

	return m.Handlers
}

func (m *Manager) logger() *zerolog.Logger {
	if m.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}

	return m.Logger
}

var emptyHandlers = HandlerGroup{}

// A Snapshot describes the state of the control loop at one instant.
type Snapshot struct {
	// Trackers holds one entry per tracker in the registry, sorted by
	// tracker id.
	Trackers []TrackerState
	// InFlight is the number of operations started and not yet
	// completed or canceled, tracked and untracked.
	InFlight int
	// Untracked is the number of in-flight untracked operations.
	Untracked int
}

// A TrackerState describes one registry entry.
type TrackerState struct {
	Tracker     string
	Fingerprint request.Fingerprint
	// Operation is the id of the tracker's live operation, or empty if
	// it has none.
	Operation string
	// Finished is true once the request for the current descriptor has
	// completed.
	Finished bool
	// Subscribers is the number of subscriptions to the tracker.
	Subscribers int
	// Limit is the rate limiting state, or nil if the tracker is not
	// rate limited.
	Limit *ratelimit.Slot
}
