// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package ratelimit

import (
	"sort"
	"time"

	"github.com/gogama/httpsync/request"
)

// A State is the rate limiting state of one tracker.
type State int

const (
	// Idle means no request is running or pending and the tracker is
	// not cooling down.
	Idle State = iota
	// Running means one request is in flight and none is pending.
	Running
	// Cooldown means the last request completed less than the cooldown
	// ago and nothing is pending.
	Cooldown
	// PendingReplace means a descriptor is queued, either behind a
	// running request or behind the cooldown.
	PendingReplace
)

var stateNames = []string{"Idle", "Running", "Cooldown", "PendingReplace"}

// String returns the name of the state.
func (s State) String() string {
	if s < Idle || int(s) >= len(stateNames) {
		return "State(?)"
	}
	return stateNames[s]
}

// A Handle identifies a started request and lets it be canceled.
type Handle struct {
	// ID uniquely identifies the started request.
	ID string
	// Cancel cancels the request. It must be idempotent and safe to
	// call after the request has completed.
	Cancel func()
}

// A Timer is an armed cooldown expiry timer.
type Timer interface {
	Stop() bool
}

// Effects carries out the side effects a Limiter decides on. The
// Limiter calls Effects synchronously from within its own methods.
type Effects interface {
	// Start starts a request for tracker and returns its handle.
	Start(tracker string, d *request.Descriptor) Handle
	// Arm arms a one-shot timer. When it fires, the owner must call
	// Limiter.Expire(tracker, gen).
	Arm(tracker string, gen uint64, after time.Duration) Timer
	// Waiting reports that superseded, which was pending for tracker,
	// has been coalesced away without ever being started.
	Waiting(tracker string, superseded *request.Descriptor)
}

// A Slot is a read-only snapshot of one tracker's rate limiting state.
type Slot struct {
	Tracker        string
	State          State
	Cooldown       time.Duration
	Running        string
	Pending        bool
	LastCompletion time.Time
	CooldownUntil  time.Time
}

type slot struct {
	cooldown       time.Duration
	cooldownUntil  time.Time
	lastCompletion time.Time
	running        *Handle
	runningFP      request.Fingerprint
	pending        *request.Descriptor
	timer          Timer
	timerGen       uint64
}

func (s *slot) state() State {
	switch {
	case s.pending != nil:
		return PendingReplace
	case s.running != nil:
		return Running
	case s.timer != nil:
		return Cooldown
	default:
		return Idle
	}
}

// A Limiter holds the rate limiting state of every limited tracker. It
// is not safe for concurrent use: a single goroutine must own it.
type Limiter struct {
	policy  Policy
	effects Effects
	now     func() time.Time
	slots   map[string]*slot
	gen     uint64
}

// New creates a Limiter. If now is nil, time.Now is used.
func New(p Policy, e Effects, now func() time.Time) *Limiter {
	if p == nil {
		panic("httpsync/ratelimit: nil policy")
	}
	if e == nil {
		panic("httpsync/ratelimit: nil effects")
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		policy:  p,
		effects: e,
		now:     now,
		slots:   make(map[string]*slot),
	}
}

// Limited reports whether the policy rate limits tracker. A tracker
// that already has a slot stays limited until it is canceled.
func (l *Limiter) Limited(tracker string) bool {
	if _, ok := l.slots[tracker]; ok {
		return true
	}
	return l.policy.Cooldown(tracker) > 0
}

// Submit delivers the latest desired descriptor for tracker.
//
// If the tracker is idle the request starts immediately. If a request
// is running, or the tracker is cooling down, d becomes the pending
// descriptor, replacing (and reporting as Waiting) any previous one. If
// d is the same request as the one running, the pending descriptor is
// just dropped, since the running request already represents the
// latest desired state.
func (l *Limiter) Submit(tracker string, d *request.Descriptor) {
	s := l.slots[tracker]
	if s == nil {
		s = &slot{cooldown: l.policy.Cooldown(tracker)}
		l.slots[tracker] = s
	}
	switch {
	case s.running != nil:
		l.supersede(tracker, s)
		if d.Fingerprint() != s.runningFP {
			s.pending = d
		}
	case s.timer != nil:
		l.supersede(tracker, s)
		s.pending = d
	default:
		l.start(tracker, s, d)
	}
}

// Complete records that the running request with the given id finished,
// successfully or not. It returns false, and does nothing, if id is not
// the tracker's running request.
func (l *Limiter) Complete(tracker, id string) bool {
	s := l.slots[tracker]
	if s == nil || s.running == nil || s.running.ID != id {
		return false
	}
	now := l.now()
	s.running = nil
	s.runningFP = request.Fingerprint{}
	s.lastCompletion = now
	if d := s.pending; d != nil {
		s.pending = nil
		l.start(tracker, s, d)
		return true
	}
	s.cooldownUntil = now.Add(s.cooldown)
	l.arm(tracker, s, s.cooldown)
	return true
}

// Expire handles the firing of the timer armed with generation gen. It
// returns false, and does nothing, if that timer is no longer armed.
func (l *Limiter) Expire(tracker string, gen uint64) bool {
	s := l.slots[tracker]
	if s == nil || s.timer == nil || s.timerGen != gen {
		return false
	}
	s.timer = nil
	if d := s.pending; d != nil {
		s.pending = nil
		l.start(tracker, s, d)
	}
	return true
}

// Cancel tears tracker down from any state: the pending descriptor is
// discarded, the running request is canceled, and the timer is
// disarmed. It returns false if the tracker had no slot.
func (l *Limiter) Cancel(tracker string) bool {
	s := l.slots[tracker]
	if s == nil {
		return false
	}
	delete(l.slots, tracker)
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.running != nil {
		h := s.running
		s.running = nil
		h.Cancel()
	}
	return true
}

// CancelAll tears down every tracker.
func (l *Limiter) CancelAll() {
	for _, tracker := range l.Trackers() {
		l.Cancel(tracker)
	}
}

// Live reports whether id is the running request of tracker.
func (l *Limiter) Live(tracker, id string) bool {
	s := l.slots[tracker]
	return s != nil && s.running != nil && s.running.ID == id
}

// State returns the state of tracker. Trackers without a slot are
// Idle.
func (l *Limiter) State(tracker string) State {
	s := l.slots[tracker]
	if s == nil {
		return Idle
	}
	return s.state()
}

// Snapshot returns the state of tracker, and false if it has no slot.
func (l *Limiter) Snapshot(tracker string) (Slot, bool) {
	s := l.slots[tracker]
	if s == nil {
		return Slot{}, false
	}
	snap := Slot{
		Tracker:        tracker,
		State:          s.state(),
		Cooldown:       s.cooldown,
		Pending:        s.pending != nil,
		LastCompletion: s.lastCompletion,
		CooldownUntil:  s.cooldownUntil,
	}
	if s.running != nil {
		snap.Running = s.running.ID
	}
	return snap, true
}

// Trackers returns the sorted ids of all trackers with a slot.
func (l *Limiter) Trackers() []string {
	ids := make([]string, 0, len(l.slots))
	for id := range l.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Limiter) start(tracker string, s *slot, d *request.Descriptor) {
	h := l.effects.Start(tracker, d)
	s.running = &h
	s.runningFP = d.Fingerprint()
}

func (l *Limiter) arm(tracker string, s *slot, after time.Duration) {
	l.gen++
	s.timerGen = l.gen
	s.timer = l.effects.Arm(tracker, l.gen, after)
}

func (l *Limiter) supersede(tracker string, s *slot) {
	if s.pending == nil {
		return
	}
	d := s.pending
	s.pending = nil
	l.effects.Waiting(tracker, d)
}
