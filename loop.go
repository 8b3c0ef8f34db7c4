// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"context"
	"sort"
	"time"

	"github.com/gogama/httpsync/ratelimit"
	"github.com/gogama/httpsync/request"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// operation is the loop's record of one started exchange.
type operation struct {
	tracker    string
	descriptor *request.Descriptor
	subscriber Subscriber
	cancel     func()
}

// loop holds the state owned by the control loop goroutine. None of it
// is touched from any other goroutine.
type loop struct {
	transport Transport
	handlers  *HandlerGroup
	log       *zerolog.Logger
	commands  <-chan func(*loop)
	box       *mailbox
	reg       registry
	ops       map[string]*operation
	subs      *relay
	limiter   *ratelimit.Limiter
}

func newLoop(m *Manager) *loop {
	l := &loop{
		transport: m.transport(),
		handlers:  m.handlers(),
		log:       m.logger(),
		commands:  m.commands,
		box:       newMailbox(),
		reg:       make(registry),
		ops:       make(map[string]*operation),
		subs:      newRelay(),
	}
	l.limiter = ratelimit.New(m.rateLimit(), limiterEffects{l}, m.Clock)
	return l
}

func (l *loop) run(ctx context.Context) error {
	l.log.Debug().Msg("control loop started")
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			l.log.Debug().Err(ctx.Err()).Msg("control loop stopped")
			return ctx.Err()
		case cmd := <-l.commands:
			cmd(l)
		case <-l.box.ready():
			for _, msg := range l.box.drain() {
				l.handle(msg)
			}
		}
	}
}

func (l *loop) reconcile(set Set) {
	desired := make(map[string]*request.Descriptor, len(set))
	fps := make(map[string]request.Fingerprint, len(set))
	for id, d := range set {
		if id == "" || d == nil {
			continue
		}
		if d.Tracker != id {
			c := *d
			c.Tracker = id
			d = &c
		}
		desired[id] = d
		fps[id] = d.Fingerprint()
	}

	p := diff(l.reg, fps)
	for _, id := range p.dead {
		e := l.reg[id]
		if _, stillDesired := fps[id]; stillDesired && e.limited {
			continue
		}
		l.cancel(e)
	}
	for _, id := range p.born {
		l.spawn(id, desired[id], fps[id])
	}

	l.log.Debug().
		Int("desired", len(fps)).
		Int("dead", len(p.dead)).
		Int("unchanged", len(p.unchanged)).
		Int("born", len(p.born)).
		Msg("reconciled")
}

func (l *loop) spawn(tracker string, d *request.Descriptor, fp request.Fingerprint) {
	if e := l.reg[tracker]; e != nil && e.limited {
		e.descriptor = d
		e.fingerprint = fp
		e.finished = false
		l.submit(e)
		return
	}
	e := &entry{
		tracker:     tracker,
		descriptor:  d,
		fingerprint: fp,
		limited:     l.limiter.Limited(tracker),
	}
	l.reg[tracker] = e
	if e.limited {
		l.submit(e)
		return
	}
	e.op, e.cancel = l.start(tracker, d, nil)
}

func (l *loop) submit(e *entry) {
	l.limiter.Submit(e.tracker, e.descriptor)
	if st := l.limiter.State(e.tracker); st == ratelimit.PendingReplace {
		l.log.Debug().
			Str("tracker", e.tracker).
			Stringer("fingerprint", e.fingerprint).
			Stringer("state", st).
			Msg("deferred")
		l.handlers.run(Deferred, &Operation{Tracker: e.tracker, Descriptor: e.descriptor})
	}
}

// start hands d to the transport under a fresh operation id. The
// returned cancel function is idempotent.
func (l *loop) start(tracker string, d *request.Descriptor, s Subscriber) (string, func()) {
	id := uuid.NewString()
	op := &operation{tracker: tracker, descriptor: d, subscriber: s}
	l.ops[id] = op
	l.handlers.run(Spawned, &Operation{Tracker: tracker, ID: id, Descriptor: d})
	l.log.Debug().
		Str("tracker", tracker).
		Str("op", id).
		Str("method", d.EffectiveMethod()).
		Str("url", d.URL).
		Msg("spawned")

	box := l.box
	cancel := l.transport.Start(d, func(p Progress) {
		box.post(message{kind: progressMessage, tracker: tracker, op: id, progress: p})
	})
	op.cancel = func() {
		delete(l.ops, id)
		if cancel != nil {
			cancel()
		}
	}
	return id, op.cancel
}

func (l *loop) send(d *request.Descriptor, s Subscriber) {
	l.start("", d, s)
}

// cancel removes e from the registry and cancels its operation. The
// cancel handle is invoked even if the operation already finished.
func (l *loop) cancel(e *entry) {
	delete(l.reg, e.tracker)
	if e.limited {
		l.limiter.Cancel(e.tracker)
	} else if e.cancel != nil {
		e.cancel()
	}
	l.log.Debug().
		Str("tracker", e.tracker).
		Str("op", e.op).
		Bool("finished", e.finished).
		Msg("canceled")
	l.handlers.run(Canceled, &Operation{Tracker: e.tracker, ID: e.op, Descriptor: e.descriptor})
}

func (l *loop) handle(msg message) {
	switch msg.kind {
	case expireMessage:
		if l.limiter.Expire(msg.tracker, msg.gen) {
			l.log.Debug().Str("tracker", msg.tracker).Msg("cooldown expired")
		}
	case progressMessage:
		if msg.tracker == "" {
			l.handleUntracked(msg)
		} else {
			l.handleTracked(msg)
		}
	}
}

func (l *loop) handleTracked(msg message) {
	e := l.reg[msg.tracker]
	var live bool
	if e != nil && e.limited {
		live = l.limiter.Live(msg.tracker, msg.op)
	} else {
		_, live = l.reg.live(msg.tracker, msg.op)
	}
	op := l.ops[msg.op]
	if !live || op == nil {
		l.drop(msg, "stale")
		return
	}

	p := msg.progress
	if l.subs.deliver(msg.tracker, p) == 0 {
		l.drop(msg, "no subscribers")
	}
	if p.Kind != Done {
		return
	}
	delete(l.ops, msg.op)
	l.completed(msg, op)
	if !e.limited {
		e.finished = true
		return
	}
	// Completing may start the pending descriptor at once.
	l.limiter.Complete(msg.tracker, msg.op)
	if st := l.limiter.State(msg.tracker); st == ratelimit.Cooldown || st == ratelimit.Idle {
		e.finished = true
	}
}

func (l *loop) handleUntracked(msg message) {
	op := l.ops[msg.op]
	if op == nil {
		l.drop(msg, "stale")
		return
	}
	p := msg.progress
	if op.subscriber != nil {
		op.subscriber.Notify("", p)
	} else {
		l.drop(msg, "no subscribers")
	}
	if p.Kind == Done {
		delete(l.ops, msg.op)
		l.completed(msg, op)
	}
}

func (l *loop) completed(msg message, op *operation) {
	p := msg.progress
	l.log.Debug().
		Str("tracker", msg.tracker).
		Str("op", msg.op).
		Stringer("outcome", p.Outcome.Kind()).
		Msg("completed")
	l.handlers.run(Completed, &Operation{Tracker: msg.tracker, ID: msg.op, Descriptor: op.descriptor, Progress: &p})
}

func (l *loop) drop(msg message, reason string) {
	p := msg.progress
	l.log.Debug().
		Str("tracker", msg.tracker).
		Str("op", msg.op).
		Stringer("kind", p.Kind).
		Str("reason", reason).
		Msg("dropped")
	var d *request.Descriptor
	if op := l.ops[msg.op]; op != nil {
		d = op.descriptor
	}
	l.handlers.run(Dropped, &Operation{Tracker: msg.tracker, ID: msg.op, Descriptor: d, Progress: &p})
}

func (l *loop) shutdown() {
	for _, id := range l.reg.ids() {
		l.cancel(l.reg[id])
	}
	l.limiter.CancelAll()
	ids := make([]string, 0, len(l.ops))
	for id := range l.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if op := l.ops[id]; op != nil {
			stopSubscriber(op.subscriber)
			op.cancel()
		}
	}
	l.subs.stop()
}

func (l *loop) snapshot() Snapshot {
	snap := Snapshot{InFlight: len(l.ops)}
	for _, op := range l.ops {
		if op.tracker == "" {
			snap.Untracked++
		}
	}
	for _, id := range l.reg.ids() {
		e := l.reg[id]
		ts := TrackerState{
			Tracker:     id,
			Fingerprint: e.fingerprint,
			Finished:    e.finished,
			Subscribers: l.subs.count(id),
		}
		if e.limited {
			if slot, ok := l.limiter.Snapshot(id); ok {
				ts.Operation = slot.Running
				ts.Limit = &slot
			}
		} else if !e.finished {
			ts.Operation = e.op
		}
		snap.Trackers = append(snap.Trackers, ts)
	}
	return snap
}

// limiterEffects carries out the rate limiter's decisions on behalf of
// the loop.
type limiterEffects struct {
	l *loop
}

func (fx limiterEffects) Start(tracker string, d *request.Descriptor) ratelimit.Handle {
	id, cancel := fx.l.start(tracker, d, nil)
	return ratelimit.Handle{ID: id, Cancel: cancel}
}

func (fx limiterEffects) Arm(tracker string, gen uint64, after time.Duration) ratelimit.Timer {
	box := fx.l.box
	return time.AfterFunc(after, func() {
		box.post(message{kind: expireMessage, tracker: tracker, gen: gen})
	})
}

func (fx limiterEffects) Waiting(tracker string, superseded *request.Descriptor) {
	l := fx.l
	l.log.Debug().Str("tracker", tracker).Str("url", superseded.URL).Msg("coalesced")
	l.handlers.run(Coalesced, &Operation{Tracker: tracker, Descriptor: superseded})
	l.subs.deliver(tracker, WaitingProgress(superseded))
}
