// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"sync"
)

// A Subscriber receives the progress events of the trackers it is
// subscribed to.
//
// Notify is called on the Manager's control loop goroutine. It must
// not block for long and must not call the Manager's methods, which
// wait on the same loop. Hand events off instead, for example with
// Chan or Map, which never block.
type Subscriber interface {
	Notify(tracker string, p Progress)
}

// The SubscriberFunc type is an adapter to allow the use of ordinary
// functions as subscribers.
type SubscriberFunc func(tracker string, p Progress)

// Notify calls f(tracker, p).
func (f SubscriberFunc) Notify(tracker string, p Progress) {
	f(tracker, p)
}

// Map returns a Subscriber that translates each event with f and sends
// the result on ch.
//
// Notify never blocks the control loop. Translated events are queued
// without bound and forwarded to ch, in order, by a goroutine that runs
// only while the queue is non-empty. When the Manager stops, events not
// yet forwarded are discarded and forwarding ends, so a reader that has
// gone away does not keep the goroutine alive.
func Map[M any](ch chan<- M, f func(tracker string, p Progress) M) Subscriber {
	if ch == nil {
		panic("httpsync: nil channel")
	}
	if f == nil {
		panic("httpsync: nil mapping function")
	}
	return &forwarder[M]{ch: ch, f: f, quit: make(chan struct{})}
}

// stopper is implemented by subscribers that own a goroutine the
// control loop must release when it stops.
type stopper interface {
	stop()
}

type forwarder[M any] struct {
	ch   chan<- M
	f    func(tracker string, p Progress) M
	quit chan struct{}
	once sync.Once

	mu      sync.Mutex
	queue   []M
	pumping bool
}

func (fw *forwarder[M]) Notify(tracker string, p Progress) {
	m := fw.f(tracker, p)
	fw.mu.Lock()
	defer fw.mu.Unlock()
	select {
	case <-fw.quit:
		return
	default:
	}
	fw.queue = append(fw.queue, m)
	if !fw.pumping {
		fw.pumping = true
		go fw.pump()
	}
}

func (fw *forwarder[M]) pump() {
	var zero M
	for {
		fw.mu.Lock()
		if len(fw.queue) == 0 {
			fw.pumping = false
			fw.mu.Unlock()
			return
		}
		m := fw.queue[0]
		fw.queue[0] = zero
		fw.queue = fw.queue[1:]
		fw.mu.Unlock()

		select {
		case fw.ch <- m:
		case <-fw.quit:
			fw.mu.Lock()
			fw.queue = nil
			fw.pumping = false
			fw.mu.Unlock()
			return
		}
	}
}

func (fw *forwarder[M]) stop() {
	fw.once.Do(func() {
		close(fw.quit)
	})
}

// A Notification pairs a progress event with the tracker it concerns.
type Notification struct {
	Tracker  string
	Progress Progress
}

// Chan returns a Subscriber that sends each event on ch as a
// Notification. Like Map, it never blocks the control loop.
func Chan(ch chan<- Notification) Subscriber {
	return Map(ch, func(tracker string, p Progress) Notification {
		return Notification{Tracker: tracker, Progress: p}
	})
}

// A SubscriptionID identifies one subscription for Unsubscribe.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	tracker string
	s       Subscriber
}

// relay routes progress events to the subscribers of each tracker, in
// subscription order. It is owned by the control loop.
type relay struct {
	byTracker map[string][]*subscription
	byID      map[SubscriptionID]*subscription
	next      SubscriptionID
}

func newRelay() *relay {
	return &relay{
		byTracker: make(map[string][]*subscription),
		byID:      make(map[SubscriptionID]*subscription),
	}
}

func (r *relay) add(tracker string, s Subscriber) SubscriptionID {
	r.next++
	sub := &subscription{id: r.next, tracker: tracker, s: s}
	r.byTracker[tracker] = append(r.byTracker[tracker], sub)
	r.byID[sub.id] = sub
	return sub.id
}

func (r *relay) remove(id SubscriptionID) bool {
	sub := r.byID[id]
	if sub == nil {
		return false
	}
	delete(r.byID, id)
	subs := r.byTracker[sub.tracker]
	for i := range subs {
		if subs[i] == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.byTracker, sub.tracker)
	} else {
		r.byTracker[sub.tracker] = subs
	}
	return true
}

// deliver hands p to every subscriber of tracker and returns how many
// received it. Events for a tracker with no subscribers are dropped.
func (r *relay) deliver(tracker string, p Progress) int {
	subs := r.byTracker[tracker]
	for _, sub := range subs {
		sub.s.Notify(tracker, p)
	}
	return len(subs)
}

// stop releases every subscriber that owns a forwarding goroutine.
func (r *relay) stop() {
	for _, sub := range r.byID {
		stopSubscriber(sub.s)
	}
}

func stopSubscriber(s Subscriber) {
	if st, ok := s.(stopper); ok {
		st.stop()
	}
}

// count returns the number of subscribers of tracker.
func (r *relay) count(tracker string) int {
	return len(r.byTracker[tracker])
}
