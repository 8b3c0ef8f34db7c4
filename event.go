// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

// An Event identifies a lifecycle event of the manager's control loop
// when installing or running a Handler. Install event handlers in a
// Manager to observe reconciliation, for example to collect metrics or
// to trace the exact order in which operations start and stop.
//
// Handlers run on the control loop goroutine, in the order the events
// occur.
type Event int

const (
	// Spawned identifies the event that occurs immediately before a
	// new operation is handed to the transport.
	//
	// When Manager fires Spawned, the operation's ID and Descriptor
	// are set. Tracker is empty for untracked requests.
	Spawned Event = iota
	// Canceled identifies the event that occurs after a tracker's
	// operation was canceled because the tracker left the desired set
	// or its descriptor changed.
	//
	// Canceled fires after the cancel handle has been invoked and the
	// registry entry removed, and always before the replacement
	// operation (if any) fires Spawned. The cancel handle is invoked
	// even if the operation had already completed.
	Canceled
	// Completed identifies the event that occurs after the terminal
	// Done progress event of a live operation has been relayed to the
	// tracker's subscribers.
	//
	// When Manager fires Completed, the operation's Progress field
	// holds the Done event.
	Completed
	// Deferred identifies the event that occurs when a rate limited
	// tracker receives a new descriptor that cannot start yet, because
	// a request is running or the tracker is cooling down.
	//
	// When Manager fires Deferred, the operation's ID is empty.
	//
	// Deferred does not fire when the new descriptor is the same
	// request as the one already running. Nothing is queued in that
	// case, and a previously pending descriptor that it replaces fires
	// only Coalesced.
	Deferred
	// Coalesced identifies the event that occurs when a pending
	// descriptor of a rate limited tracker is replaced by a newer one
	// before it ever started. Subscribers receive a Waiting progress
	// event at the same time.
	Coalesced
	// Dropped identifies the event that occurs when a progress event
	// is discarded, either because its operation is no longer the
	// tracker's live operation (it was canceled or superseded, or has
	// already completed) or because the tracker has no subscribers.
	//
	// When Manager fires Dropped, the operation's Progress field holds
	// the discarded event.
	Dropped
	// eventSentinel provides the total number of events typed as an
	// Event.
	eventSentinel

	// numEvents provides the total number of events types as an int.
	numEvents = int(eventSentinel)
)

var eventNames = []string{
	"Spawned",
	"Canceled",
	"Completed",
	"Deferred",
	"Coalesced",
	"Dropped",
}

// Events returns a slice containing all lifecycle events.
func Events() []Event {
	return []Event{
		Spawned,
		Canceled,
		Completed,
		Deferred,
		Coalesced,
		Dropped,
	}
}

// Name returns the name of the event.
func (evt Event) Name() string {
	return eventNames[int(evt)]
}

// String returns the name of the event.
func (evt Event) String() string {
	return evt.Name()
}
