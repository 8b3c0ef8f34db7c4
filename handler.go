// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"github.com/gogama/httpsync/request"
)

// An Operation describes the request an event handler is being told
// about.
type Operation struct {
	// Tracker is the tracker id, or empty for untracked requests.
	Tracker string
	// ID is the operation id assigned when the request was handed to
	// the transport. It is empty for Deferred and Coalesced events,
	// which concern descriptors that have not started.
	ID string
	// Descriptor is the request descriptor.
	Descriptor *request.Descriptor
	// Progress is the progress event for Completed and Dropped, and
	// nil otherwise.
	Progress *Progress
}

// A HandlerGroup is a group of event handler chains which can be
// installed in a Manager.
type HandlerGroup struct {
	handlers [][]Handler
}

// PushBack adds an event handler to the back of the event handler chain
// for a specific event type.
func (g *HandlerGroup) PushBack(evt Event, h Handler) {
	if h == nil {
		panic("httpsync: nil handler")
	}

	if g.handlers == nil {
		g.handlers = make([][]Handler, numEvents)
	}

	g.handlers[evt] = append(g.handlers[evt], h)
}

func (g *HandlerGroup) run(evt Event, op *Operation) {
	i := int(evt)
	if i < len(g.handlers) {
		run(g.handlers[i], evt, op)
	}
}

func run(chain []Handler, evt Event, op *Operation) {
	for _, h := range chain {
		h.Handle(evt, op)
	}
}

// A Handler handles the occurrence of a lifecycle event in the control
// loop. Handlers run on the loop goroutine and must not block or call
// back into the Manager synchronously.
type Handler interface {
	Handle(Event, *Operation)
}

// The HandlerFunc type is an adapter to allow the use of ordinary
// functions as event handlers. If f is a function with appropriate
// signature, then HandlerFunc(f) is a Handler that calls f.
type HandlerFunc func(Event, *Operation)

// Handle calls f(evt, op).
func (f HandlerFunc) Handle(evt Event, op *Operation) {
	f(evt, op)
}
