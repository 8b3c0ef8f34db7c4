// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"sync"
)

type messageKind int

const (
	progressMessage messageKind = iota
	expireMessage
)

// A message is an event posted to the control loop from outside it:
// either progress from a transport or the firing of a cooldown timer.
type message struct {
	kind     messageKind
	tracker  string
	op       string
	progress Progress
	gen      uint64
}

// mailbox is an unbounded queue feeding the control loop. Posting never
// blocks, so a transport may report progress synchronously from within
// Transport.Start, which itself runs on the loop goroutine.
type mailbox struct {
	mu     sync.Mutex
	queue  []message
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (b *mailbox) post(m message) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// ready returns a channel that receives a value whenever messages may
// be waiting.
func (b *mailbox) ready() <-chan struct{} {
	return b.signal
}

// drain removes and returns all queued messages in posting order.
func (b *mailbox) drain() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}
