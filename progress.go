// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"fmt"

	"github.com/gogama/httpsync/request"
)

// A Kind identifies the variant of a Progress event.
type Kind int

const (
	// Sending reports upload progress. Sent is the number of request
	// body bytes written so far and Size the total body length.
	Sending Kind = iota
	// Receiving reports download progress. Received is the number of
	// response body bytes read so far and Total the expected length,
	// or -1 if the response did not announce it.
	Receiving
	// Done carries the terminal Outcome of the exchange. It is the last
	// event of every operation that is not canceled.
	Done
	// Waiting reports that the pending descriptor of a rate limited
	// tracker was coalesced away in favor of a newer one. Superseded
	// holds the discarded descriptor.
	Waiting
)

var kindNames = []string{"Sending", "Receiving", "Done", "Waiting"}

// String returns the name of the kind.
func (k Kind) String() string {
	if k < Sending || int(k) >= len(kindNames) {
		return "Kind(?)"
	}
	return kindNames[k]
}

// A Progress is one event in the life of a tracked request, as relayed
// to subscribers.
//
// Within one operation, Sent and Received never decrease and Done, if
// delivered, comes last.
type Progress struct {
	Kind Kind

	Sent int64
	Size int64

	Received int64
	Total    int64

	Outcome request.Outcome

	Superseded *request.Descriptor
}

// SendingProgress returns a Sending event.
func SendingProgress(sent, size int64) Progress {
	return Progress{Kind: Sending, Sent: sent, Size: size}
}

// ReceivingProgress returns a Receiving event. Pass -1 for total if the
// length is unknown.
func ReceivingProgress(received, total int64) Progress {
	return Progress{Kind: Receiving, Received: received, Total: total}
}

// DoneProgress returns a Done event carrying o.
func DoneProgress(o request.Outcome) Progress {
	return Progress{Kind: Done, Outcome: o}
}

// WaitingProgress returns a Waiting event for a superseded descriptor.
func WaitingProgress(superseded *request.Descriptor) Progress {
	return Progress{Kind: Waiting, Superseded: superseded}
}

// Fraction returns the completed fraction, between 0 and 1, of a
// Sending or Receiving event. The second return value is false if the
// fraction is unknown, which is the case for other kinds and when the
// total length is unknown.
func (p Progress) Fraction() (float64, bool) {
	var n, total int64
	switch p.Kind {
	case Sending:
		n, total = p.Sent, p.Size
	case Receiving:
		n, total = p.Received, p.Total
	default:
		return 0, false
	}
	if total <= 0 {
		return 0, false
	}
	f := float64(n) / float64(total)
	if f > 1 {
		f = 1
	}
	return f, true
}

// String returns a short human-readable description of the event.
func (p Progress) String() string {
	switch p.Kind {
	case Sending:
		return fmt.Sprintf("Sending %d/%d", p.Sent, p.Size)
	case Receiving:
		if p.Total < 0 {
			return fmt.Sprintf("Receiving %d/?", p.Received)
		}
		return fmt.Sprintf("Receiving %d/%d", p.Received, p.Total)
	case Done:
		if p.Outcome.Err != nil {
			return "Done " + p.Outcome.Err.Error()
		}
		return "Done ok"
	default:
		return p.Kind.String()
	}
}
