// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package failure

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// A Kind is the failure category of a completed HTTP exchange.
//
// The zero value, None, means the exchange did not fail. None of the
// other kinds are ever retried automatically: retry policy belongs to
// the application, which expresses it by declaring a new request.
type Kind int

const (
	// None indicates the exchange succeeded.
	None Kind = iota
	// BadURL indicates the target URL is malformed or uses a scheme
	// the transport cannot speak, or that the request is malformed in
	// some other way, such as an invalid header. It is fatal: repeating
	// the same request will fail the same way.
	//
	// Function Categorize() returns BadURL for URL parse errors and
	// for any error, or wrapped cause, with a Malformed() function
	// that reports true.
	BadURL
	// Timeout indicates the exchange exceeded its configured duration.
	//
	// Function Categorize() returns Timeout if the error or any of its
	// wrapped causes has a Timeout() function that reports true, or is
	// context.DeadlineExceeded.
	Timeout
	// NetworkError indicates a transport-level failure, for example a
	// refused connection, a connection reset, or a DNS failure.
	NetworkError
	// BadStatus indicates a response was received but its status code
	// was outside the 2XX range.
	BadStatus
	// DecodeFailure indicates a 2XX response was received but the
	// caller-supplied response interpreter rejected it.
	DecodeFailure
	// kindSentinel provides the total number of kinds.
	kindSentinel
)

var kindNames = []string{
	"None",
	"BadURL",
	"Timeout",
	"NetworkError",
	"BadStatus",
	"DecodeFailure",
}

// Kinds returns all failure kinds other than None.
func Kinds() []Kind {
	return []Kind{BadURL, Timeout, NetworkError, BadStatus, DecodeFailure}
}

// String returns the name of the kind.
func (k Kind) String() string {
	if k < None || k >= kindSentinel {
		return "Kind(?)"
	}
	return kindNames[k]
}

// Categorize returns the failure kind of an error produced while
// sending an HTTP request or receiving its response. A nil error
// produces None. Every other error produces one of BadURL, Timeout, or
// NetworkError: status and decode failures are not errors at the
// transport level, so they are never returned by Categorize.
//
// In assessing the error, Categorize looks at wrapped cause errors
// contained within err, not just err itself.
func Categorize(err error) Kind {
	if err == nil {
		return None
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	if badURL(err) {
		return BadURL
	}

	return NetworkError
}

func badURL(err error) bool {
	var m malformed
	if errors.As(err, &m) && m.Malformed() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return true
	}
	var escErr url.EscapeError
	if errors.As(err, &escErr) {
		return true
	}
	var hostErr url.InvalidHostError
	if errors.As(err, &hostErr) {
		return true
	}
	// net/http reports these without a typed error.
	msg := err.Error()
	return strings.Contains(msg, "unsupported protocol scheme") ||
		strings.Contains(msg, "no Host in request URL")
}

type hasTimeout interface {
	Timeout() bool
}

type malformed interface {
	Malformed() bool
}
