// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the core value types Descriptor (describes one
wanted HTTP exchange) and Outcome (describes how an exchange ended).

A Descriptor is the complete, immutable description of an HTTP request
an application currently wants outstanding. For those familiar with the
Go standard HTTP library, net/http, a Descriptor looks like a
stripped-down http.Request with the body replaced by a small set of
pre-encoded variants, the header map replaced by an ordered list of
name/value pairs, and two additions: the tracker id naming the logical
slot the request occupies, and the interpreter that turns the raw
response into the value the application actually wants.

Create a descriptor for a tracked request:

	d := &request.Descriptor{
		Method:  "GET",
		URL:     "https://example.com/profile",
		Tracker: "profile",
		Timeout: 5 * time.Second,
	}

Two descriptors describe "the same request" if every field other than
the interpreter matches. Fingerprint computes a key with exactly that
equality, which is what lets the synchronizing manager leave an
unchanged request running instead of restarting it.

Once a descriptor has been handed to the manager it must not be
modified. Build a new descriptor to express a new desired state.

The second core type is Outcome, which is the terminal result of one
HTTP exchange: either a successful value produced by the interpreter, or
an *Error whose Kind (from package failure) says what went wrong.
*/
package request
