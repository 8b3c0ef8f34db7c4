// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package httpsync keeps a set of in-flight HTTP requests in sync with
the set an application declares, relays request progress back to the
application, and optionally rate limits repeated requests.

Create a Manager and run its control loop.

	m := &httpsync.Manager{}
	go m.Run(ctx)

Each time the application's state changes, declare the complete set of
requests it wants outstanding, keyed by tracker id. Requests that are
newly wanted start, requests that are no longer wanted are canceled,
and requests that are unchanged are left alone.

	err := m.Update(ctx, httpsync.Set{
		"profile": &request.Descriptor{URL: "https://example.com/me"},
		"avatar":  &request.Descriptor{URL: "https://example.com/me.png",
			Interpreter: request.Bytes},
	})

Subscribe to a tracker to receive its progress events. The last event
of every request that is not canceled is Done, carrying the Outcome.

	ch := make(chan httpsync.Notification, 16)
	id, err := m.Subscribe(ctx, "profile", httpsync.Chan(ch))
	...
	n := <-ch
	if n.Progress.Kind == httpsync.Done && n.Progress.Outcome.Succeeded() {
		fmt.Println(n.Progress.Outcome.Value)
	}

For control over how requests are sent, use a custom transport. The
default transport is an HTTPTransport with default settings:

	m := &httpsync.Manager{
		Transport: &httpsync.HTTPTransport{
			HTTPDoer:      &http.Client{...},
			TimeoutPolicy: timeout.Fixed(10 * time.Second),
		},
	}

To limit how often a tracker's request may run, set a rate limit policy
using package ratelimit. While a limited tracker's request runs or
cools down, newer descriptors wait, and only the latest one is sent:

	m := &httpsync.Manager{
		RateLimit: ratelimit.Prefix("search/", 300*time.Millisecond, nil),
	}

To observe the control loop, install a handler into the appropriate
handler chain:

	handlers := &httpsync.HandlerGroup{}
	handlers.PushBack(httpsync.Canceled, httpsync.HandlerFunc(
		func(_ httpsync.Event, op *httpsync.Operation) {
			log.Printf("canceled %s", op.Tracker)
		}),
	)
	m := &httpsync.Manager{
		Handlers: handlers,
	}
*/
package httpsync
