// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package ratelimit provides the per-tracker cooldown and debounce policy
that sits between reconciliation and the transport.

When a tracker is rate limited, bursts of rapid desired-state changes
for it collapse into at most one in-flight request plus at most one
queued follow-up, and the follow-up always represents the latest desired
state. Intermediate states are coalesced away and never reach the
transport. After a request completes, the next one for the same tracker
waits until the cooldown has elapsed, unless the follow-up was already
queued while the completed request was running.

Each tracker moves through four states:

• Idle: nothing running, nothing pending, not cooling down.

• Running: one request in flight.

• Cooldown: the most recent request completed less than the cooldown
  ago; nothing in flight.

• PendingReplace: a descriptor is queued behind a running request or
  behind the cooldown. A newer descriptor replaces it, and the replaced
  one is reported through Effects.Waiting.

A Limiter holds no goroutines, timers or locks of its own. It is owned
by a single goroutine, which calls its methods and carries out the
Effects it requests: starting requests, arming expiry timers, and
reporting coalesced descriptors. Timer expiry comes back to the Limiter
through Expire, tagged with the generation number given to Arm, so a
stale expiry is ignored.

Which trackers are limited, and how long their cooldown is, is decided
by a Policy.
*/
package ratelimit
