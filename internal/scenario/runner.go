// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gogama/httpsync"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// A Runner plays a scenario against a running Manager.
type Runner struct {
	// Manager must already be running.
	Manager *httpsync.Manager
	// Out receives one line per relayed progress event.
	Out io.Writer
	// AwaitTimeout bounds how long a step may wait for its awaited
	// trackers and sends. Zero means one minute.
	AwaitTimeout time.Duration
	// Logger, if not nil, receives step progress.
	Logger *zerolog.Logger
}

// Run plays each step of sc in turn. It returns when the last step is
// done, when a step times out, or when ctx ends.
func (r *Runner) Run(ctx context.Context, sc *Scenario) error {
	log := r.Logger
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	out := r.Out
	if out == nil {
		out = io.Discard
	}
	awaitTimeout := r.AwaitTimeout
	if awaitTimeout <= 0 {
		awaitTimeout = defaultAwaitTimeout
	}

	// One subscriber for everything keeps notifications in relay order.
	ch := make(chan httpsync.Notification, 256)
	sub := httpsync.Chan(ch)
	for _, id := range sc.Trackers() {
		if _, err := r.Manager.Subscribe(ctx, id, sub); err != nil {
			return fmt.Errorf("subscribe %q: %w", id, err)
		}
	}

	for i, step := range sc.Steps {
		set, err := sc.Set(i)
		if err != nil {
			return err
		}
		sends, err := sc.Sends(i)
		if err != nil {
			return err
		}
		log.Info().Int("step", i+1).Str("name", step.Name).Int("desired", len(set)).Int("sends", len(sends)).Msg("step")

		pending := make(map[string]bool, len(step.Await))
		for _, id := range step.Await {
			pending[id] = true
		}
		if err = r.Manager.Update(ctx, set); err != nil {
			return err
		}
		untracked := len(sends)
		for _, d := range sends {
			if err = r.Manager.Send(ctx, d, sub); err != nil {
				return err
			}
		}

		wait, _ := parseDuration(step.Wait)
		waitC := time.After(wait)
		waited := false
		timeoutC := time.After(awaitTimeout)
		for !waited || len(pending) > 0 || untracked > 0 {
			select {
			case n := <-ch:
				printNotification(out, n)
				if n.Progress.Kind != httpsync.Done {
					continue
				}
				if n.Tracker == "" {
					untracked--
				} else {
					delete(pending, n.Tracker)
				}
			case <-waitC:
				waited = true
			case <-timeoutC:
				return &AwaitError{Step: i + 1, Trackers: sortedKeys(pending), Sends: untracked}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Relay whatever has already arrived.
	for {
		select {
		case n := <-ch:
			printNotification(out, n)
		default:
			return nil
		}
	}
}

// An AwaitError reports a step whose awaited events did not all arrive
// in time.
type AwaitError struct {
	Step     int
	Trackers []string
	Sends    int
}

func (e *AwaitError) Error() string {
	var parts []string
	if len(e.Trackers) > 0 {
		parts = append(parts, "trackers "+strings.Join(e.Trackers, ", "))
	}
	if e.Sends > 0 {
		parts = append(parts, fmt.Sprintf("%d sends", e.Sends))
	}
	return fmt.Sprintf("step %d: timed out awaiting %s", e.Step, strings.Join(parts, " and "))
}

// IsAwait reports whether err is an AwaitError.
func IsAwait(err error) bool {
	var e *AwaitError
	return errors.As(err, &e)
}

func printNotification(w io.Writer, n httpsync.Notification) {
	tracker := n.Tracker
	if tracker == "" {
		tracker = "-"
	}
	_, _ = fmt.Fprintf(w, "%-16s %s\n", tracker, describe(n.Progress))
}

func describe(p httpsync.Progress) string {
	switch p.Kind {
	case httpsync.Done:
		if err := p.Outcome.Err; err != nil {
			return "Done " + err.Error()
		}
		return "Done ok " + value(p.Outcome.Value)
	case httpsync.Waiting:
		d := p.Superseded
		return fmt.Sprintf("Waiting superseded %s %s", d.EffectiveMethod(), d.URL)
	default:
		return p.String()
	}
}

const (
	defaultAwaitTimeout = time.Minute
	maxValueLen         = 72
)

func value(v interface{}) string {
	var s string
	switch x := v.(type) {
	case gjson.Result:
		s = x.Raw
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	case string:
		s = fmt.Sprintf("%q", x)
	default:
		s = fmt.Sprintf("%v", x)
	}
	if len(s) > maxValueLen {
		s = s[:maxValueLen] + "..."
	}
	return s
}
