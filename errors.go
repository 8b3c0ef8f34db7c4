// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Manager methods called after the control
// loop has stopped.
var ErrClosed = errors.New("httpsync: manager closed")

// ErrRunning is returned by Run if the control loop is already running
// or has already run.
var ErrRunning = errors.New("httpsync: manager already started")

var errUntracked = errors.New("httpsync: descriptor has no tracker")

var errTracked = errors.New("httpsync: Send requires an untracked descriptor")

type duplicateTrackerError struct {
	tracker string
}

func (e *duplicateTrackerError) Error() string {
	return fmt.Sprintf("httpsync: duplicate tracker %q", e.tracker)
}
