// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"testing"

	"github.com/gogama/httpsync/failure"
	"github.com/gogama/httpsync/request"
	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Sending", Sending.String())
	assert.Equal(t, "Receiving", Receiving.String())
	assert.Equal(t, "Done", Done.String())
	assert.Equal(t, "Waiting", Waiting.String())
	assert.Equal(t, "Kind(?)", Kind(-1).String())
	assert.Equal(t, "Kind(?)", Kind(4).String())
}

func TestProgress_Fraction(t *testing.T) {
	testCases := []struct {
		name string
		p    Progress
		f    float64
		ok   bool
	}{
		{"sending half", SendingProgress(5, 10), 0.5, true},
		{"sending empty", SendingProgress(0, 0), 0, false},
		{"receiving full", ReceivingProgress(10, 10), 1, true},
		{"receiving unknown", ReceivingProgress(10, -1), 0, false},
		{"receiving overshoot", ReceivingProgress(20, 10), 1, true},
		{"done", DoneProgress(request.Ok("x")), 0, false},
		{"waiting", WaitingProgress(nil), 0, false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			f, ok := testCase.p.Fraction()
			assert.Equal(t, testCase.ok, ok)
			assert.InDelta(t, testCase.f, f, 1e-9)
		})
	}
}

func TestProgress_String(t *testing.T) {
	assert.Equal(t, "Sending 1/2", SendingProgress(1, 2).String())
	assert.Equal(t, "Receiving 3/?", ReceivingProgress(3, -1).String())
	assert.Equal(t, "Receiving 3/4", ReceivingProgress(3, 4).String())
	assert.Equal(t, "Done ok", DoneProgress(request.Ok(nil)).String())
	assert.Equal(t, "Done httpsync: Timeout", DoneProgress(request.Fail(&request.Error{Kind: failure.Timeout})).String())
	assert.Equal(t, "Waiting", WaitingProgress(nil).String())
}
