// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"testing"

	"github.com/gogama/httpsync/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	fp := func(url string) request.Fingerprint {
		return (&request.Descriptor{URL: url}).Fingerprint()
	}
	reg := func(pairs ...string) registry {
		r := make(registry)
		for i := 0; i < len(pairs); i += 2 {
			r[pairs[i]] = &entry{tracker: pairs[i], fingerprint: fp(pairs[i+1])}
		}
		return r
	}
	want := func(pairs ...string) map[string]request.Fingerprint {
		m := make(map[string]request.Fingerprint)
		for i := 0; i < len(pairs); i += 2 {
			m[pairs[i]] = fp(pairs[i+1])
		}
		return m
	}

	testCases := []struct {
		name    string
		reg     registry
		desired map[string]request.Fingerprint
		plan    plan
	}{
		{
			name: "both empty",
			reg:  reg(),
		},
		{
			name:    "all new",
			reg:     reg(),
			desired: want("b", "/b", "a", "/a"),
			plan:    plan{born: []string{"a", "b"}},
		},
		{
			name: "all dead",
			reg:  reg("b", "/b", "a", "/a"),
			plan: plan{dead: []string{"a", "b"}},
		},
		{
			name:    "unchanged",
			reg:     reg("a", "/a"),
			desired: want("a", "/a"),
			plan:    plan{unchanged: []string{"a"}},
		},
		{
			name:    "changed",
			reg:     reg("a", "/a"),
			desired: want("a", "/a2"),
			plan:    plan{dead: []string{"a"}, born: []string{"a"}},
		},
		{
			name:    "mixed",
			reg:     reg("a", "/a", "c", "/c", "d", "/d", "f", "/f"),
			desired: want("b", "/b", "c", "/c", "d", "/d2", "e", "/e"),
			plan: plan{
				dead:      []string{"a", "d", "f"},
				unchanged: []string{"c"},
				born:      []string{"b", "d", "e"},
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.plan, diff(testCase.reg, testCase.desired))
		})
	}
}

func TestNewSet(t *testing.T) {
	a := &request.Descriptor{URL: "http://a", Tracker: "a"}
	b := &request.Descriptor{URL: "http://b", Tracker: "b"}

	s, err := NewSet(a, nil, b)
	require.NoError(t, err)
	assert.Equal(t, Set{"a": a, "b": b}, s)

	_, err = NewSet(a, &request.Descriptor{URL: "http://c"})
	assert.Equal(t, errUntracked, err)

	_, err = NewSet(a, &request.Descriptor{URL: "http://a2", Tracker: "a"})
	assert.EqualError(t, err, `httpsync: duplicate tracker "a"`)
}

func TestRegistry(t *testing.T) {
	reg := registry{
		"b": &entry{tracker: "b", op: "op-b"},
		"a": &entry{tracker: "a", op: "op-a", finished: true},
		"c": &entry{tracker: "c", limited: true},
	}
	assert.Equal(t, []string{"a", "b", "c"}, reg.ids())

	e, ok := reg.live("b", "op-b")
	assert.True(t, ok)
	assert.Same(t, reg["b"], e)
	_, ok = reg.live("b", "op-x")
	assert.False(t, ok)
	_, ok = reg.live("a", "op-a")
	assert.False(t, ok, "finished operation is not live")
	_, ok = reg.live("c", "")
	assert.False(t, ok, "limited trackers are checked by the limiter")
	e, ok = reg.live("z", "op")
	assert.False(t, ok)
	assert.Nil(t, e)
}
