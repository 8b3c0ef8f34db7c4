// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gogama/httpsync/failure"
	"github.com/gogama/httpsync/ratelimit"
	"github.com/gogama/httpsync/request"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	t.Run("zero value", testManagerZeroValue)
	t.Run("run twice", testManagerRunTwice)
	t.Run("closed", testManagerClosed)
	t.Run("context", testManagerContext)
	t.Run("idempotent", testManagerIdempotent)
	t.Run("tracker key", testManagerTrackerKey)
	t.Run("cancel before start", testManagerCancelBeforeStart)
	t.Run("removal", testManagerRemoval)
	t.Run("stale events", testManagerStaleEvents)
	t.Run("unsubscribe", testManagerUnsubscribe)
	t.Run("slow subscriber", testManagerSlowSubscriber)
	t.Run("synchronous transport", testManagerSynchronousTransport)
	t.Run("send", testManagerSend)
	t.Run("coalescing", testManagerCoalescing)
	t.Run("cooldown", testManagerCooldown)
	t.Run("limited removal", testManagerLimitedRemoval)
	t.Run("shutdown", testManagerShutdown)
	t.Run("end to end", testManagerEndToEnd)
}

func testManagerZeroValue(t *testing.T) {
	var m Manager
	assert.IsType(t, &HTTPTransport{}, m.transport())
	assert.Equal(t, ratelimit.Disabled, m.rateLimit())
	assert.Same(t, &emptyHandlers, m.handlers())
	assert.Equal(t, zerolog.Disabled, m.logger().GetLevel())
	assert.PanicsWithValue(t, "httpsync: nil context", func() { _ = m.Run(nil) })
}

func testManagerRunTwice(t *testing.T) {
	m := &Manager{Transport: newFakeTransport()}
	stop := runManager(t, m)
	defer stop()
	_, err := m.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ErrRunning, m.Run(context.Background()))
}

func testManagerClosed(t *testing.T) {
	m := &Manager{Transport: newFakeTransport()}
	stop := runManager(t, m)
	assert.Equal(t, context.Canceled, stop())
	ctx := context.Background()
	assert.Equal(t, ErrClosed, m.Update(ctx, Set{}))
	_, err := m.Subscribe(ctx, "a", SubscriberFunc(func(string, Progress) {}))
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrClosed, m.Unsubscribe(ctx, 1))
	assert.Equal(t, ErrClosed, m.Send(ctx, &request.Descriptor{URL: "http://x"}, nil))
	_, err = m.Inspect(ctx)
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrRunning, m.Run(ctx))
}

func testManagerContext(t *testing.T) {
	m := &Manager{Transport: newFakeTransport()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, m.Update(ctx, Set{}), "blocks until Run starts")
	assert.Equal(t, errTracked, m.Send(ctx, &request.Descriptor{URL: "http://x", Tracker: "a"}, nil))
	assert.PanicsWithValue(t, "httpsync: nil descriptor", func() { _ = m.Send(ctx, nil, nil) })
	assert.PanicsWithValue(t, "httpsync: nil subscriber", func() { _, _ = m.Subscribe(ctx, "a", nil) })
}

func testManagerIdempotent(t *testing.T) {
	fake := newFakeTransport()
	m := &Manager{Transport: fake}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	set := Set{"a": get("/a"), "b": get("/b")}

	require.NoError(t, m.Update(ctx, set))
	require.NoError(t, m.Update(ctx, set))
	require.NoError(t, m.Update(ctx, Set{"a": get("/a"), "b": get("/b")}))

	assert.Equal(t, []string{"start /a", "start /b"}, fake.log())
	snap, err := m.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Trackers, 2)
	assert.Equal(t, "a", snap.Trackers[0].Tracker)
	assert.Equal(t, get("/a").Fingerprint(), snap.Trackers[0].Fingerprint)
	assert.NotEmpty(t, snap.Trackers[0].Operation)
	assert.Equal(t, 2, snap.InFlight)

	// Completion does not make an unchanged tracker start again.
	fake.call(0).report(DoneProgress(request.Ok("a")))
	fake.call(1).report(DoneProgress(request.Ok("b")))
	require.Eventually(t, func() bool {
		snap, err := m.Inspect(ctx)
		return err == nil && snap.InFlight == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, m.Update(ctx, set))
	assert.Equal(t, []string{"start /a", "start /b"}, fake.log())
	snap, err = m.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Trackers, 2)
	assert.True(t, snap.Trackers[0].Finished)
	assert.Empty(t, snap.Trackers[0].Operation)
}

// The set key names the tracker even when the descriptor says otherwise.
func testManagerTrackerKey(t *testing.T) {
	fake := newFakeTransport()
	m := &Manager{Transport: fake}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	d := &request.Descriptor{URL: "http://example.com/a", Tracker: "other"}
	untracked := get("/b")

	require.NoError(t, m.Update(ctx, Set{"a": d, "b": untracked}))
	require.NoError(t, m.Update(ctx, Set{"a": d, "b": untracked}))

	assert.Equal(t, []string{"start /a", "start /b"}, fake.log())
	assert.Equal(t, "a", fake.call(0).d.Tracker)
	assert.Equal(t, "b", fake.call(1).d.Tracker)
	assert.Equal(t, "other", d.Tracker, "caller's descriptor is not modified")
	assert.Equal(t, "", untracked.Tracker)
}

func testManagerCancelBeforeStart(t *testing.T) {
	fake := newFakeTransport()
	lc := newLifecycle()
	m := &Manager{Transport: fake, Handlers: lc.handlers()}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, Set{"a": get("/1"), "b": get("/b")}))
	require.NoError(t, m.Update(ctx, Set{"a": get("/2"), "b": get("/b")}))

	assert.Equal(t, []string{"start /1", "start /b", "cancel /1", "start /2"}, fake.log())
	assert.Equal(t, []string{
		"Spawned a /1",
		"Spawned b /b",
		"Canceled a /1",
		"Spawned a /2",
	}, lc.drain())
	snap, err := m.Inspect(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Trackers, 2, "at most one entry per tracker")
}

func testManagerRemoval(t *testing.T) {
	fake := newFakeTransport()
	m := &Manager{Transport: fake}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, Set{"a": get("/a"), "b": get("/b"), "c": get("/c")}))
	require.NoError(t, m.Update(ctx, Set{"b": get("/b"), "": get("/ignored"), "d": nil}))

	assert.Equal(t, []string{"start /a", "start /b", "start /c", "cancel /a", "cancel /c"}, fake.log())
	snap, err := m.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Trackers, 1)
	assert.Equal(t, "b", snap.Trackers[0].Tracker)
	assert.Equal(t, 1, snap.InFlight)
}

func testManagerStaleEvents(t *testing.T) {
	fake := newFakeTransport()
	lc := newLifecycle()
	m := &Manager{Transport: fake, Handlers: lc.handlers()}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	ch := make(chan Notification, 16)
	_, err := m.Subscribe(ctx, "a", Chan(ch))
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, Set{"a": get("/1")}))
	require.NoError(t, m.Update(ctx, Set{"a": get("/2")}))
	lc.drain()
	old, cur := fake.call(0), fake.call(1)

	old.report(DoneProgress(request.Ok("old")))
	assert.Equal(t, "Dropped a Done", lc.next(t))
	cur.report(SendingProgress(1, 1))
	cur.report(DoneProgress(request.Ok("new")))
	cur.report(ReceivingProgress(1, 1))

	assert.Equal(t, Notification{Tracker: "a", Progress: SendingProgress(1, 1)}, recv(t, ch))
	assert.Equal(t, Notification{Tracker: "a", Progress: DoneProgress(request.Ok("new"))}, recv(t, ch))
	assert.Equal(t, "Completed a /2", lc.next(t))
	assert.Equal(t, "Dropped a Receiving", lc.next(t), "nothing after Done")
	assert.Empty(t, ch)
}

func testManagerUnsubscribe(t *testing.T) {
	fake := newFakeTransport()
	lc := newLifecycle()
	m := &Manager{Transport: fake, Handlers: lc.handlers()}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	ch := make(chan Notification, 16)
	id, err := m.Subscribe(ctx, "a", Chan(ch))
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, Set{"a": get("/a")}))
	lc.drain()
	c := fake.call(0)

	c.report(SendingProgress(1, 2))
	assert.Equal(t, SendingProgress(1, 2), recv(t, ch).Progress)
	require.NoError(t, m.Unsubscribe(ctx, id))
	require.NoError(t, m.Unsubscribe(ctx, id))
	c.report(SendingProgress(2, 2))

	assert.Equal(t, "Dropped a Sending", lc.next(t))
	assert.Empty(t, ch)
}

// A subscriber whose channel is never read must not stall Update or
// keep Run from returning.
func testManagerSlowSubscriber(t *testing.T) {
	tr := TransportFunc(func(d *request.Descriptor, report func(Progress)) func() {
		for i := int64(1); i <= 1000; i++ {
			report(ReceivingProgress(i, 1000))
		}
		report(DoneProgress(request.Ok(d.URL)))
		return func() {}
	})
	m := &Manager{Transport: tr}
	stop := runManager(t, m)
	ctx := context.Background()
	ch := make(chan Notification)
	_, err := m.Subscribe(ctx, "a", Chan(ch))
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, "b", Chan(ch))
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, Set{"a": get("/a")}))
	require.Eventually(t, func() bool {
		snap, err := m.Inspect(ctx)
		return err == nil && len(snap.Trackers) == 1 && snap.Trackers[0].Finished
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, m.Update(ctx, Set{"a": get("/a"), "b": get("/b")}))
	require.NoError(t, m.Send(ctx, get("/u"), Chan(ch)))

	assert.Equal(t, context.Canceled, stop())
}

func testManagerSynchronousTransport(t *testing.T) {
	tr := TransportFunc(func(d *request.Descriptor, report func(Progress)) func() {
		report(ReceivingProgress(2, 2))
		report(DoneProgress(request.Ok(d.URL)))
		return func() {}
	})
	m := &Manager{Transport: tr}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	ch := make(chan Notification, 16)
	_, err := m.Subscribe(ctx, "a", Chan(ch))
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, Set{"a": get("/a")}))

	assert.Equal(t, ReceivingProgress(2, 2), recv(t, ch).Progress)
	assert.Equal(t, DoneProgress(request.Ok("http://example.com/a")), recv(t, ch).Progress)
}

func testManagerSend(t *testing.T) {
	fake := newFakeTransport()
	m := &Manager{Transport: fake}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	ch := make(chan Notification, 16)

	require.NoError(t, m.Send(ctx, get("/u"), Chan(ch)))
	require.NoError(t, m.Send(ctx, get("/v"), nil))
	snap, err := m.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Untracked)
	assert.Empty(t, snap.Trackers)

	// Reconciling never touches untracked requests.
	require.NoError(t, m.Update(ctx, Set{}))
	fake.call(0).report(DoneProgress(request.Ok("u")))
	assert.Equal(t, Notification{Progress: DoneProgress(request.Ok("u"))}, recv(t, ch))
	fake.call(1).report(DoneProgress(request.Ok("v")))
	require.Eventually(t, func() bool {
		snap, err := m.Inspect(ctx)
		return err == nil && snap.Untracked == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"start /u", "start /v"}, fake.log())
}

// Descriptors D1, D2 and D3 arrive while D1 runs: D1 runs, D2 never
// does, and D3 starts as soon as D1 completes.
func testManagerCoalescing(t *testing.T) {
	fake := newFakeTransport()
	lc := newLifecycle()
	m := &Manager{
		Transport: fake,
		Handlers:  lc.handlers(),
		RateLimit: ratelimit.Uniform(100 * time.Millisecond),
	}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	ch := make(chan Notification, 16)
	_, err := m.Subscribe(ctx, "a", Chan(ch))
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, Set{"a": get("/1")}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Update(ctx, Set{"a": get("/2")}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Update(ctx, Set{"a": get("/3")}))
	assert.Equal(t, []string{
		"Spawned a /1",
		"Deferred a /2",
		"Coalesced a /2",
		"Deferred a /3",
	}, lc.drain())
	n := recv(t, ch)
	assert.Equal(t, Waiting, n.Progress.Kind)
	assert.Equal(t, "http://example.com/2", n.Progress.Superseded.URL)

	time.Sleep(10 * time.Millisecond)
	fake.call(0).report(DoneProgress(request.Ok("1")))
	assert.Equal(t, DoneProgress(request.Ok("1")), recv(t, ch).Progress)
	assert.Equal(t, "Completed a /1", lc.next(t))
	assert.Equal(t, "Spawned a /3", lc.next(t))
	assert.Equal(t, []string{"start /1", "start /3"}, fake.log(), "D1 is never canceled")

	snap, err := m.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Trackers, 1)
	require.NotNil(t, snap.Trackers[0].Limit)
	assert.Equal(t, ratelimit.Running, snap.Trackers[0].Limit.State)
	assert.Equal(t, snap.Trackers[0].Limit.Running, snap.Trackers[0].Operation)
}

func testManagerCooldown(t *testing.T) {
	fake := newFakeTransport()
	m := &Manager{
		Transport: fake,
		RateLimit: ratelimit.Uniform(50 * time.Millisecond),
	}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, Set{"a": get("/1")}))
	<-fake.started
	fake.call(0).report(DoneProgress(request.Ok("1")))
	require.Eventually(t, func() bool {
		snap, err := m.Inspect(ctx)
		return err == nil && snap.Trackers[0].Limit.State == ratelimit.Cooldown
	}, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Update(ctx, Set{"a": get("/2")}))
	select {
	case <-fake.started:
		require.Fail(t, "started during cooldown")
	default:
	}
	select {
	case c := <-fake.started:
		assert.Equal(t, "http://example.com/2", c.d.URL)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "pending descriptor never started")
	}
}

func testManagerLimitedRemoval(t *testing.T) {
	fake := newFakeTransport()
	m := &Manager{
		Transport: fake,
		RateLimit: ratelimit.Prefix("lim/", time.Hour, nil),
	}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, Set{"lim/a": get("/1"), "b": get("/b")}))
	require.NoError(t, m.Update(ctx, Set{"lim/a": get("/2"), "b": get("/b")}))
	require.NoError(t, m.Update(ctx, Set{"b": get("/b")}))

	assert.Equal(t, []string{"start /b", "start /1", "cancel /1"}, fake.log())
	snap, err := m.Inspect(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Trackers, 1)
	assert.Nil(t, snap.Trackers[0].Limit)
}

func testManagerShutdown(t *testing.T) {
	fake := newFakeTransport()
	lc := newLifecycle()
	m := &Manager{Transport: fake, Handlers: lc.handlers()}
	stop := runManager(t, m)
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, Set{"a": get("/a")}))
	require.NoError(t, m.Send(ctx, get("/u"), nil))
	assert.Equal(t, context.Canceled, stop())

	assert.Equal(t, []string{"start /a", "start /u", "cancel /a", "cancel /u"}, fake.log())
	assert.Equal(t, []string{"Spawned a /a", "Spawned  /u", "Canceled a /a"}, lc.drain())
}

// The application wants GET /x under tracker "a"; the server answers
// 200 "ok"; the subscriber sees exactly one Done(Ok("ok")). Then the
// application wants nothing, and the entry goes away.
func testManagerEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()
	var mu sync.Mutex
	var cancels int
	base := &HTTPTransport{HTTPDoer: server.Client()}
	tr := TransportFunc(func(d *request.Descriptor, report func(Progress)) func() {
		cancel := base.Start(d, report)
		return func() {
			mu.Lock()
			cancels++
			mu.Unlock()
			cancel()
		}
	})
	logger := zerolog.New(io.Discard).Level(zerolog.DebugLevel)
	m := &Manager{Transport: tr, Logger: &logger}
	stop := runManager(t, m)
	defer stop()
	ctx := context.Background()
	ch := make(chan Notification, 64)
	_, err := m.Subscribe(ctx, "a", Chan(ch))
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, Set{"a": &request.Descriptor{URL: server.URL + "/x"}}))
	var done []Progress
	for len(done) == 0 {
		n := recv(t, ch)
		assert.Equal(t, "a", n.Tracker)
		if n.Progress.Kind == Done {
			done = append(done, n.Progress)
		}
	}
	assert.Equal(t, DoneProgress(request.Ok("ok")), done[0])
	assert.Equal(t, failure.None, done[0].Outcome.Kind())

	require.NoError(t, m.Update(ctx, Set{"a": &request.Descriptor{URL: server.URL + "/x"}}))
	require.NoError(t, m.Update(ctx, Set{}))
	snap, err := m.Inspect(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Trackers)
	mu.Lock()
	assert.Equal(t, 1, cancels)
	mu.Unlock()
	assert.Empty(t, ch, "exactly one Done")
}

func runManager(t *testing.T, m *Manager) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Run(ctx)
	}()
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-errCh:
			case <-time.After(5 * time.Second):
				t.Error("manager did not stop")
			}
		})
		return err
	}
}

func get(path string) *request.Descriptor {
	return &request.Descriptor{URL: "http://example.com" + path}
}

func recv(t *testing.T, ch <-chan Notification) Notification {
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for notification")
		return Notification{}
	}
}

type fakeCall struct {
	d      *request.Descriptor
	report func(Progress)
}

// fakeTransport records starts and cancels in the order the control
// loop issues them. Nothing happens until a test reports progress.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []*fakeCall
	events  []string
	started chan *fakeCall
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan *fakeCall, 100)}
}

func (f *fakeTransport) Start(d *request.Descriptor, report func(Progress)) func() {
	c := &fakeCall{d: d, report: report}
	path := d.URL[len("http://example.com"):]
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.events = append(f.events, "start "+path)
	f.mu.Unlock()
	f.started <- c
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, "cancel "+path)
		})
	}
}

func (f *fakeTransport) call(i int) *fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeTransport) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, len(f.events))
	copy(events, f.events)
	return events
}

// lifecycle records handler events as "<Event> <tracker> <path>", or
// "<Event> <tracker> <progress kind>" for Dropped.
type lifecycle struct {
	ch chan string
}

func newLifecycle() *lifecycle {
	return &lifecycle{ch: make(chan string, 256)}
}

func (lc *lifecycle) handlers() *HandlerGroup {
	g := &HandlerGroup{}
	h := HandlerFunc(func(evt Event, op *Operation) {
		if evt == Dropped {
			lc.ch <- fmt.Sprintf("%s %s %s", evt, op.Tracker, op.Progress.Kind)
			return
		}
		lc.ch <- fmt.Sprintf("%s %s %s", evt, op.Tracker, op.Descriptor.URL[len("http://example.com"):])
	})
	for _, evt := range Events() {
		g.PushBack(evt, h)
	}
	return g
}

func (lc *lifecycle) next(t *testing.T) string {
	select {
	case s := <-lc.ch:
		return s
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for lifecycle event")
		return ""
	}
}

func (lc *lifecycle) drain() []string {
	var events []string
	for {
		select {
		case s := <-lc.ch:
			events = append(events, s)
		default:
			return events
		}
	}
}
