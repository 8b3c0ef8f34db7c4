// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"io"
	"net/http"
	"sync"

	"github.com/gogama/httpsync/request"
)

// gate serializes the progress reports of one exchange. The request
// body may be written by the HTTPDoer's own goroutine while the
// response is being read, so reports can originate from two
// goroutines. gate keeps each kind monotonic and suppresses everything
// after Done or cancellation.
type gate struct {
	mu       sync.Mutex
	report   func(Progress)
	closed   bool
	sent     int64
	received int64
	started  bool
}

func (g *gate) sending(sent, size int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || sent <= g.sent {
		return
	}
	g.sent = sent
	g.report(SendingProgress(sent, size))
}

func (g *gate) receiving(received, total int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || (g.started && received <= g.received) {
		return
	}
	g.started = true
	g.received = received
	g.report(ReceivingProgress(received, total))
}

func (g *gate) finish(o request.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.report(DoneProgress(o))
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// meterBody wraps the request body, and every body produced by
// GetBody for redirects and retries, in a sendMeter. The byte count
// restarts with each new body but the gate only reports new highs.
func meterBody(r *http.Request, g *gate) {
	size := r.ContentLength
	r.Body = &sendMeter{r: r.Body, size: size, g: g}
	if getBody := r.GetBody; getBody != nil {
		r.GetBody = func() (io.ReadCloser, error) {
			body, err := getBody()
			if err != nil {
				return nil, err
			}
			return &sendMeter{r: body, size: size, g: g}, nil
		}
	}
}

type sendMeter struct {
	r    io.ReadCloser
	n    int64
	size int64
	g    *gate
}

func (m *sendMeter) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.n += int64(n)
		m.g.sending(m.n, m.size)
	}
	return n, err
}

func (m *sendMeter) Close() error {
	return m.r.Close()
}

type receiveMeter struct {
	r     io.Reader
	n     int64
	total int64
	g     *gate
}

func (m *receiveMeter) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.n += int64(n)
		m.g.receiving(m.n, m.total)
	}
	return n, err
}
