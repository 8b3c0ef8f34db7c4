// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpsync

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gogama/httpsync/failure"
	"github.com/gogama/httpsync/request"
	"github.com/gogama/httpsync/timeout"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// A Transport performs HTTP exchanges on behalf of the Manager.
type Transport interface {
	// Start begins the exchange described by d and returns at once.
	//
	// The transport calls report with Sending and Receiving events as
	// the exchange progresses, and finally with exactly one Done event,
	// unless the exchange is canceled first. report is safe to call
	// from any goroutine, including from within Start.
	//
	// The returned cancel function aborts the exchange. It must be
	// idempotent and safe to call after the exchange has completed.
	// After cancel returns the transport should stop calling report,
	// though the Manager discards any event that still arrives.
	Start(d *request.Descriptor, report func(Progress)) (cancel func())
}

// The TransportFunc type is an adapter to allow the use of ordinary
// functions as transports.
type TransportFunc func(d *request.Descriptor, report func(Progress)) func()

// Start calls f(d, report).
func (f TransportFunc) Start(d *request.Descriptor, report func(Progress)) func() {
	return f(d, report)
}

// An HTTPDoer implements a Do method in the same manner as the GoLang
// standard library http.Client from the net/http package.
type HTTPDoer interface {
	// Do sends an HTTP request and returns an HTTP response following
	// policy (such as redirects, cookies, auth) configured on the
	// HTTPDoer.
	//
	// The Do method must follow the contract documented on the GoLang
	// standard library http.Client from the net/http package.
	Do(r *http.Request) (*http.Response, error)
}

// HTTPTransport is the Transport used by a zero value Manager. It runs
// each exchange on its own goroutine through an HTTPDoer. Its zero
// value is a valid configuration.
//
// HTTPTransport reads and buffers the whole response body, reporting
// Receiving progress as it goes, and then turns the response into an
// Outcome using the descriptor's interpreter. Each exchange is traced
// as an OpenTelemetry client span, and the trace context is propagated
// in the request headers using the global propagator.
type HTTPTransport struct {
	// HTTPDoer specifies the mechanics of sending HTTP requests and
	// receiving responses.
	//
	// If HTTPDoer is nil, http.DefaultClient from the standard net/http
	// package is used.
	HTTPDoer HTTPDoer
	// TimeoutPolicy specifies how long each exchange may take.
	//
	// If TimeoutPolicy is nil, timeout.DefaultPolicy is used.
	TimeoutPolicy timeout.Policy
	// Jar holds the credentials attached to requests whose descriptor
	// sets AllowCrossOriginCredentials. Cookies received in response to
	// such requests are stored back into Jar. Requests that do not
	// allow credentials never see Jar.
	//
	// If Jar is nil, no credentials are managed by the transport.
	Jar http.CookieJar
	// Tracer creates the span for each exchange.
	//
	// If Tracer is nil, a tracer is obtained from the global
	// OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

const instrumentationName = "github.com/gogama/httpsync"

// Start begins the exchange described by d on a new goroutine.
func (t *HTTPTransport) Start(d *request.Descriptor, report func(Progress)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	g := &gate{report: report}
	go t.exchange(ctx, d, g)
	return func() {
		g.close()
		cancel()
	}
}

func (t *HTTPTransport) exchange(ctx context.Context, d *request.Descriptor, g *gate) {
	ctx, span := t.tracer().Start(ctx, "httpsync "+d.EffectiveMethod(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", d.EffectiveMethod()),
			attribute.String("url.full", d.URL),
			attribute.String("httpsync.tracker", d.Tracker),
		))
	defer span.End()

	o, ok := t.do(ctx, d, g)
	if !ok {
		span.SetStatus(codes.Error, "canceled")
		return
	}
	if o.Err != nil {
		if code := o.Err.StatusCode(); code != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", code))
		}
		span.SetAttributes(attribute.String("httpsync.failure", o.Err.Kind.String()))
		span.SetStatus(codes.Error, o.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	g.finish(o)
}

// do performs the exchange. The second return value is false if ctx was
// canceled, in which case nothing must be reported.
func (t *HTTPTransport) do(ctx context.Context, d *request.Descriptor, g *gate) (request.Outcome, bool) {
	tctx, cancel := context.WithTimeout(ctx, t.timeoutPolicy().Timeout(d))
	defer cancel()

	r, err := d.ToRequest(tctx)
	if err != nil {
		return request.Fail(request.TransportError(err)), true
	}
	otel.GetTextMapPropagator().Inject(tctx, propagation.HeaderCarrier(r.Header))
	jar := t.jar(d)
	if jar != nil {
		for _, c := range jar.Cookies(r.URL) {
			r.AddCookie(c)
		}
	}
	if r.Body != nil {
		meterBody(r, g)
	}

	resp, err := t.doer().Do(r)
	if err != nil {
		return failed(ctx, tctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if jar != nil {
		if rc := resp.Cookies(); len(rc) > 0 {
			jar.SetCookies(r.URL, rc)
		}
	}

	body, err := readBody(resp, g)
	if err != nil {
		return failed(ctx, tctx, err)
	}

	md := request.Metadata{
		URL:        r.URL.String(),
		StatusCode: resp.StatusCode,
		StatusText: resp.Status,
		Header:     resp.Header,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		md.URL = resp.Request.URL.String()
	}
	return request.Interpret(d, &request.Response{Metadata: md, Body: body}), true
}

func failed(ctx, tctx context.Context, err error) (request.Outcome, bool) {
	if ctx.Err() != nil {
		return request.Outcome{}, false
	}
	e := request.TransportError(err)
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		e.Kind = failure.Timeout
	}
	return request.Fail(e), true
}

func readBody(resp *http.Response, g *gate) ([]byte, error) {
	total := resp.ContentLength
	if total < 0 {
		total = -1
	}
	r := &receiveMeter{r: resp.Body, total: total, g: g}
	return io.ReadAll(r)
}

func (t *HTTPTransport) doer() HTTPDoer {
	if t.HTTPDoer == nil {
		return http.DefaultClient
	}

	return t.HTTPDoer
}

func (t *HTTPTransport) timeoutPolicy() timeout.Policy {
	if t.TimeoutPolicy == nil {
		return timeout.DefaultPolicy
	}

	return t.TimeoutPolicy
}

func (t *HTTPTransport) tracer() trace.Tracer {
	if t.Tracer == nil {
		return otel.Tracer(instrumentationName)
	}

	return t.Tracer
}

func (t *HTTPTransport) jar(d *request.Descriptor) http.CookieJar {
	if !d.AllowCrossOriginCredentials {
		return nil
	}

	return t.Jar
}
