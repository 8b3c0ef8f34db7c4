// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// A Header is one request header field. Descriptors carry headers as
// an ordered slice so that duplicate names are allowed and are sent in
// the order given.
type Header struct {
	Name  string
	Value string
}

// NewHeader returns a Header with the given name and value.
func NewHeader(name, value string) Header {
	return Header{Name: name, Value: value}
}

// A Descriptor describes one HTTP exchange an application wants
// outstanding.
//
// The field structure mirrors the client side of http.Request where
// that makes sense. All fields except Interpreter participate in the
// descriptor's Fingerprint.
type Descriptor struct {
	// Method specifies the HTTP method (GET, POST, PUT, etc.).
	// An empty string means GET.
	Method string

	// URL specifies the absolute URL to access. A URL that cannot be
	// parsed, or that has no scheme or host, produces a BadURL outcome
	// when the request is started.
	URL string

	// Headers contains the request header fields to be sent, in order.
	// Duplicate names are allowed.
	Headers []Header

	// Body is the request body. The zero value is the empty body.
	Body Body

	// Interpreter converts the raw response to the value delivered in
	// a successful Outcome. If nil, Text is used.
	Interpreter Interpreter

	// Timeout is the maximum duration of the whole exchange, from
	// sending the request to reading the last byte of the response. A
	// zero value means the descriptor sets no timeout, leaving the
	// decision to the transport's timeout policy.
	Timeout time.Duration

	// Tracker is the id of the logical slot the request occupies. An
	// empty tracker means the request is untracked: it is fired once
	// and forgotten, and cannot be canceled by reconciliation.
	Tracker string

	// AllowCrossOriginCredentials indicates whether credentials such
	// as cookies may be attached to the request and stored from its
	// response.
	AllowCrossOriginCredentials bool
}

// Tracked reports whether the descriptor names a tracker.
func (d *Descriptor) Tracked() bool {
	return d.Tracker != ""
}

// EffectiveMethod returns the descriptor's method, defaulting to GET.
func (d *Descriptor) EffectiveMethod() string {
	if d.Method == "" {
		return http.MethodGet
	}
	return d.Method
}

// Interpret runs the descriptor's interpreter, or Text if it has none.
func (d *Descriptor) Interpret(r *Response) (interface{}, error) {
	if d.Interpreter == nil {
		return Text(r)
	}
	return d.Interpreter(r)
}

// A ValidationError reports a descriptor that can never be sent as
// given. failure.Categorize classifies it as BadURL, since repeating
// the request fails the same way.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return "httpsync/request: " + e.msg
}

// Malformed always returns true.
func (e *ValidationError) Malformed() bool {
	return true
}

func invalid(format string, a ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, a...)}
}

// Validate checks that the descriptor can be turned into an HTTP
// request. URL problems are reported as *url.Error with Op "parse",
// and all other problems as *ValidationError, so that
// failure.Categorize classifies both as BadURL.
func (d *Descriptor) Validate() error {
	if !validMethod(d.EffectiveMethod()) {
		return invalid("invalid method %q", d.Method)
	}
	if _, err := d.parseURL(); err != nil {
		return err
	}
	for _, h := range d.Headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return invalid("invalid header name %q", h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return invalid("invalid value for header %q", h.Name)
		}
	}
	if d.Timeout < 0 {
		return invalid("negative timeout")
	}
	return nil
}

// ToRequest creates the HTTP request corresponding to the descriptor.
// The context of the new request is set to ctx, which may not be nil.
//
// Headers are added in descriptor order. If the body has a MIME type
// and no Content-Type header was given explicitly, the body's type is
// used.
func (d *Descriptor) ToRequest(ctx context.Context) (*http.Request, error) {
	if ctx == nil {
		return nil, errors.New(nilCtxMsg)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	u, _ := d.parseURL()
	contentType, b, err := d.Body.Encode()
	if err != nil {
		return nil, err
	}
	r, err := http.NewRequestWithContext(ctx, d.EffectiveMethod(), u.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, h := range d.Headers {
		r.Header.Add(h.Name, h.Value)
	}
	if contentType != "" && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", contentType)
	}
	if len(b) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(b))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
		r.ContentLength = int64(len(b))
	}
	return r, nil
}

func (d *Descriptor) parseURL() (*urlpkg.URL, error) {
	u, err := urlpkg.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		return nil, &urlpkg.Error{Op: "parse", URL: d.URL, Err: errors.New("missing scheme")}
	}
	if u.Host == "" {
		return nil, &urlpkg.Error{Op: "parse", URL: d.URL, Err: errors.New("missing host")}
	}
	u.Host = removeEmptyPort(u.Host)
	return u, nil
}

const nilCtxMsg = "httpsync/request: nil context"

func validMethod(method string) bool {
	/*
	     Method         = "OPTIONS"                ; Section 9.2
	                    | "GET"                    ; Section 9.3
	                    | "HEAD"                   ; Section 9.4
	                    | "POST"                   ; Section 9.5
	                    | "PUT"                    ; Section 9.6
	                    | "DELETE"                 ; Section 9.7
	                    | "TRACE"                  ; Section 9.8
	                    | "CONNECT"                ; Section 9.9
	                    | extension-method
	   extension-method = token
	     token          = 1*<any CHAR except CTLs or separators>
	*/
	return len(method) > 0 && strings.IndexFunc(method, isNotToken) == -1
}

func isNotToken(r rune) bool {
	return !httpguts.IsTokenRune(r)
}

// hasPort is lifted verbatim from net/http/http.go
//
// Given a string of the form "host", "host:port", or "[ipv6::address]:port",
// return true if the string includes a port.
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort is lifted verbatim from net/http/http.go
//
// removeEmptyPort strips the empty port in ":port" to ""
// as mandated by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}
