// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gogama/httpsync/failure"
	"github.com/tidwall/gjson"
)

// Metadata describes a received HTTP response, without its body.
type Metadata struct {
	// URL is the final URL of the exchange, after any redirects.
	URL string
	// StatusCode is the HTTP status code, e.g. 200.
	StatusCode int
	// StatusText is the status line text, e.g. "200 OK".
	StatusText string
	// Header holds the response header fields.
	Header http.Header
}

// Successful indicates whether the status code is in the 2XX range.
func (m *Metadata) Successful() bool {
	return m.StatusCode >= 200 && m.StatusCode <= 299
}

// A Response is a received HTTP response with its fully-buffered body.
// It is the input to an Interpreter.
type Response struct {
	Metadata
	Body []byte
}

// An Interpreter converts a raw 2XX response into the value an
// application wants. An error returned by the interpreter produces a
// DecodeFailure outcome carrying the error message.
type Interpreter func(r *Response) (interface{}, error)

// Text is an Interpreter returning the response body as a string.
func Text(r *Response) (interface{}, error) {
	return string(r.Body), nil
}

// Bytes is an Interpreter returning the response body as a []byte.
func Bytes(r *Response) (interface{}, error) {
	return r.Body, nil
}

// JSONPath returns an Interpreter that selects the value at path from a
// JSON response body, using GJSON path syntax, and returns it as a
// gjson.Result. The interpreter fails if the body is not valid JSON or
// if nothing exists at path.
func JSONPath(path string) Interpreter {
	return func(r *Response) (interface{}, error) {
		if !gjson.ValidBytes(r.Body) {
			return nil, errors.New("body is not valid JSON")
		}
		v := gjson.GetBytes(r.Body, path)
		if !v.Exists() {
			return nil, fmt.Errorf("no value at path %q", path)
		}
		return v, nil
	}
}

// An Outcome is the terminal result of one HTTP exchange: either Value
// (when Err is nil) or a typed failure.
type Outcome struct {
	// Value is the interpreter's result. It is only meaningful when Err
	// is nil.
	Value interface{}
	// Err describes the failure, or is nil on success.
	Err *Error
}

// Ok returns a successful outcome holding v.
func Ok(v interface{}) Outcome {
	return Outcome{Value: v}
}

// Fail returns a failed outcome holding err.
func Fail(err *Error) Outcome {
	return Outcome{Err: err}
}

// Succeeded indicates whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Kind returns the failure kind of the outcome, or failure.None on
// success.
func (o Outcome) Kind() failure.Kind {
	if o.Err == nil {
		return failure.None
	}
	return o.Err.Kind
}

// An Error is a failed Outcome.
//
// Metadata and Body are set for BadStatus and DecodeFailure, which both
// happen after a response was received. Cause holds the underlying Go
// error for BadURL, Timeout, NetworkError, and DecodeFailure.
type Error struct {
	Kind     failure.Kind
	Message  string
	Metadata *Metadata
	Body     []byte
	Cause    error
}

// Error returns a description of the failure.
func (e *Error) Error() string {
	switch {
	case e.Kind == failure.BadStatus && e.Metadata != nil:
		return fmt.Sprintf("httpsync: bad status: %s", e.Metadata.StatusText)
	case e.Message != "":
		return fmt.Sprintf("httpsync: %s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("httpsync: %s", e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the status code of the response the failure
// concerns. If there is no response, 0 is returned.
func (e *Error) StatusCode() int {
	if e.Metadata == nil {
		return 0
	}
	return e.Metadata.StatusCode
}

// TransportError builds the Error for an exchange that failed before a
// response was received. The kind is chosen by failure.Categorize.
func TransportError(err error) *Error {
	return &Error{
		Kind:    failure.Categorize(err),
		Message: err.Error(),
		Cause:   err,
	}
}

// Interpret turns a received response into an Outcome: BadStatus for a
// non-2XX status code, DecodeFailure if the descriptor's interpreter
// rejects the response, and Ok otherwise.
func Interpret(d *Descriptor, r *Response) Outcome {
	if !r.Successful() {
		md := r.Metadata
		return Fail(&Error{Kind: failure.BadStatus, Metadata: &md, Body: r.Body})
	}
	v, err := d.Interpret(r)
	if err != nil {
		md := r.Metadata
		return Fail(&Error{
			Kind:     failure.DecodeFailure,
			Message:  err.Error(),
			Metadata: &md,
			Body:     r.Body,
			Cause:    err,
		})
	}
	return Ok(v)
}
