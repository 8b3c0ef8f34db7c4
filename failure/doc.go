// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package failure classifies the ways an HTTP exchange can fail to
// produce a usable result. The classification is what an application
// sees in the terminal outcome of a request: a malformed target, a
// timeout, a transport-level network failure, a non-2XX status, or a
// response body the caller's interpreter rejected.
//
// Package failure is extremely lightweight, as it depends only on
// standard library packages, so it doesn't bring any significant
// dependencies when imported as a standalone package.
package failure
