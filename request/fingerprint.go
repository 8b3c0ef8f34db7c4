// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// A Fingerprint is the structural identity of a Descriptor. Two
// descriptors have equal fingerprints exactly when their method, URL,
// headers (names, values, and order), body, timeout, and credential
// flag are equal. The interpreter and the tracker id do not take part.
//
// Fingerprint values are comparable and may be used as map keys. The
// zero Fingerprint is never produced by a descriptor.
type Fingerprint [sha256.Size]byte

// String returns an abbreviated hexadecimal form, useful for logging.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:6])
}

// IsZero indicates whether f is the zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Fingerprint computes the descriptor's structural identity.
//
// The method is compared after defaulting, so an empty method and GET
// produce the same fingerprint.
func (d *Descriptor) Fingerprint() Fingerprint {
	h := sha256.New()
	w := fpWriter{h: h}
	w.str(d.EffectiveMethod())
	w.str(d.URL)
	w.int(int64(len(d.Headers)))
	for _, hd := range d.Headers {
		w.str(hd.Name)
		w.str(hd.Value)
	}
	w.int(int64(d.Body.kind))
	switch d.Body.kind {
	case String:
		w.str(d.Body.mime)
		w.str(d.Body.text)
	case Multipart:
		w.int(int64(len(d.Body.parts)))
		for _, p := range d.Body.parts {
			w.str(p.Name)
			w.str(p.Filename)
			w.str(p.MIME)
			w.str(p.Content)
		}
	}
	w.int(int64(d.Timeout))
	if d.AllowCrossOriginCredentials {
		w.int(1)
	} else {
		w.int(0)
	}
	var f Fingerprint
	h.Sum(f[:0])
	return f
}

// fpWriter writes length-prefixed fields so that no two different
// field sequences share an encoding.
type fpWriter struct {
	h   hash.Hash
	buf [binary.MaxVarintLen64]byte
}

func (w *fpWriter) int(n int64) {
	k := binary.PutVarint(w.buf[:], n)
	_, _ = w.h.Write(w.buf[:k])
}

func (w *fpWriter) str(s string) {
	w.int(int64(len(s)))
	_, _ = w.h.Write([]byte(s))
}
