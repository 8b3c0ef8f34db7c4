// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// A BodyKind identifies the variant held by a Body.
type BodyKind int

const (
	// Empty is the kind of a body with no content.
	Empty BodyKind = iota
	// String is the kind of a body holding a string with a MIME type.
	String
	// Multipart is the kind of a multipart/form-data body.
	Multipart
)

var bodyKindNames = []string{"Empty", "String", "Multipart"}

// String returns the name of the body kind.
func (k BodyKind) String() string {
	if k < Empty || int(k) >= len(bodyKindNames) {
		return "BodyKind(?)"
	}
	return bodyKindNames[k]
}

// A Body is the request body of a Descriptor. It is one of three
// variants: empty, a string with a MIME type, or a multipart form. The
// zero value is the empty body.
//
// Body values are immutable. Use EmptyBody, StringBody, JSONBody, or
// MultipartBody to construct them.
type Body struct {
	kind  BodyKind
	mime  string
	text  string
	parts []Part
}

// A Part is one field of a multipart form body.
type Part struct {
	// Name is the form field name.
	Name string
	// Filename is the file name reported for file parts. It is empty
	// for plain string fields.
	Filename string
	// MIME is the content type of file parts.
	MIME string
	// Content is the part content.
	Content string
}

// EmptyBody returns the empty body.
func EmptyBody() Body {
	return Body{}
}

// StringBody returns a body holding s, sent with content type mime.
func StringBody(mime, s string) Body {
	return Body{kind: String, mime: mime, text: s}
}

// JSONBody returns a body holding already-encoded JSON text, sent with
// content type application/json.
func JSONBody(encoded string) Body {
	return StringBody("application/json", encoded)
}

// MultipartBody returns a multipart/form-data body made of the given
// parts, in order.
func MultipartBody(parts ...Part) Body {
	p := make([]Part, len(parts))
	copy(p, parts)
	return Body{kind: Multipart, parts: p}
}

// StringPart returns a plain multipart form field.
func StringPart(name, value string) Part {
	return Part{Name: name, Content: value}
}

// FilePart returns a multipart form field carrying file content.
func FilePart(name, filename, mime string, content []byte) Part {
	return Part{Name: name, Filename: filename, MIME: mime, Content: string(content)}
}

// Kind returns the body variant.
func (b Body) Kind() BodyKind {
	return b.kind
}

// MIME returns the content type of a String body. For the other kinds
// it returns the empty string.
func (b Body) MIME() string {
	return b.mime
}

// Text returns the content of a String body.
func (b Body) Text() string {
	return b.text
}

// Parts returns a copy of the parts of a Multipart body.
func (b Body) Parts() []Part {
	if len(b.parts) == 0 {
		return nil
	}
	p := make([]Part, len(b.parts))
	copy(p, b.parts)
	return p
}

// Encode returns the content type and encoded bytes of the body.
//
// The empty body encodes to an empty content type and nil bytes. A
// multipart body is encoded with a fresh random boundary, so two
// encodings of the same body differ byte-wise; the boundary is not part
// of the body's identity.
func (b Body) Encode() (contentType string, data []byte, err error) {
	switch b.kind {
	case Empty:
		return "", nil, nil
	case String:
		return b.mime, []byte(b.text), nil
	case Multipart:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, p := range b.parts {
			if err = writePart(w, p); err != nil {
				return "", nil, err
			}
		}
		if err = w.Close(); err != nil {
			return "", nil, err
		}
		return w.FormDataContentType(), buf.Bytes(), nil
	default:
		return "", nil, fmt.Errorf("httpsync/request: invalid body kind %d", b.kind)
	}
}

func writePart(w *multipart.Writer, p Part) error {
	if p.Filename == "" {
		return w.WriteField(p.Name, p.Content)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(p.Name), escapeQuotes(p.Filename)))
	mime := p.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	h.Set("Content-Type", mime)
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = pw.Write([]byte(p.Content))
	return err
}

// quoteEscaper is lifted verbatim from mime/multipart/writer.go.
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
