// Package tee captures HTTP responses in the serialized form stored by the
// cache while optionally streaming them to a client at the same time.
package tee

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
)

// Recorder is an http.ResponseWriter that records the response into a
// buffer in HTTP/1.1 wire format, suitable for http.ReadResponse later.
// If an underlying writer is given, the response is also written through.
type Recorder struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
}

// NewRecorder returns a Recorder. If w is nil, the response is only
// recorded (used when installing precache entries with no client waiting).
func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{
		rw:     w,
		b:      &bytes.Buffer{},
		header: http.Header{},
	}
}

func (t *Recorder) Header() http.Header {
	return t.header
}

func (t *Recorder) WriteHeader(statusCode int) {
	t.wroteHeaders = true
	t.status = statusCode
	// HTTP 1.1 format only
	fmt.Fprintf(t.b, "HTTP/1.1 %d %s\r\n", statusCode, http.StatusText(statusCode))
	t.header.Write(t.b)
	t.b.WriteString("\r\n")
	if t.rw != nil {
		copyHeader(t.rw.Header(), t.header)
		t.rw.WriteHeader(statusCode)
	}
}

func (t *Recorder) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if t.rw != nil {
		t.rw.Write(b)
	}
	return t.b.Write(b)
}

// StatusCode returns the recorded status code.
func (t *Recorder) StatusCode() int {
	return t.status
}

// Bytes returns the recorded response in wire format.
func (t *Recorder) Bytes() []byte {
	return t.b.Bytes()
}

// ReadResponse parses previously recorded wire-format bytes back into an
// http.Response.
func ReadResponse(recorded []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(recorded)), nil)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
