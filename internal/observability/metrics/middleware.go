package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder wraps an http.ResponseWriter to capture the final status
// code and body size while preserving Flusher and Hijacker.
type ResponseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

// NewResponseRecorder constructs a ResponseRecorder defaulting the status code
// to 200 OK when WriteHeader is not invoked by the handler.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status exposes the status code written to the response.
func (rr *ResponseRecorder) Status() int {
	return rr.status
}

// BytesWritten reports the number of body bytes written.
func (rr *ResponseRecorder) BytesWritten() int64 {
	return rr.bytes
}

// WroteHeader reports whether the handler has started the response.
func (rr *ResponseRecorder) WroteHeader() bool {
	return rr.wroteHeader
}

func (rr *ResponseRecorder) WriteHeader(status int) {
	if rr.wroteHeader {
		return
	}
	rr.status = status
	rr.wroteHeader = true
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *ResponseRecorder) Write(p []byte) (int, error) {
	rr.wroteHeader = true
	n, err := rr.ResponseWriter.Write(p)
	rr.bytes += int64(n)
	return n, err
}

// Flush flushes the response when supported by the underlying writer.
func (rr *ResponseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack preserves HTTP/1.1 connection hijacking when available.
func (rr *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// ReadFrom streams data efficiently when supported by the underlying writer.
func (rr *ResponseRecorder) ReadFrom(r io.Reader) (int64, error) {
	rr.wroteHeader = true
	var (
		n   int64
		err error
	)
	if readerFrom, ok := rr.ResponseWriter.(io.ReaderFrom); ok {
		n, err = readerFrom.ReadFrom(r)
	} else {
		n, err = io.Copy(rr.ResponseWriter, r)
	}
	rr.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// HTTPMiddleware records request metrics around the provided handler using the
// supplied recorder (falling back to metrics.Default when nil).
func HTTPMiddleware(recorder *Recorder, next http.Handler) http.Handler {
	rec := recorder
	if rec == nil {
		rec = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rr := NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(rr, r)
		rec.ObserveRequest(r.Method, r.URL.Path, rr.Status(), time.Since(start))
	})
}
