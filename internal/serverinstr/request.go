package serverinstr

import (
	"bufio"
	"net"
	"net/http"
	"sync/atomic"
)

// Middleware counts every request on arrival and records its final status
// when the handler returns. A request whose headers were never sent, because
// the client went away or the handler aborted, is recorded as 499.
func (i *Instrumentor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		i.requestReceived(ctx)

		rec := &statusRecorder{ResponseWriter: w}
		completed := false
		defer func() {
			if rec.finished.CompareAndSwap(false, true) {
				i.requestHandled(ctx, rec.outcome(completed && ctx.Err() == nil))
			}
		}()

		next.ServeHTTP(rec, r)
		completed = true
	})
}

type statusRecorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
	finished    atomic.Bool
}

// outcome returns the status to record. An untouched response from a handler
// that returned normally gets the implicit 200 net/http sends for it.
func (rec *statusRecorder) outcome(completed bool) int {
	switch {
	case rec.wroteHeader:
		return rec.status
	case completed:
		return http.StatusOK
	default:
		return StatusClientClosedRequest
	}
}

func (rec *statusRecorder) markWritten(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
}

func (rec *statusRecorder) WriteHeader(code int) {
	// Informational responses precede the final header.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		rec.ResponseWriter.WriteHeader(code)
		return
	}
	rec.markWritten(code)
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.markWritten(http.StatusOK)
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Flush() {
	rec.markWritten(http.StatusOK)
	_ = http.NewResponseController(rec.ResponseWriter).Flush()
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(rec.ResponseWriter).Hijack()
	if err == nil {
		rec.markWritten(http.StatusSwitchingProtocols)
	}
	return conn, rw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
