// Package middleware holds cross-cutting gin middleware, analogous to the
// teacher's internal/api/middleware package.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// timeoutWriter buffers the handler's response instead of writing straight
// to the underlying http.ResponseWriter. The handler goroutine only ever
// touches this buffer; the real ResponseWriter is written to exactly once,
// by whichever side (handler-finished or deadline-expired) gets there
// first, so the two goroutines never race on the same writer. Mirrors the
// buffered-writer technique gin-contrib/timeout uses for the same problem.
type timeoutWriter struct {
	gin.ResponseWriter
	mu          sync.Mutex
	body        *bytes.Buffer
	statusCode  int
	wroteHeader bool
	timedOut    bool
}

func newTimeoutWriter(w gin.ResponseWriter) *timeoutWriter {
	return &timeoutWriter{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
}

func (w *timeoutWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut || w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = code
}

func (w *timeoutWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		// Response already sent by the timeout path; discard quietly so the
		// handler goroutine doesn't see a write error and log spuriously.
		return len(data), nil
	}
	return w.body.Write(data)
}

func (w *timeoutWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// flush copies the buffered response to the real writer. Called only after
// the handler goroutine has finished, so nothing else touches the buffer.
func (w *timeoutWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return
	}
	w.ResponseWriter.WriteHeader(w.statusCode)
	w.ResponseWriter.Write(w.body.Bytes())
}

// markTimedOut claims the real writer for the timeout path. Returns false if
// the handler had already committed a response (WriteHeader called) before
// the deadline fired, in which case that response stands.
func (w *timeoutWriter) markTimedOut() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.wroteHeader {
		return false
	}
	w.timedOut = true
	return true
}

// RequestTimeout bounds every handler to budget, per spec.md §5. The handler
// runs in its own goroutine against a buffered writer; on deadline, the 504
// is written directly to the real ResponseWriter from this goroutine, and
// the handler goroutine (which may still be running, since Go has no hard
// preemption) keeps writing into the now-discarded buffer instead of racing
// on the live connection.
func RequestTimeout(budget time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), budget)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		original := c.Writer
		tw := newTimeoutWriter(original)
		c.Writer = tw

		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Next()
		}()

		select {
		case <-done:
			tw.flush()
		case <-ctx.Done():
			if tw.markTimedOut() {
				original.WriteHeader(http.StatusGatewayTimeout)
			} else {
				<-done
				tw.flush()
			}
		}
	}
}
