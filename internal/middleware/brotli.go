// middleware/brotli.go
package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// brotliMinLength is the smallest body worth compressing. Attempt detail
// and roster payloads clear it easily; single-answer acks do not.
const brotliMinLength = 1024

// compressingWriter buffers the response until it is large enough to be
// worth compressing, then switches to the brotli stream. Small responses
// pass through uncompressed on the deferred drain.
type compressingWriter struct {
	gin.ResponseWriter
	br        *brotli.Writer
	pending   []byte
	engaged   bool
	setHeader sync.Once
}

func (w *compressingWriter) Write(data []byte) (int, error) {
	w.pending = append(w.pending, data...)
	if len(w.pending) < brotliMinLength {
		return len(data), nil
	}

	w.setHeader.Do(func() {
		w.engaged = true
		w.ResponseWriter.Header().Set("Content-Encoding", "br")
		w.ResponseWriter.Header().Del("Content-Length")
	})
	n, err := w.br.Write(w.pending)
	w.pending = w.pending[:0]
	return n, err
}

func (w *compressingWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush drains the buffer uncompressed and forwards the flush, so a
// streaming handler that slipped past the skip checks still works.
func (w *compressingWriter) Flush() {
	if len(w.pending) > 0 {
		_, _ = w.ResponseWriter.Write(w.pending)
		w.pending = w.pending[:0]
	}
	w.ResponseWriter.Flush()
}

func (w *compressingWriter) drain() error {
	if len(w.pending) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.pending)
	w.pending = w.pending[:0]
	return err
}

// Brotli compresses JSON responses for clients that advertise br support.
// The two realtime surfaces are exempt: the attempt WebSocket stream must
// keep its Upgrade handshake untouched, and the monitor SSE feed needs
// every frame on the wire immediately.
func Brotli() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isRealtime(c) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		w := &compressingWriter{
			ResponseWriter: c.Writer,
			br:             brotli.NewWriterLevel(c.Writer, brotli.DefaultCompression),
		}
		defer func() {
			if err := w.drain(); err != nil {
				_ = c.Error(err)
			}
			if w.engaged {
				w.br.Close()
			}
		}()

		c.Writer = w
		c.Next()
	}
}

// isRealtime matches the WebSocket and SSE entry points by protocol
// markers rather than path, so route renames cannot silently re-enable
// buffering on them.
func isRealtime(c *gin.Context) bool {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.ToLower(enc)) == "br" {
			return true
		}
	}
	return false
}
