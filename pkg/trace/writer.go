package trace

import (
	"net/http"
	"strconv"

	"github.com/getmockd/fakemesh/pkg/headers"
)

// teeWriter decorates a ResponseWriter. The status line and header block
// are copied to the sink when the response starts, and each body chunk is
// copied before it is forwarded.
type teeWriter struct {
	http.ResponseWriter
	emit        func([]byte)
	wroteHeader bool
	status      int
}

// StatusLine renders an HTTP status as "<code> <reason>".
func StatusLine(code int) string {
	if text := http.StatusText(code); text != "" {
		return strconv.Itoa(code) + " " + text
	}
	return strconv.Itoa(code)
}

// startBlock renders a blank line, the status line and the header block
// terminated by a blank line.
func startBlock(code int, h http.Header) []byte {
	block := "\n" + StatusLine(code) + "\n" + headers.FromHTTP(h).String() + "\n"
	return []byte(block)
}

func (w *teeWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.emit(startBlock(code, w.Header()))
	// Informational responses precede the final status.
	if code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// start traces the implicit 200 without forwarding a WriteHeader call, so
// the underlying writer still applies its own defaults on the first Write.
func (w *teeWriter) start() {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = http.StatusOK
	w.emit(startBlock(http.StatusOK, w.Header()))
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.start()
	if len(b) > 0 {
		chunk := make([]byte, len(b))
		copy(chunk, b)
		w.emit(chunk)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher. Flushing commits the response head, so it
// is traced first.
func (w *teeWriter) Flush() {
	w.start()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *teeWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// finish traces the implicit 200 for a handler that returned without
// writing anything. net/http sends that response itself.
func (w *teeWriter) finish() {
	w.start()
}
