package trace

import (
	"net/http"
	"strings"

	"github.com/getmockd/fakemesh/pkg/headers"
)

// transportHeaders describe framing rather than content and are not listed
// among the request's application headers. Content-Type is reported on its
// own line.
var transportHeaders = []string{"Content-Type", "Content-Length"}

// Option configures the interceptor.
type Option func(*options)

type options struct {
	onError func(*http.Request, error)
}

// WithErrorHandler registers a callback invoked when the sink fails to
// accept a write, just before the request is aborted.
func WithErrorHandler(fn func(*http.Request, error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// Middleware returns a decorator that traces every exchange to sink.
// The decorated handler produces byte-identical responses to next.
//
// The traced header block is the handler's header map when the response
// starts. Headers net/http fills in while sending, such as a sniffed
// Content-Type, Content-Length or Date, do not appear in the trace.
//
// Sink failures are not recovered: the request is aborted with
// http.ErrAbortHandler, which closes that connection only.
//
// If sink is nil, the handler is returned unchanged.
func Middleware(sink *Sink, opts ...Option) func(http.Handler) http.Handler {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		if sink == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			emit := func(b []byte) {
				if err := sink.Emit(b); err != nil {
					if o.onError != nil {
						o.onError(r, err)
					}
					panic(http.ErrAbortHandler)
				}
			}

			emit(requestHead(r))

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = &teeReader{body: r.Body, emit: emit}
			}

			tw := &teeWriter{ResponseWriter: w, emit: emit}
			next.ServeHTTP(tw, r)
			tw.finish()

			emit([]byte("\n"))
		})
	}
}

// requestHead renders the request line, the Content-Type line when present,
// and one "<lowercased-name>: <values>" line per application header in
// sorted order.
func requestHead(r *http.Request) []byte {
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}

	var b strings.Builder
	b.WriteString(r.Method + " " + uri + "\n")

	if ct := r.Header.Get("Content-Type"); ct != "" {
		b.WriteString("Content-Type: " + ct + "\n")
	}

	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, name := range transportHeaders {
		h.Del(name)
	}
	if r.Host != "" {
		h.Set("Host", r.Host)
	}

	app := headers.FromHTTP(h)
	for _, name := range app.Names() {
		b.WriteString(strings.ToLower(name) + ": " + strings.Join(app.Values(name), ", ") + "\n")
	}
	return []byte(b.String())
}
