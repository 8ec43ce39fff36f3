// Package trace implements a transparent diagnostic interceptor for HTTP
// handlers. It copies request heads, request body reads, response heads and
// response body writes to a Sink while passing every byte through to and
// from the wrapped handler unchanged.
package trace

import (
	"io"
	"os"
	"sync"
)

// Sink serializes trace output from concurrent requests. Each call to Emit
// reaches the underlying writer as a single Write, so lines and blocks from
// different requests never interleave mid-line. No ordering is imposed
// across requests.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSink returns a Sink writing to w. A nil w writes to os.Stderr.
func NewSink(w io.Writer) *Sink {
	if w == nil {
		w = os.Stderr
	}
	return &Sink{w: w}
}

// Emit writes b as one atomic unit.
func (s *Sink) Emit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(b)
	return err
}

// EmitString is Emit for a string.
func (s *Sink) EmitString(str string) error {
	return s.Emit([]byte(str))
}
