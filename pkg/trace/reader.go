package trace

import "io"

// teeReader decorates a request body. Each chunk is copied to the sink at
// the moment the downstream handler reads it, followed by a newline. It never
// reads ahead of the caller.
type teeReader struct {
	body io.ReadCloser
	emit func([]byte)
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 {
		line := make([]byte, n+1)
		copy(line, p[:n])
		line[n] = '\n'
		t.emit(line)
	}
	return n, err
}

func (t *teeReader) Close() error {
	return t.body.Close()
}
