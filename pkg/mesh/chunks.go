package mesh

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// ioBlockSize is the copy buffer size for chunk bodies.
const ioBlockSize = 64 << 10

// WriteChunk stores chunk n of message id for mailbox. Chunk files are
// always gzip: a body that is already gzip is stored as received, any
// other body is compressed while it streams in. The file only appears
// once the body has been fully written. It returns the number of body
// bytes read.
func (s *Store) WriteChunk(mailbox, id string, n int, body io.Reader, gzipped bool) (int64, error) {
	if !validName(mailbox) || !validName(id) {
		return 0, ErrInvalidName
	}

	tmp, err := os.CreateTemp(s.fileDir, ".chunk-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk file: %w", err)
	}
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := make([]byte, ioBlockSize)
	var written int64
	if gzipped {
		written, err = copyBlocks(tmp, body, buf)
	} else {
		zw, zerr := gzip.NewWriterLevel(tmp, gzip.BestCompression)
		if zerr != nil {
			return 0, zerr
		}
		written, err = copyBlocks(zw, body, buf)
		if err == nil {
			err = zw.Close()
		}
	}
	if err != nil {
		return written, fmt.Errorf("failed to write chunk %d of %s: %w", n, id, err)
	}

	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("failed to write chunk %d of %s: %w", n, id, err)
	}
	if err := os.Rename(tmp.Name(), s.chunkPath(mailbox, id, n)); err != nil {
		return written, fmt.Errorf("failed to store chunk %d of %s: %w", n, id, err)
	}
	tmp = nil
	return written, nil
}

// OpenChunk opens the stored (gzip) body of chunk n of message id.
func (s *Store) OpenChunk(mailbox, id string, n int) (*os.File, error) {
	if !validName(mailbox) || !validName(id) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(s.chunkPath(mailbox, id, n))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%d", ErrChunkNotFound, id, n)
	}
	return f, err
}

// copyBlocks copies src to dst one buffer at a time. Unlike io.CopyBuffer
// it never hands the copy off to a ReaderFrom or WriterTo, so memory use is
// bounded by buf.
func copyBlocks(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
