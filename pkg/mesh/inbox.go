package mesh

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/klauspost/compress/gzip"
)

// inbox handles GET inbox, GET inbox/{id}[/{chunk}] and
// PUT inbox/{id}/status/acknowledged.
func (a *App) inbox(w http.ResponseWriter, r *http.Request, mailbox string, segs []string) {
	switch r.Method {
	case http.MethodPut:
		if len(segs) == 3 && segs[1] == "status" && segs[2] == "acknowledged" {
			a.acknowledge(w, r, mailbox, segs[0])
			return
		}
	case http.MethodGet:
		switch len(segs) {
		case 0:
			a.list(w, r, mailbox)
			return
		case 1:
			a.download(w, r, mailbox, segs[0], "")
			return
		case 2:
			a.download(w, r, mailbox, segs[0], segs[1])
			return
		}
	}
	writeText(w, http.StatusBadRequest, "Bad Request")
}

func (a *App) list(w http.ResponseWriter, r *http.Request, mailbox string) {
	ids, err := a.store.ListMessages(r.Context(), mailbox)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inboxResponse{Messages: ids})
}

// lookup loads message id for its recipient, writing the error response
// when that fails.
func (a *App) lookup(w http.ResponseWriter, r *http.Request, mailbox, id string) (*Message, bool) {
	msg, err := a.store.GetMessage(r.Context(), id)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		writeText(w, http.StatusNotFound, "Not Found")
		return nil, false
	case err != nil:
		a.serverError(w, r, err)
		return nil, false
	case msg.Recipient != mailbox:
		a.log.Warn("message requested by wrong mailbox", "message_id", id, "mailbox", mailbox)
		writeText(w, http.StatusForbidden, "Forbidden")
		return nil, false
	}
	return msg, true
}

func (a *App) download(w http.ResponseWriter, r *http.Request, mailbox, id, chunk string) {
	n, ok := parseChunkNumber(chunk)
	if !ok {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	msg, ok := a.lookup(w, r, mailbox, id)
	if !ok {
		return
	}
	if n > msg.Chunks {
		writeText(w, http.StatusNotFound, "Not Found")
		return
	}

	f, err := a.store.OpenChunk(mailbox, id, n)
	if errors.Is(err, ErrChunkNotFound) {
		writeText(w, http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	for _, field := range msg.Headers.Fields() {
		switch http.CanonicalHeaderKey(field.Name) {
		case "Content-Encoding", "Mex-Chunk-Range":
			// Describe the stored message, not this response.
			continue
		}
		h.Set(field.Name, field.Value)
	}
	h.Set("Mex-Chunk-Range", fmt.Sprintf("%d:%d", n, msg.Chunks))
	h.Set("Mex-MessageID", id)

	status := http.StatusOK
	if msg.Chunks > n {
		status = http.StatusPartialContent
	}

	if acceptsGzip(r) {
		h.Set("Content-Encoding", "gzip")
		if fi, err := f.Stat(); err == nil {
			h.Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
		}
		w.WriteHeader(status)
		a.streamChunk(w, f, id, n)
		return
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		a.serverError(w, r, fmt.Errorf("chunk %d of %s is not gzip: %w", n, id, err))
		return
	}
	defer zr.Close()
	w.WriteHeader(status)
	a.streamChunk(w, zr, id, n)
}

// streamChunk copies a chunk body to the client. A failure after the
// status line has been sent aborts the connection so the client sees a
// truncated response rather than a short one.
func (a *App) streamChunk(w io.Writer, src io.Reader, id string, n int) {
	if _, err := copyBlocks(w, src, make([]byte, ioBlockSize)); err != nil {
		a.log.Warn("chunk download interrupted", "message_id", id, "chunk", n, "error", err)
		panic(http.ErrAbortHandler)
	}
}

func (a *App) acknowledge(w http.ResponseWriter, r *http.Request, mailbox, id string) {
	msg, ok := a.lookup(w, r, mailbox, id)
	if !ok {
		return
	}
	err := a.store.DeleteMessage(r.Context(), msg)
	if errors.Is(err, ErrMessageNotFound) {
		writeText(w, http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.metrics.MessagesAcked.Inc()
	a.log.Info("message acknowledged", "message_id", id, "mailbox", mailbox)
	writeText(w, http.StatusOK, "OK")
}
