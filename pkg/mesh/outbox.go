package mesh

import (
	"errors"
	"net/http"
)

// outbox handles POST outbox (send) and POST outbox/{id}/{chunk}.
func (a *App) outbox(w http.ResponseWriter, r *http.Request, mailbox string, segs []string) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	switch len(segs) {
	case 0:
		a.send(w, r, mailbox)
	case 2:
		a.uploadChunk(w, r, mailbox, segs[0], segs[1])
	default:
		writeText(w, http.StatusBadRequest, "Bad Request")
	}
}

func (a *App) send(w http.ResponseWriter, r *http.Request, mailbox string) {
	recipient := r.Header.Get("Mex-To")
	sender := r.Header.Get("Mex-From")
	switch {
	case recipient == "":
		expectationFailed(w, "missing Mex-To header")
		return
	case sender == "":
		expectationFailed(w, "missing Mex-From header")
		return
	case sender != mailbox:
		expectationFailed(w, "Mex-From does not match the authenticated mailbox")
		return
	case !validName(recipient):
		expectationFailed(w, "invalid Mex-To header")
		return
	}

	chunks, err := parseChunkRange(r.Header.Get("Mex-Chunk-Range"))
	if err != nil {
		expectationFailed(w, err.Error())
		return
	}

	seq, err := a.store.NextSequence(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	id := FormatMessageID(a.clock.Now(), seq)

	size, err := a.store.WriteChunk(recipient, id, 1, r.Body, isGzip(r))
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.metrics.ChunksStored.Inc()

	msg := &Message{
		ID:        id,
		Recipient: recipient,
		Sender:    sender,
		Chunks:    chunks,
		Headers:   collectOptionalHeaders(r),
		Complete:  chunks == 1,
	}
	if err := a.store.CreateMessage(r.Context(), msg); err != nil {
		if rmErr := a.store.RemoveChunk(recipient, id, 1); rmErr != nil {
			a.log.Warn("failed to remove orphaned chunk", "message_id", id, "error", rmErr)
		}
		a.serverError(w, r, err)
		return
	}
	a.metrics.MessagesSent.Inc()
	a.log.Info("message sent",
		"message_id", id,
		"from", sender,
		"to", recipient,
		"chunks", chunks,
		"bytes", size,
	)

	writeJSON(w, http.StatusAccepted, sendResponse{MessageID: id})
}

func (a *App) uploadChunk(w http.ResponseWriter, r *http.Request, mailbox, id, chunk string) {
	n, ok := parseChunkNumber(chunk)
	if !ok {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	msg, err := a.store.GetMessage(r.Context(), id)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		writeText(w, http.StatusNotFound, "Not Found")
		return
	case err != nil:
		a.serverError(w, r, err)
		return
	case msg.Sender != mailbox:
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	case n > msg.Chunks:
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	if _, err := a.store.WriteChunk(msg.Recipient, id, n, r.Body, isGzip(r)); err != nil {
		a.serverError(w, r, err)
		return
	}
	a.metrics.ChunksStored.Inc()

	if n == msg.Chunks && !msg.Complete {
		if err := a.store.MarkComplete(r.Context(), id); err != nil {
			a.serverError(w, r, err)
			return
		}
		a.log.Info("message complete", "message_id", id, "to", msg.Recipient, "chunks", msg.Chunks)
	}

	writeText(w, http.StatusAccepted, "")
}
