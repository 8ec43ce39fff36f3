package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/getmockd/fakemesh/pkg/headers"
	"github.com/getmockd/fakemesh/pkg/logging"
	"github.com/getmockd/fakemesh/pkg/metrics"
)

// PathPrefix is the root of every mailbox route.
const PathPrefix = "/messageexchange"

// Handshake headers every client must send when it connects.
var handshakeHeaders = []string{
	"Mex-ClientVersion",
	"Mex-JavaVersion",
	"Mex-OSArchitecture",
	"Mex-OSName",
	"Mex-OSVersion",
}

// optionalHeaders are kept with a message on send and replayed on
// download.
var optionalHeaders = []string{
	"Content-Encoding",
	"Mex-WorkflowID",
	"Mex-FileName",
	"Mex-LocalID",
	"Mex-MessageType",
	"Mex-ProcessID",
	"Mex-Subject",
	"Mex-Encrypted",
	"Mex-Compress",
	"Mex-Compressed",
	"Mex-Chunk-Range",
	"Mex-From",
	"Mex-To",
}

// Config configures the mailbox application.
type Config struct {
	// DataDir holds the metadata database and chunk files.
	DataDir string
	// SharedKey is the HMAC key clients sign tokens with.
	SharedKey string
	// Password is the mailbox password mixed into every token.
	Password string
}

// App is the fake MESH mailbox service.
type App struct {
	store   *Store
	auth    *Authenticator
	clock   *Clock
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the application logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// WithMetrics sets the metrics the application records into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithClock sets the time source used for message IDs.
func WithClock(c *Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// New opens the mailbox store under cfg.DataDir and returns the
// application. Close releases the store.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("mailbox data directory is required")
	}

	st, err := OpenStore(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &App{
		store: st,
		auth:  NewAuthenticator(cfg.SharedKey, cfg.Password, st),
		clock: NewClock(),
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNop()
	}
	return a, nil
}

// Close closes the underlying store.
func (a *App) Close() error {
	return a.store.Close()
}

// Store returns the application's store.
func (a *App) Store() *Store {
	return a.store
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, PathPrefix)
	if !ok || (rest != "" && rest[0] != '/') {
		writeText(w, http.StatusNotFound, "Not Found")
		return
	}

	segs := splitPath(rest)
	var mailbox string
	if len(segs) > 0 {
		mailbox, segs = segs[0], segs[1:]
	}

	if err := a.auth.Authenticate(r.Context(), r.Header.Get("Authorization"), mailbox); err != nil {
		a.rejectAuth(w, r, mailbox, err)
		return
	}

	if len(segs) == 0 {
		a.handshake(w, r)
		return
	}

	switch segs[0] {
	case "inbox":
		a.inbox(w, r, mailbox, segs[1:])
	case "outbox":
		a.outbox(w, r, mailbox, segs[1:])
	case "count":
		a.count(w, r, mailbox)
	case "update":
		a.update(w)
	default:
		writeText(w, http.StatusNotFound, "Not Found")
	}
}

func (a *App) rejectAuth(w http.ResponseWriter, r *http.Request, mailbox string, err error) {
	if !isAuthError(err) {
		a.serverError(w, r, err)
		return
	}
	reason := authReason(err)
	a.metrics.AuthFailures.WithLabelValues(reason).Inc()
	a.log.Warn("authentication rejected", "mailbox", mailbox, "reason", reason, "error", err)

	if errors.Is(err, ErrAuthMissing) {
		writeText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeText(w, http.StatusForbidden, "Forbidden")
}

func (a *App) handshake(w http.ResponseWriter, r *http.Request) {
	for _, h := range handshakeHeaders {
		if len(r.Header.Values(h)) == 0 {
			a.log.Debug("handshake missing header", "header", h)
			writeText(w, http.StatusBadRequest, "Bad Request")
			return
		}
	}
	writeText(w, http.StatusOK, "OK")
}

func (a *App) update(w http.ResponseWriter) {
	w.Header()["Mex-Client-Update-Available"] = []string{""}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) count(w http.ResponseWriter, r *http.Request, mailbox string) {
	if r.Method != http.MethodGet {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	ids, err := a.store.ListMessages(r.Context(), mailbox)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{
		Count:              len(ids),
		InternalID:         internalID(a.clock.Now()),
		AllResultsIncluded: true,
	})
}

type countResponse struct {
	Count              int    `json:"count"`
	InternalID         string `json:"internalID"`
	AllResultsIncluded bool   `json:"allResultsIncluded"`
}

type sendResponse struct {
	MessageID string `json:"messageID"`
}

type inboxResponse struct {
	Messages []string `json:"messages"`
}

type expectationFailure struct {
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	ErrorEvent       string `json:"errorEvent"`
	MessageID        string `json:"messageID"`
}

func expectationFailed(w http.ResponseWriter, description string) {
	writeJSON(w, http.StatusExpectationFailed, expectationFailure{
		ErrorCode:        "02",
		ErrorDescription: description,
		ErrorEvent:       "COLLECT",
		MessageID:        "99999",
	})
}

func (a *App) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeText(w, http.StatusInternalServerError, "Server Error")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Server Error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// splitPath splits "/a/b/" into ["a", "b"].
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isAuthError(err error) bool {
	return errors.Is(err, ErrAuthMissing) ||
		errors.Is(err, ErrAuthMalformed) ||
		errors.Is(err, ErrAuthMismatch) ||
		errors.Is(err, ErrAuthReplay)
}

// isGzip reports whether the request body is declared gzip.
func isGzip(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip")
}

// acceptsGzip reports whether the client will take a gzip body.
func acceptsGzip(r *http.Request) bool {
	return strings.Contains(strings.Join(r.Header.Values("Accept-Encoding"), ","), "gzip")
}

// parseChunkRange returns N from a "n:N" chunk range. An empty range
// means a single chunk.
func parseChunkRange(s string) (int, error) {
	if s == "" {
		return 1, nil
	}
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return 0, fmt.Errorf("invalid Mex-Chunk-Range %q", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[i+1:]))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid Mex-Chunk-Range %q", s)
	}
	return n, nil
}

// parseChunkNumber parses a chunk number path segment. An empty segment is
// chunk 1.
func parseChunkNumber(s string) (int, bool) {
	if s == "" {
		return 1, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil && n >= 1
}

// collectOptionalHeaders snapshots the optional MESH headers of r.
func collectOptionalHeaders(r *http.Request) *headers.Ordered {
	h := &headers.Ordered{}
	for _, name := range optionalHeaders {
		if v := r.Header.Values(name); len(v) > 0 {
			h.Set(name, v[0])
		}
	}
	return h
}
