package mesh

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/getmockd/fakemesh/pkg/headers"
)

const (
	dbDirName      = "db"
	dbFileName     = "mesh.db"
	storageDirName = "storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS nonces (
	key TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	recipient TEXT NOT NULL,
	sender    TEXT NOT NULL,
	chunks    INTEGER NOT NULL,
	headers   TEXT NOT NULL,
	complete  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS messages_recipient ON messages (recipient, seq);
`

// Message is the stored metadata of a sent message.
type Message struct {
	ID        string
	Recipient string
	Sender    string
	// Chunks is the number of chunks the sender announced.
	Chunks int
	// Headers are the optional MESH headers supplied on send, replayed on
	// download.
	Headers *headers.Ordered
	// Complete is set once the final chunk has been received. Only complete
	// messages are listed.
	Complete bool
}

// Store persists mailbox state: message metadata, used nonces and the
// message counter in SQLite, chunk bodies as gzip files.
type Store struct {
	db      *sql.DB
	fileDir string
}

// OpenStore opens or creates the store rooted at dir.
func OpenStore(ctx context.Context, dir string) (*Store, error) {
	dbDir := filepath.Join(dir, dbDirName)
	fileDir := filepath.Join(dir, storageDirName)
	for _, d := range []string{dbDir, fileDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	dsn := filepath.Join(dbDir, dbFileName) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise mailbox database: %w", err)
	}

	return &Store{db: db, fileDir: fileDir}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordNonce stores key and reports whether it had been recorded before.
func (s *Store) RecordNonce(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO nonces (key) VALUES (?)`, key)
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return n == 0, nil
}

// NextSequence returns the next value of the message counter, starting
// at 0.
func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('message', 1)
		ON CONFLICT (name) DO UPDATE SET value = value + 1
		RETURNING value`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate message number: %w", err)
	}
	return v - 1, nil
}

// CreateMessage stores the metadata of a new message.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	hdrs, err := encodeHeaders(m.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, recipient, sender, chunks, headers, complete) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Recipient, m.Sender, m.Chunks, hdrs, m.Complete)
	if err != nil {
		return fmt.Errorf("failed to store message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage returns the metadata of message id.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var (
		m    Message
		hdrs string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, recipient, sender, chunks, headers, complete FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.Recipient, &m.Sender, &m.Chunks, &hdrs, &m.Complete)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	if m.Headers, err = decodeHeaders(hdrs); err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return &m, nil
}

// MarkComplete makes message id visible in its recipient's inbox.
func (s *Store) MarkComplete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET complete = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to complete message %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ListMessages returns the IDs of complete messages addressed to
// recipient, oldest first.
func (s *Store) ListMessages(ctx context.Context, recipient string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM messages WHERE recipient = ? AND complete = 1 ORDER BY seq`, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox %s: %w", recipient, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to list inbox %s: %w", recipient, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMessage removes the metadata and chunk files of message m.
func (s *Store) DeleteMessage(ctx context.Context, m *Message) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, m.ID)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", m.ID, err)
	}
	if err := requireRow(res, m.ID); err != nil {
		return err
	}

	var errs []error
	for n := 1; n <= m.Chunks; n++ {
		if err := s.RemoveChunk(m.Recipient, m.ID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveChunk deletes chunk n of message id. A missing file is not an
// error.
func (s *Store) RemoveChunk(mailbox, id string, n int) error {
	if err := os.Remove(s.chunkPath(mailbox, id, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove chunk %d of %s: %w", n, id, err)
	}
	return nil
}

func (s *Store) chunkPath(mailbox, id string, n int) string {
	return filepath.Join(s.fileDir, fmt.Sprintf("%s_%s_%d.dat", mailbox, id, n))
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return nil
}

func encodeHeaders(h *headers.Ordered) (string, error) {
	var fields []headers.Field
	if h != nil {
		fields = h.Fields()
	}
	if fields == nil {
		fields = []headers.Field{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode message headers: %w", err)
	}
	return string(b), nil
}

func decodeHeaders(s string) (*headers.Ordered, error) {
	var fields []headers.Field
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode message headers: %w", err)
	}
	return headers.New(fields...), nil
}

// validName reports whether s is safe to use as a path component.
func validName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
