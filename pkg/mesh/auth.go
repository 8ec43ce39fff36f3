package mesh

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AuthScheme prefixes MESH authorization tokens.
const AuthScheme = "NHSMESH"

// NonceRecorder remembers which nonces have been presented.
type NonceRecorder interface {
	// RecordNonce stores key and reports whether it was already stored.
	RecordNonce(ctx context.Context, key string) (bool, error)
}

// Token is a parsed MESH authorization token.
type Token struct {
	Mailbox    string
	Nonce      string
	NonceCount string
	Timestamp  string
	Hash       string
}

// ParseToken parses "NHSMESH mailbox:nonce:nonce_count:timestamp:hash".
// The scheme prefix is optional.
func ParseToken(header string) (*Token, error) {
	raw := strings.TrimPrefix(header, AuthScheme+" ")
	parts := strings.Split(raw, ":")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d", ErrAuthMalformed, len(parts))
	}
	return &Token{
		Mailbox:    parts[0],
		Nonce:      parts[1],
		NonceCount: parts[2],
		Timestamp:  parts[3],
		Hash:       parts[4],
	}, nil
}

// String renders the token as an Authorization header value.
func (t *Token) String() string {
	return AuthScheme + " " + strings.Join([]string{t.Mailbox, t.Nonce, t.NonceCount, t.Timestamp, t.Hash}, ":")
}

// nonceKey identifies a nonce for replay detection.
func (t *Token) nonceKey() string {
	return t.Mailbox + ":" + t.Nonce + ":" + t.NonceCount
}

// Sign returns the hex HMAC-SHA256 over
// "mailbox:nonce:nonce_count:password:timestamp".
func Sign(sharedKey []byte, mailbox, nonce, nonceCount, password, timestamp string) string {
	mac := hmac.New(sha256.New, sharedKey)
	mac.Write([]byte(strings.Join([]string{mailbox, nonce, nonceCount, password, timestamp}, ":")))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewToken builds a signed token for mailbox.
func NewToken(sharedKey []byte, password, mailbox, nonce, nonceCount, timestamp string) *Token {
	return &Token{
		Mailbox:    mailbox,
		Nonce:      nonce,
		NonceCount: nonceCount,
		Timestamp:  timestamp,
		Hash:       Sign(sharedKey, mailbox, nonce, nonceCount, password, timestamp),
	}
}

// Authenticator verifies MESH authorization tokens.
type Authenticator struct {
	sharedKey []byte
	password  string
	nonces    NonceRecorder
}

// NewAuthenticator returns an Authenticator that accepts tokens signed with
// sharedKey over password.
func NewAuthenticator(sharedKey, password string, nonces NonceRecorder) *Authenticator {
	return &Authenticator{
		sharedKey: []byte(sharedKey),
		password:  password,
		nonces:    nonces,
	}
}

// Authenticate checks header against the mailbox named in the request
// path. Every well-formed token has its nonce recorded, whether or not it
// is accepted.
func (a *Authenticator) Authenticate(ctx context.Context, header, mailbox string) error {
	if header == "" {
		return ErrAuthMissing
	}
	tok, err := ParseToken(header)
	if err != nil {
		return err
	}

	want := Sign(a.sharedKey, tok.Mailbox, tok.Nonce, tok.NonceCount, a.password, tok.Timestamp)

	used, err := a.nonces.RecordNonce(ctx, tok.nonceKey())
	if err != nil {
		return err
	}

	switch {
	case !hmac.Equal([]byte(want), []byte(tok.Hash)):
		return fmt.Errorf("%w: bad signature for %s", ErrAuthMismatch, tok.Mailbox)
	case tok.Mailbox != mailbox:
		return fmt.Errorf("%w: token for %s used on mailbox %s", ErrAuthMismatch, tok.Mailbox, mailbox)
	case used:
		return fmt.Errorf("%w: %s", ErrAuthReplay, tok.nonceKey())
	}
	return nil
}
