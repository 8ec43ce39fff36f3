package mesh

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memNonces struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (m *memNonces) RecordNonce(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	used := m.seen[key]
	m.seen[key] = true
	return used, nil
}

func TestSign(t *testing.T) {
	t.Parallel()

	mac := hmac.New(sha256.New, []byte("BackBone"))
	mac.Write([]byte("X26ABC1:nonce:1:password:202601011200"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign([]byte("BackBone"), "X26ABC1", "nonce", "1", "password", "202601011200"))
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	tok, err := ParseToken("NHSMESH mb:nonce:3:ts:abc")
	require.NoError(t, err)
	assert.Equal(t, &Token{Mailbox: "mb", Nonce: "nonce", NonceCount: "3", Timestamp: "ts", Hash: "abc"}, tok)
	assert.Equal(t, "NHSMESH mb:nonce:3:ts:abc", tok.String())

	tok, err = ParseToken("mb:nonce:3:ts:abc")
	require.NoError(t, err)
	assert.Equal(t, "mb", tok.Mailbox)

	for _, bad := range []string{"NHSMESH", "a:b:c:d", "a:b:c:d:e:f"} {
		_, err := ParseToken(bad)
		assert.ErrorIs(t, err, ErrAuthMalformed, bad)
	}
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	nonces := &memNonces{}
	auth := NewAuthenticator("BackBone", "password", nonces)
	ctx := context.Background()
	key := []byte("BackBone")

	valid := NewToken(key, "password", "mb", "n1", "1", "ts").String()
	require.NoError(t, auth.Authenticate(ctx, valid, "mb"))
	assert.ErrorIs(t, auth.Authenticate(ctx, valid, "mb"), ErrAuthReplay)

	assert.ErrorIs(t, auth.Authenticate(ctx, "", "mb"), ErrAuthMissing)
	assert.ErrorIs(t, auth.Authenticate(ctx, "junk", "mb"), ErrAuthMalformed)
	assert.ErrorIs(t, auth.Authenticate(ctx, NewToken(key, "password", "mb", "n2", "1", "ts").String(), "other"), ErrAuthMismatch)
	assert.ErrorIs(t, auth.Authenticate(ctx, NewToken(key, "nope", "mb", "n3", "1", "ts").String(), "mb"), ErrAuthMismatch)

	// Mismatched tokens still record their nonce.
	assert.True(t, nonces.seen["mb:n2:1"])
	assert.True(t, nonces.seen["mb:n3:1"])
}

func TestAuthenticator_StoreFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	auth := NewAuthenticator("k", "p", &memNonces{err: boom})
	err := auth.Authenticate(context.Background(), NewToken([]byte("k"), "p", "mb", "n", "1", "ts").String(), "mb")
	require.ErrorIs(t, err, boom)
	assert.False(t, isAuthError(err))
}

func TestAuthReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "missing", authReason(ErrAuthMissing))
	assert.Equal(t, "malformed", authReason(ErrAuthMalformed))
	assert.Equal(t, "replay", authReason(ErrAuthReplay))
	assert.Equal(t, "mismatch", authReason(ErrAuthMismatch))
}
