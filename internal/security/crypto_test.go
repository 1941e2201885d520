package security_test

import (
	"bytes"
	"testing"

	"github.com/Rrens/zyra/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshotEncryptor(t *testing.T, secret string) *security.Encryptor {
	t.Helper()

	key, err := security.DeriveKey(secret, "snapshots")
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestEncryptor_SealsSnapshots(t *testing.T) {
	enc := newSnapshotEncryptor(t, "correct horse battery staple")

	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"empty collection", `{"chats":[],"mode":"tutor"}`},
		{"one chat", `{"chats":[{"id":"c1","title":"Fractions","messages":[{"id":"m1","role":"user","content":"What is 1/2 + 1/3?"}],"mode":"exam","pinned":true}],"mode":"exam"}`},
		{"error message", `{"chats":[{"id":"c2","messages":[{"id":"m2","role":"assistant","content":"⚠️ Error: Rate limit reached"}]}]}`},
		{"non-latin", `{"chats":[{"id":"c3","title":"光合作用とは"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Encrypt([]byte(tt.payload))
			require.NoError(t, err)
			if tt.payload != "" {
				assert.False(t, bytes.Contains(sealed, []byte(tt.payload)), "payload must not appear in clear")
			}

			opened, err := enc.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, string(opened))
		})
	}
}

func TestNewEncryptor_KeyLength(t *testing.T) {
	for _, n := range []int{0, 15, 17, 31, 33} {
		_, err := security.NewEncryptor(make([]byte, n))
		assert.Error(t, err, "key length %d", n)
	}
	for _, n := range []int{16, 24, 32} {
		_, err := security.NewEncryptor(make([]byte, n))
		assert.NoError(t, err, "key length %d", n)
	}
}

func TestEncryptor_FreshNonce(t *testing.T) {
	enc := newSnapshotEncryptor(t, "nonce")
	payload := []byte(`{"chats":[],"mode":"tutor"}`)

	first, err := enc.Encrypt(payload)
	require.NoError(t, err)
	second, err := enc.Encrypt(payload)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestEncryptor_RejectsTampering(t *testing.T) {
	enc := newSnapshotEncryptor(t, "tamper")

	sealed, err := enc.Encrypt([]byte(`{"chats":[]}`))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = enc.Decrypt(sealed)
	assert.Error(t, err)

	_, err = enc.Decrypt([]byte("short"))
	assert.ErrorContains(t, err, "too short")
}

func TestDeriveKey(t *testing.T) {
	key1, err := security.DeriveKey("correct horse battery staple", "snapshots")
	require.NoError(t, err)
	assert.Len(t, key1, 32)

	key2, err := security.DeriveKey("correct horse battery staple", "snapshots")
	require.NoError(t, err)
	assert.Equal(t, key1, key2, "derivation is deterministic")

	key3, err := security.DeriveKey("correct horse battery staple", "tokens")
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3, "info separates purposes")

	_, err = security.DeriveKey("", "snapshots")
	assert.Error(t, err)
}

func TestEncryptor_WrongKey(t *testing.T) {
	sealed, err := newSnapshotEncryptor(t, "one").Encrypt([]byte("chat history"))
	require.NoError(t, err)

	_, err = newSnapshotEncryptor(t, "two").Decrypt(sealed)
	assert.Error(t, err)
}
