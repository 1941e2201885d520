package repository

import (
	"context"
	"fmt"

	"github.com/Rrens/zyra/internal/domain"
	"github.com/Rrens/zyra/internal/security"
)

const snapshotKeyInfo = "zyra snapshot v1"

// EncryptedKV seals values with AES-GCM before they reach the wrapped store
type EncryptedKV struct {
	domain.KVStore
	enc *security.Encryptor
}

// NewEncryptedKV derives an AES-256 key from secret and wraps inner
func NewEncryptedKV(inner domain.KVStore, secret string) (*EncryptedKV, error) {
	key, err := security.DeriveKey(secret, snapshotKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}

	enc, err := security.NewEncryptor(key)
	if err != nil {
		return nil, err
	}

	return &EncryptedKV{KVStore: inner, enc: enc}, nil
}

// Get reads and decrypts a value
func (e *EncryptedKV) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.KVStore.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	plain, err := e.enc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return plain, nil
}

// Set encrypts and writes a value
func (e *EncryptedKV) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := e.enc.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	return e.KVStore.Set(ctx, key, sealed)
}
