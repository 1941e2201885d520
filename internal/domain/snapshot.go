package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a KVStore when the key holds no value
	ErrNotFound = errors.New("key not found")

	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrUnknownMode     = errors.New("unknown mode")
)

// Snapshot is the persisted form of the chat store.
// Transient state (streaming flag, rate-limit wait) is never part of it.
type Snapshot struct {
	Chats []Chat `json:"chats"`
	Mode  Mode   `json:"mode"`
}

// KVStore is the key-value storage the chat snapshot is written to
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
