package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/domain"
	"github.com/Rrens/zyra/internal/repository"
	"github.com/Rrens/zyra/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStore_LoadSave(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()
	snaps := repository.NewSnapshotStore(kv, "zyra-chat-storage")

	_, found, err := snaps.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	chat := domain.NewChat("What is osmosis?", domain.ModeTutor, time.Unix(1700000000, 0).UTC())
	chat.Messages = append(chat.Messages, domain.NewMessage(domain.RoleUser, "What is osmosis?"))

	require.NoError(t, snaps.Save(ctx, domain.Snapshot{Chats: []domain.Chat{*chat}, Mode: domain.ModeExam}))

	raw, err := kv.Get(ctx, "zyra-chat-storage")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"updatedAt":"2023-11-14T22:13:20Z"`)
	assert.Contains(t, string(raw), `"mode":"exam"`)
	assert.NotContains(t, string(raw), "isTyping")

	snap, found, err := snaps.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.ModeExam, snap.Mode)
	require.Len(t, snap.Chats, 1)
	assert.Equal(t, chat.ID, snap.Chats[0].ID)
	assert.Equal(t, "What is osmosis?", snap.Chats[0].Messages[0].Content)

	require.NoError(t, snaps.Clear(ctx))
	_, found, err = snaps.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotStore_EmptySnapshotEncodesChatsArray(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()
	snaps := repository.NewSnapshotStore(kv, "k")

	require.NoError(t, snaps.Save(ctx, domain.Snapshot{Mode: domain.ModeTutor}))

	raw, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"chats":[],"mode":"tutor"}`, string(raw))
}

func TestSnapshotStore_CorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()
	require.NoError(t, kv.Set(ctx, "k", []byte("{not json")))

	_, _, err := repository.NewSnapshotStore(kv, "k").Load(ctx)
	assert.Error(t, err)
}

func TestRegistry_OpenEncrypted(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewStore()

	reg := repository.NewRegistry()
	reg.Register("memory", func(context.Context, config.StorageConfig) (domain.KVStore, error) {
		return inner, nil
	})

	assert.Equal(t, []string{"memory"}, reg.Drivers())

	_, err := reg.Open(ctx, config.StorageConfig{Driver: "cassandra"})
	assert.Error(t, err)

	kv, err := reg.Open(ctx, config.StorageConfig{Driver: "memory", EncryptionKey: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, "k", []byte(`{"chats":[]}`)))

	sealed, err := inner.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "chats")

	plain, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"chats":[]}`, string(plain))

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
