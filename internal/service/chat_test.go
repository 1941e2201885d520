package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/zyra/internal/domain"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/Rrens/zyra/internal/repository"
	"github.com/Rrens/zyra/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const storageKey = "zyra-chat-storage"

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, d)
	return nil
}

func testRouter(p llm.Provider) *llm.Router {
	r := llm.NewRouter("mock")
	r.RegisterProvider(p)
	r.RegisterMode(domain.ModeTutor, domain.ModePreset{Provider: "mock", Model: "fast", Temperature: 0.7, MaxTokens: 1024})
	r.RegisterMode(domain.ModeExam, domain.ModePreset{Provider: "mock", Model: "slow", Temperature: 0.3, MaxTokens: 2048})
	return r
}

func newTestStore(t *testing.T, p llm.Provider, kv *memory.Store, opts ...Option) (*ChatStore, *sleepRecorder) {
	t.Helper()

	sleeps := &sleepRecorder{}
	base := []Option{
		WithSystemPrompt("You are Zyra."),
		WithClock(func() time.Time { return fixedNow }),
		WithRetryPolicy(llm.RetryPolicy{MaxRetries: 3, InitialBackoff: time.Second, Sleep: sleeps.sleep}),
		WithTitleGeneration(TitleConfig{Enabled: false}),
	}

	store, err := NewChatStore(context.Background(), testRouter(p), repository.NewSnapshotStore(kv, storageKey), append(base, opts...)...)
	require.NoError(t, err)
	return store, sleeps
}

func messageByID(t *testing.T, store *ChatStore, chatID, messageID string) domain.Message {
	t.Helper()
	chat, ok := store.Chat(chatID)
	require.True(t, ok)
	idx := chat.MessageIndex(messageID)
	require.GreaterOrEqual(t, idx, 0)
	return chat.Messages[idx]
}

func TestChatStore_CreateChat(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, new(MockProvider), memory.NewStore())

	sixty := strings.Repeat("abcdefghij", 6)

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"short text verbatim", "Explain photosynthesis simply", "Explain photosynthesis simply"},
		{"long text truncated", sixty, sixty[:40] + "..."},
		{"absent text placeholder", "", "New Chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := store.CreateChat(ctx, tt.text)

			chat, ok := store.Chat(id)
			require.True(t, ok)
			assert.Equal(t, tt.expected, chat.Title)
			assert.Empty(t, chat.Messages)
			assert.Equal(t, domain.ModeTutor, chat.Mode)
			assert.Equal(t, fixedNow, chat.UpdatedAt)
			assert.Equal(t, id, store.ActiveChatID())
			assert.Equal(t, id, store.Chats()[0].ID, "new chats go to the front")
		})
	}

	assert.Len(t, store.Chats(), 3)
}

func TestChatStore_SendMessage_CreatesSingleChat(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("Hi!"), nil).Once()
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("Sure."), nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore())

	store.SendMessage(ctx, "Hello")
	chats := store.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, chats[0].ID, store.ActiveChatID())
	assert.Equal(t, "Hello", chats[0].Title)

	store.SendMessage(ctx, "Explain more")
	chats = store.Chats()
	require.Len(t, chats, 1, "follow-up messages reuse the active chat")

	msgs := chats[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hi!", msgs[1].Content)
	assert.Equal(t, "Explain more", msgs[2].Content)
	assert.Equal(t, "Sure.", msgs[3].Content)
	assert.False(t, store.Status().IsTyping)

	provider.AssertExpectations(t)
}

func TestChatStore_SendMessage_BuildsRequestFromMode(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	store, _ := newTestStore(t, provider, memory.NewStore(), WithHistoryWindow(2))

	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("a1"), nil).Once()
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("a2"), nil).Once()
	store.SendMessage(ctx, "q1")
	store.SendMessage(ctx, "q2")

	require.NoError(t, store.SetMode(ctx, domain.ModeExam))

	provider.On("StreamChat", mock.Anything, mock.MatchedBy(func(req llm.ChatRequest) bool {
		return req.Model == "slow" && req.MaxTokens == 2048 && req.Temperature == 0.3
	})).Return(newFakeStream("a3"), nil).Once()
	store.SendMessage(ctx, "q3")

	provider.AssertExpectations(t)

	last := provider.Calls[len(provider.Calls)-1].Arguments.Get(1).(llm.ChatRequest)
	require.Len(t, last.Messages, 4, "system + window of 2 + new turn")
	assert.Equal(t, llm.RoleSystem, last.Messages[0].Role)
	assert.Equal(t, "You are Zyra.", last.Messages[0].Content)
	assert.Equal(t, "q2", last.Messages[1].Content)
	assert.Equal(t, "a2", last.Messages[2].Content)
	assert.Equal(t, "q3", last.Messages[3].Content)
}

func TestChatStore_SendMessage_BlankIsNoop(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()
	provider := new(MockProvider)
	store, _ := newTestStore(t, provider, kv)

	var events []Event
	store.Subscribe(func(ev Event) { events = append(events, ev) })

	for _, text := range []string{"", "   \n\t"} {
		chatID, started := store.SendMessage(ctx, text)
		assert.False(t, started)
		assert.Empty(t, chatID)
	}

	assert.Empty(t, store.Chats())
	assert.Empty(t, events)
	_, err := kv.Get(ctx, storageKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	provider.AssertNotCalled(t, "StreamChat", mock.Anything, mock.Anything)
}

func TestChatStore_StreamingUpdatesArePrefixes(t *testing.T) {
	ctx := context.Background()
	chunks := []string{"Photo", "synthesis ", "turns light ", "into sugar."}

	provider := new(MockProvider)
	stream := newFakeStream(chunks...)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(stream, nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore())

	var seen []string
	store.Subscribe(func(ev Event) {
		if ev.Type == EventMessageUpdated {
			seen = append(seen, messageByID(t, store, ev.ChatID, ev.MessageID).Content)
			assert.True(t, ev.Status.IsTyping)
		}
	})

	store.SendMessage(ctx, "What is photosynthesis?")

	var want []string
	acc := ""
	for _, c := range chunks {
		acc += c
		want = append(want, acc)
	}
	assert.Equal(t, want, seen)
	assert.True(t, stream.closed)

	chat := store.Chats()[0]
	last, _ := chat.LastMessage()
	assert.Equal(t, domain.RoleAssistant, last.Role)
	assert.Equal(t, strings.Join(chunks, ""), last.Content)
}

func TestChatStore_RateLimitRetry(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(nil, rateLimited(7)).Once()
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(nil, rateLimited(8)).Once()
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(nil, rateLimited(9)).Once()
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("finally"), nil).Once()

	store, sleeps := newTestStore(t, provider, memory.NewStore())

	var waits []int
	store.Subscribe(func(ev Event) {
		if ev.Type == EventStatusChanged && ev.Status.RateLimitWait != nil {
			waits = append(waits, *ev.Status.RateLimitWait)
		}
	})

	store.SendMessage(ctx, "Quiz me")

	provider.AssertNumberOfCalls(t, "StreamChat", 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.durations)
	assert.Equal(t, []int{7, 8, 9}, waits)

	status := store.Status()
	assert.False(t, status.IsTyping)
	assert.Nil(t, status.RateLimitWait, "cleared once the cycle settles")

	last, _ := store.Chats()[0].LastMessage()
	assert.Equal(t, "finally", last.Content)
}

func TestChatStore_RateLimitBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(nil, rateLimited(30)).Times(4)

	store, sleeps := newTestStore(t, provider, memory.NewStore())
	store.SendMessage(ctx, "Quiz me")

	provider.AssertNumberOfCalls(t, "StreamChat", 4)
	assert.Len(t, sleeps.durations, 3)

	msgs := store.Chats()[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "⚠️ Error: Rate limit reached", msgs[1].Content)
	assert.False(t, store.Status().IsTyping)
}

func TestChatStore_NetworkFailure(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused")).Once()

	store, sleeps := newTestStore(t, provider, memory.NewStore())

	assert.NotPanics(t, func() { store.SendMessage(ctx, "Hello?") })

	assert.Empty(t, sleeps.durations, "only rate limits are retried")
	assert.False(t, store.Status().IsTyping)

	msgs := store.Chats()[0].Messages
	require.Len(t, msgs, 2)

	var assistant []domain.Message
	for _, m := range msgs {
		if m.Role == domain.RoleAssistant {
			assistant = append(assistant, m)
		}
	}
	require.Len(t, assistant, 1)
	assert.Equal(t, "⚠️ Error: dial tcp: connection refused", assistant[0].Content)
}

func TestChatStore_MidStreamFailureKeepsPartialContent(t *testing.T) {
	ctx := context.Background()
	stream := newFakeStream("Partial ", "answer")
	stream.err = errors.New("connection reset by peer")

	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(stream, nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore())
	store.SendMessage(ctx, "Tell me")

	msgs := store.Chats()[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "Partial answer", msgs[1].Content)
	assert.True(t, strings.HasPrefix(msgs[2].Content, "⚠️ Error: "))
	assert.Contains(t, msgs[2].Content, "connection reset by peer")
	assert.False(t, store.Status().IsTyping)
}

func TestChatStore_StreamingGuard(t *testing.T) {
	ctx := context.Background()
	blocking := &blockingStream{release: make(chan struct{})}

	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(blocking, nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore())

	done := make(chan struct{})
	go func() {
		store.SendMessage(ctx, "first")
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Status().IsTyping }, time.Second, 5*time.Millisecond)

	chatID := store.ActiveChatID()
	_, started := store.SendMessage(ctx, "second")
	assert.False(t, started)
	_, started = store.SendMessageAsync(ctx, "third")
	assert.False(t, started)
	assert.False(t, store.RegenerateMessage(ctx, chatID))
	assert.False(t, store.RegenerateMessageAsync(ctx, chatID))

	close(blocking.release)
	<-done

	chat, _ := store.Chat(chatID)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "first", chat.Messages[0].Content)
	assert.Equal(t, "done", chat.Messages[1].Content)
	provider.AssertNumberOfCalls(t, "StreamChat", 1)
}

func TestChatStore_RegenerateMessage(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("first answer"), nil).Once()
	provider.On("StreamChat", mock.Anything, mock.MatchedBy(func(req llm.ChatRequest) bool {
		last := req.Messages[len(req.Messages)-1]
		return len(req.Messages) == 2 && last.Role == llm.RoleUser && last.Content == "Define osmosis"
	})).Return(newFakeStream("second answer"), nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore())
	store.SendMessage(ctx, "Define osmosis")
	chatID := store.ActiveChatID()

	before, _ := store.Chat(chatID)
	require.Len(t, before.Messages, 2)
	oldReplyID := before.Messages[1].ID

	store.RegenerateMessage(ctx, chatID)

	after, _ := store.Chat(chatID)
	require.Len(t, after.Messages, 2)
	assert.Equal(t, before.Messages[0].ID, after.Messages[0].ID)
	assert.NotEqual(t, oldReplyID, after.Messages[1].ID)
	assert.Equal(t, "second answer", after.Messages[1].Content)
	provider.AssertExpectations(t)
}

func TestChatStore_RegenerateWithoutUserMessageIsNoop(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()

	greeting := domain.NewChat("", domain.ModeTutor, fixedNow)
	greeting.Messages = append(greeting.Messages, domain.NewMessage(domain.RoleAssistant, "Welcome to Zyra!"))
	require.NoError(t, repository.NewSnapshotStore(kv, storageKey).Save(ctx, domain.Snapshot{
		Chats: []domain.Chat{*greeting},
		Mode:  domain.ModeTutor,
	}))

	provider := new(MockProvider)
	store, _ := newTestStore(t, provider, kv)

	store.RegenerateMessage(ctx, greeting.ID)
	emptyID := store.CreateChat(ctx, "")
	store.RegenerateMessage(ctx, emptyID)
	store.RegenerateMessage(ctx, "missing")

	chat, ok := store.Chat(greeting.ID)
	require.True(t, ok)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "Welcome to Zyra!", chat.Messages[0].Content)
	provider.AssertNotCalled(t, "StreamChat", mock.Anything, mock.Anything)
}

func TestChatStore_UpdateMessage(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("ok"), nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore())
	store.SendMessage(ctx, "tpyo")
	chatID := store.ActiveChatID()
	chat, _ := store.Chat(chatID)

	store.UpdateMessage(ctx, chatID, chat.Messages[0].ID, "typo")
	store.UpdateMessage(ctx, chatID, "missing", "ignored")
	store.UpdateMessage(ctx, "missing", chat.Messages[0].ID, "ignored")

	updated, _ := store.Chat(chatID)
	assert.Equal(t, "typo", updated.Messages[0].Content)
	assert.Equal(t, "ok", updated.Messages[1].Content)
}

func TestChatStore_DeleteActiveChat(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, new(MockProvider), memory.NewStore())

	older := store.CreateChat(ctx, "older")
	active := store.CreateChat(ctx, "active")
	require.Equal(t, active, store.ActiveChatID())

	store.DeleteChat(ctx, older)
	assert.Equal(t, active, store.ActiveChatID(), "deleting another chat keeps the pointer")

	store.DeleteChat(ctx, active)
	assert.Empty(t, store.ActiveChatID())
	assert.Empty(t, store.Chats())
}

func TestChatStore_RenameAndPin(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, new(MockProvider), memory.NewStore())
	id := store.CreateChat(ctx, "Algebra")

	store.TogglePin(ctx, id)
	chat, _ := store.Chat(id)
	assert.True(t, chat.Pinned)

	store.TogglePin(ctx, id)
	chat, _ = store.Chat(id)
	assert.False(t, chat.Pinned, "toggling twice restores the original value")

	store.RenameChat(ctx, id, "  Linear equations ")
	chat, _ = store.Chat(id)
	assert.Equal(t, "Linear equations", chat.Title)

	store.RenameChat(ctx, id, "   ")
	chat, _ = store.Chat(id)
	assert.Equal(t, "New Chat", chat.Title, "title is never empty")
}

func TestChatStore_SetActiveChatAndMode(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, new(MockProvider), memory.NewStore())

	first := store.CreateChat(ctx, "first")
	store.CreateChat(ctx, "second")

	require.NoError(t, store.SetActiveChat(ctx, first))
	assert.Equal(t, first, store.ActiveChatID())

	err := store.SetActiveChat(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrChatNotFound)
	assert.Equal(t, first, store.ActiveChatID())

	err = store.SetMode(ctx, "bogus")
	assert.ErrorIs(t, err, domain.ErrUnknownMode)
	assert.Equal(t, domain.ModeTutor, store.Mode())

	require.NoError(t, store.SetMode(ctx, domain.ModeExam))
	assert.Equal(t, domain.ModeExam, store.Mode())
	chat, _ := store.Chat(first)
	assert.Equal(t, domain.ModeExam, chat.Mode)

	newID := store.CreateChat(ctx, "third")
	created, _ := store.Chat(newID)
	assert.Equal(t, domain.ModeExam, created.Mode)

	require.NoError(t, store.SetActiveChat(ctx, ""))
	assert.Empty(t, store.ActiveChatID())
}

func TestChatStore_PersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()

	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("Mitochondria."), nil).Once()

	store, _ := newTestStore(t, provider, kv)
	store.SendMessage(ctx, "Powerhouse of the cell?")
	pinned := store.CreateChat(ctx, "Pinned notes")
	store.TogglePin(ctx, pinned)
	require.NoError(t, store.SetMode(ctx, domain.ModeExam))

	reloaded, _ := newTestStore(t, new(MockProvider), kv)

	before, after := store.Chats(), reloaded.Chats()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Title, after[i].Title)
		assert.Equal(t, before[i].Pinned, after[i].Pinned)
		assert.Equal(t, before[i].Messages, after[i].Messages)
		assert.True(t, before[i].UpdatedAt.Equal(after[i].UpdatedAt))
	}

	assert.Equal(t, domain.ModeExam, reloaded.Mode())
	assert.Empty(t, reloaded.ActiveChatID(), "the active pointer is not persisted")
	assert.False(t, reloaded.Status().IsTyping)
}

func TestChatStore_TitleGeneration(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("Plants make food."), nil).Once()
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("Chlorophyll."), nil).Once()
	provider.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.ChatRequest) bool {
		return req.MaxTokens == 20 &&
			len(req.Messages) == 2 &&
			req.Messages[0].Content == "Title this chat" &&
			req.Messages[1].Content == "Explain photosynthesis simply"
	})).Return(&llm.Response{Content: `"Photosynthesis Basics."`}, nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore(), WithTitleGeneration(TitleConfig{
		Enabled:   true,
		Prompt:    "Title this chat",
		MaxTokens: 20,
		Timeout:   time.Second,
	}))

	store.SendMessage(ctx, "Explain photosynthesis simply")
	store.Wait()

	chat, _ := store.Chat(store.ActiveChatID())
	assert.Equal(t, "Photosynthesis Basics", chat.Title)

	store.SendMessage(ctx, "What pigment?")
	store.Wait()

	provider.AssertNumberOfCalls(t, "Complete", 1)
	provider.AssertExpectations(t)
}

func TestChatStore_TitleGenerationFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("Sure."), nil).Once()
	provider.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("title service down")).Once()

	store, _ := newTestStore(t, provider, memory.NewStore(), WithTitleGeneration(TitleConfig{
		Enabled:   true,
		MaxTokens: 20,
		Timeout:   time.Second,
	}))

	store.SendMessage(ctx, "Explain photosynthesis simply")
	store.Wait()

	chats := store.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "Explain photosynthesis simply", chats[0].Title)
	require.Len(t, chats[0].Messages, 2)
	assert.Equal(t, "Sure.", chats[0].Messages[1].Content)
}

func TestChatStore_SubscribeCancel(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, new(MockProvider), memory.NewStore())

	count := 0
	cancel := store.Subscribe(func(Event) { count++ })

	store.CreateChat(ctx, "one")
	cancel()
	store.CreateChat(ctx, "two")

	assert.Equal(t, 1, count)
}

func TestChatStore_SendMessageAsync(t *testing.T) {
	ctx := context.Background()
	blocking := &blockingStream{release: make(chan struct{})}

	provider := new(MockProvider)
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(blocking, nil).Once()
	provider.On("StreamChat", mock.Anything, mock.Anything).Return(newFakeStream("again"), nil).Once()

	store, _ := newTestStore(t, provider, memory.NewStore())

	chatID, started := store.SendMessageAsync(ctx, "Quiz me on cells")
	require.True(t, started)
	assert.Equal(t, chatID, store.ActiveChatID())

	// The user turn is stored before the call returns
	chat, ok := store.Chat(chatID)
	require.True(t, ok)
	require.NotEmpty(t, chat.Messages)
	assert.Equal(t, "Quiz me on cells", chat.Messages[0].Content)
	assert.True(t, store.Status().IsTyping)

	close(blocking.release)
	store.Wait()

	chat, _ = store.Chat(chatID)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "done", chat.Messages[1].Content)
	assert.False(t, store.Status().IsTyping)

	require.True(t, store.RegenerateMessageAsync(ctx, chatID))
	store.Wait()

	chat, _ = store.Chat(chatID)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "again", chat.Messages[1].Content)
	assert.False(t, store.RegenerateMessage(ctx, "missing"))
	provider.AssertExpectations(t)
}
