package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/zyra/internal/domain"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/Rrens/zyra/internal/repository"
	"github.com/rs/zerolog/log"
)

const errorMessagePrefix = "⚠️ Error: "

// TitleConfig controls background title generation
type TitleConfig struct {
	Enabled   bool
	Prompt    string
	MaxTokens int
	Timeout   time.Duration
}

// Option configures a ChatStore
type Option func(*ChatStore)

// WithSystemPrompt sets the instruction prepended to every request
func WithSystemPrompt(prompt string) Option {
	return func(s *ChatStore) { s.systemPrompt = prompt }
}

// WithHistoryWindow sets how many prior messages are sent with a new turn
func WithHistoryWindow(n int) Option {
	return func(s *ChatStore) { s.historyWindow = n }
}

// WithRetryPolicy sets the rate-limit retry policy
func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(s *ChatStore) { s.retry = p }
}

// WithTitleGeneration configures the background title call
func WithTitleGeneration(cfg TitleConfig) Option {
	return func(s *ChatStore) { s.title = cfg }
}

// WithDefaultMode sets the mode used when no snapshot names one
func WithDefaultMode(mode domain.Mode) Option {
	return func(s *ChatStore) { s.mode = mode }
}

// WithCycleTimeout bounds one response cycle; zero means no bound
func WithCycleTimeout(d time.Duration) Option {
	return func(s *ChatStore) { s.cycleTimeout = d }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *ChatStore) { s.now = now }
}

// ChatStore owns the chat collection and runs response cycles against the
// configured LLM providers. Every mutation is applied under one mutex and
// followed by a snapshot save.
type ChatStore struct {
	router    *llm.Router
	snapshots *repository.SnapshotStore

	systemPrompt  string
	historyWindow int
	retry         llm.RetryPolicy
	title         TitleConfig
	cycleTimeout  time.Duration
	now           func() time.Time

	mu            sync.Mutex
	chats         []*domain.Chat
	activeChatID  string
	mode          domain.Mode
	isTyping      bool
	rateLimitWait *int

	observersMu sync.RWMutex
	observers   map[int]Observer
	nextObs     int

	background sync.WaitGroup
}

// NewChatStore builds a store and loads the persisted snapshot
func NewChatStore(ctx context.Context, router *llm.Router, snapshots *repository.SnapshotStore, opts ...Option) (*ChatStore, error) {
	s := &ChatStore{
		router:        router,
		snapshots:     snapshots,
		historyWindow: 10,
		retry:         llm.DefaultRetryPolicy(),
		title: TitleConfig{
			Enabled:   true,
			MaxTokens: 20,
			Timeout:   10 * time.Second,
		},
		now:       time.Now,
		mode:      domain.ModeTutor,
		chats:     []*domain.Chat{},
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, found, err := snapshots.Load(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		for i := range snap.Chats {
			chat := snap.Chats[i]
			chat.Title = domain.NormalizeTitle(chat.Title)
			if chat.Messages == nil {
				chat.Messages = []domain.Message{}
			}
			s.chats = append(s.chats, &chat)
		}
		if snap.Mode != "" && router.HasMode(snap.Mode) {
			s.mode = snap.Mode
		}
	}

	log.Info().Int("chats", len(s.chats)).Str("mode", string(s.mode)).Msg("Chat store loaded")
	return s, nil
}

// Subscribe registers an observer and returns its cancel function
func (s *ChatStore) Subscribe(fn Observer) func() {
	s.observersMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.observersMu.Unlock()

	return func() {
		s.observersMu.Lock()
		delete(s.observers, id)
		s.observersMu.Unlock()
	}
}

// Wait blocks until background cycles and title generation have finished
func (s *ChatStore) Wait() {
	s.background.Wait()
}

// Chats returns a copy of the collection, most recent first
func (s *ChatStore) Chats() []domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Chat, len(s.chats))
	for i, c := range s.chats {
		out[i] = c.Clone()
	}
	return out
}

// Chat returns a copy of one chat
func (s *ChatStore) Chat(chatID string) (domain.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.find(chatID)
	if c == nil {
		return domain.Chat{}, false
	}
	return c.Clone(), true
}

// ActiveChatID returns the active chat, or "" when none is selected
func (s *ChatStore) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

// Mode returns the mode new chats are created with
func (s *ChatStore) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Status returns the transient streaming state
func (s *ChatStore) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// CreateChat inserts a new chat at the front and makes it active
func (s *ChatStore) CreateChat(ctx context.Context, initialText string) string {
	s.mu.Lock()
	chat := s.createChatLocked(initialText)
	ev := s.commitLocked(ctx, Event{Type: EventChatCreated, ChatID: chat.ID})
	s.mu.Unlock()

	s.notify(ev...)
	return chat.ID
}

func (s *ChatStore) createChatLocked(initialText string) *domain.Chat {
	chat := domain.NewChat(initialText, s.mode, s.now())
	s.chats = append([]*domain.Chat{chat}, s.chats...)
	s.activeChatID = chat.ID
	return chat
}

// pendingCycle is a response cycle that has claimed the typing flag
type pendingCycle struct {
	chatID  string
	mode    domain.Mode
	history []domain.Message
	turn    string
	// titleSeed is set when the turn is the chat's first message
	titleSeed string
}

// SendMessage appends a user turn to the active chat, creating one when
// none is active, and runs one response cycle. It blocks until the cycle
// settles and returns the chat the turn went to. Blank text or a cycle
// already in flight makes it a no-op that reports false.
// Upstream failures become assistant messages and are never returned.
func (s *ChatStore) SendMessage(ctx context.Context, text string) (string, bool) {
	c, ok := s.beginSend(ctx, text)
	if !ok {
		return "", false
	}
	s.complete(ctx, c)
	return c.chatID, true
}

// SendMessageAsync is SendMessage with the cycle run in the background.
// The user turn is appended before it returns.
func (s *ChatStore) SendMessageAsync(ctx context.Context, text string) (string, bool) {
	c, ok := s.beginSend(ctx, text)
	if !ok {
		return "", false
	}
	s.goBackground(func() { s.complete(ctx, c) })
	return c.chatID, true
}

// RegenerateMessage drops a trailing assistant reply and replays the most
// recent user turn. It reports false when nothing was replayed: the chat
// is unknown, has no user turn, or a cycle is already in flight.
func (s *ChatStore) RegenerateMessage(ctx context.Context, chatID string) bool {
	c, ok := s.beginRegenerate(ctx, chatID)
	if !ok {
		return false
	}
	s.complete(ctx, c)
	return true
}

// RegenerateMessageAsync is RegenerateMessage with the cycle run in the background
func (s *ChatStore) RegenerateMessageAsync(ctx context.Context, chatID string) bool {
	c, ok := s.beginRegenerate(ctx, chatID)
	if !ok {
		return false
	}
	s.goBackground(func() { s.complete(ctx, c) })
	return true
}

func (s *ChatStore) beginSend(ctx context.Context, text string) (pendingCycle, bool) {
	if strings.TrimSpace(text) == "" {
		return pendingCycle{}, false
	}

	s.mu.Lock()
	if s.isTyping {
		s.mu.Unlock()
		return pendingCycle{}, false
	}

	var events []Event
	chat := s.find(s.activeChatID)
	if chat == nil {
		chat = s.createChatLocked(text)
		events = append(events, Event{Type: EventChatCreated, ChatID: chat.ID})
	}

	userMsg := domain.NewMessage(domain.RoleUser, text)
	c := pendingCycle{
		chatID:  chat.ID,
		mode:    chat.Mode,
		history: append([]domain.Message(nil), chat.Messages...),
		turn:    text,
	}
	chat.Messages = append(chat.Messages, userMsg)
	chat.UpdatedAt = s.now()
	if len(chat.Messages) == 1 {
		c.titleSeed = text
	}

	s.isTyping = true
	s.rateLimitWait = nil

	events = append(events,
		Event{Type: EventMessageAdded, ChatID: c.chatID, MessageID: userMsg.ID},
		Event{Type: EventStatusChanged, ChatID: c.chatID},
	)
	events = s.commitLocked(ctx, events...)
	s.mu.Unlock()
	s.notify(events...)

	return c, true
}

func (s *ChatStore) beginRegenerate(ctx context.Context, chatID string) (pendingCycle, bool) {
	s.mu.Lock()
	if s.isTyping {
		s.mu.Unlock()
		return pendingCycle{}, false
	}

	// Without any user turn there is nothing to replay
	chat := s.find(chatID)
	if chat == nil || chat.LastUserIndex() < 0 {
		s.mu.Unlock()
		return pendingCycle{}, false
	}

	var events []Event
	if last, _ := chat.LastMessage(); last.Role == domain.RoleAssistant {
		chat.Messages = chat.Messages[:len(chat.Messages)-1]
		chat.UpdatedAt = s.now()
		events = append(events, Event{Type: EventChatUpdated, ChatID: chat.ID})
	}

	idx := chat.LastUserIndex()
	c := pendingCycle{
		chatID:  chat.ID,
		mode:    chat.Mode,
		history: append([]domain.Message(nil), chat.Messages[:idx]...),
		turn:    chat.Messages[idx].Content,
	}

	s.isTyping = true
	s.rateLimitWait = nil

	events = append(events, Event{Type: EventStatusChanged, ChatID: chatID})
	events = s.commitLocked(ctx, events...)
	s.mu.Unlock()
	s.notify(events...)

	return c, true
}

// complete runs a claimed cycle and, for a chat's first turn, title generation
func (s *ChatStore) complete(ctx context.Context, c pendingCycle) {
	s.runCycle(ctx, c.chatID, c.mode, c.history, c.turn)
	if c.titleSeed != "" {
		s.generateTitle(ctx, c.chatID, c.mode, c.titleSeed)
	}
}

func (s *ChatStore) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

// UpdateMessage replaces a message's content. Unknown ids are ignored.
func (s *ChatStore) UpdateMessage(ctx context.Context, chatID, messageID, content string) {
	s.mu.Lock()
	chat := s.find(chatID)
	if chat == nil {
		s.mu.Unlock()
		return
	}
	idx := chat.MessageIndex(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	chat.Messages[idx].Content = content
	chat.UpdatedAt = s.now()
	ev := s.commitLocked(ctx, Event{Type: EventMessageUpdated, ChatID: chatID, MessageID: messageID})
	s.mu.Unlock()

	s.notify(ev...)
}

// DeleteChat removes a chat, clearing the active pointer if it pointed there
func (s *ChatStore) DeleteChat(ctx context.Context, chatID string) {
	s.mu.Lock()
	idx := s.index(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	s.chats = append(s.chats[:idx], s.chats[idx+1:]...)
	events := []Event{{Type: EventChatDeleted, ChatID: chatID}}
	if s.activeChatID == chatID {
		s.activeChatID = ""
		events = append(events, Event{Type: EventActiveChanged})
	}
	events = s.commitLocked(ctx, events...)
	s.mu.Unlock()

	s.notify(events...)
}

// RenameChat sets a chat title; a blank title becomes the placeholder
func (s *ChatStore) RenameChat(ctx context.Context, chatID, title string) {
	s.mu.Lock()
	chat := s.find(chatID)
	if chat == nil {
		s.mu.Unlock()
		return
	}

	chat.Title = domain.NormalizeTitle(title)
	chat.UpdatedAt = s.now()
	ev := s.commitLocked(ctx, Event{Type: EventChatUpdated, ChatID: chatID})
	s.mu.Unlock()

	s.notify(ev...)
}

// TogglePin flips a chat's pinned flag
func (s *ChatStore) TogglePin(ctx context.Context, chatID string) {
	s.mu.Lock()
	chat := s.find(chatID)
	if chat == nil {
		s.mu.Unlock()
		return
	}

	chat.Pinned = !chat.Pinned
	ev := s.commitLocked(ctx, Event{Type: EventChatUpdated, ChatID: chatID})
	s.mu.Unlock()

	s.notify(ev...)
}

// SetActiveChat selects the chat SendMessage appends to. An empty id
// clears the selection.
func (s *ChatStore) SetActiveChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if chatID != "" && s.find(chatID) == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrChatNotFound, chatID)
	}

	s.activeChatID = chatID
	ev := s.commitLocked(ctx, Event{Type: EventActiveChanged, ChatID: chatID})
	s.mu.Unlock()

	s.notify(ev...)
	return nil
}

// SetMode switches the store mode. New chats take it, and so does the
// active chat.
func (s *ChatStore) SetMode(ctx context.Context, mode domain.Mode) error {
	if !s.router.HasMode(mode) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownMode, mode)
	}

	s.mu.Lock()
	s.mode = mode
	events := []Event{{Type: EventModeChanged}}
	if chat := s.find(s.activeChatID); chat != nil && chat.Mode != mode {
		chat.Mode = mode
		events = append(events, Event{Type: EventChatUpdated, ChatID: chat.ID})
	}
	events = s.commitLocked(ctx, events...)
	s.mu.Unlock()

	s.notify(events...)
	return nil
}

// runCycle performs one request/response exchange for chatID. It always
// ends by clearing the typing flag and the rate-limit wait.
func (s *ChatStore) runCycle(ctx context.Context, chatID string, mode domain.Mode, history []domain.Message, turn string) {
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	defer s.settle(chatID)

	start := time.Now()
	logger := log.With().Str("chat_id", chatID).Str("mode", string(mode)).Logger()

	provider, preset, err := s.router.Resolve(mode)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve mode")
		s.appendError(ctx, chatID, err)
		return
	}

	req := llm.ChatRequest{
		Model:       preset.Model,
		Messages:    llm.BuildMessages(s.systemPrompt, history, s.historyWindow, turn),
		Temperature: preset.Temperature,
		MaxTokens:   preset.MaxTokens,
	}

	logger.Debug().Str("provider", preset.Provider).Str("model", preset.Model).Int("messages", len(req.Messages)).Msg("Starting response cycle")

	stream, err := llm.Retry(ctx, s.retry, func(ctx context.Context) (llm.Stream, error) {
		return provider.StreamChat(ctx, req)
	}, func(ev llm.RateLimitEvent) {
		logger.Warn().
			Int("attempt", ev.Attempt).
			Dur("backoff", ev.Backoff).
			Int("reset_seconds", ev.ResetSeconds).
			Msg("Upstream rate limited, retrying")
		if ev.HasReset {
			s.setRateLimitWait(chatID, ev.ResetSeconds)
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("Completion request failed")
		s.appendError(ctx, chatID, err)
		return
	}
	defer stream.Close()

	placeholder := domain.NewMessage(domain.RoleAssistant, "")
	s.appendMessage(ctx, chatID, placeholder)

	var buf strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error().Err(err).Msg("Stream failed")
			s.appendError(ctx, chatID, err)
			return
		}
		buf.WriteString(delta)
		s.UpdateMessage(ctx, chatID, placeholder.ID, buf.String())
	}

	logger.Info().
		Str("model", preset.Model).
		Int("chars", buf.Len()).
		Dur("duration", time.Since(start)).
		Msg("Response cycle finished")
}

func (s *ChatStore) settle(chatID string) {
	s.mu.Lock()
	s.isTyping = false
	s.rateLimitWait = nil
	ev := s.eventLocked(Event{Type: EventStatusChanged, ChatID: chatID})
	s.mu.Unlock()

	s.notify(ev)
}

func (s *ChatStore) setRateLimitWait(chatID string, seconds int) {
	s.mu.Lock()
	wait := seconds
	s.rateLimitWait = &wait
	ev := s.eventLocked(Event{Type: EventStatusChanged, ChatID: chatID})
	s.mu.Unlock()

	s.notify(ev)
}

func (s *ChatStore) appendMessage(ctx context.Context, chatID string, msg domain.Message) {
	s.mu.Lock()
	chat := s.find(chatID)
	if chat == nil {
		s.mu.Unlock()
		return
	}

	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = s.now()
	ev := s.commitLocked(ctx, Event{Type: EventMessageAdded, ChatID: chatID, MessageID: msg.ID})
	s.mu.Unlock()

	s.notify(ev...)
}

func (s *ChatStore) appendError(ctx context.Context, chatID string, err error) {
	s.appendMessage(ctx, chatID, domain.NewMessage(domain.RoleAssistant, errorMessagePrefix+err.Error()))
}

// generateTitle asks the mode's provider for a short title in the
// background. Failures are logged and otherwise ignored.
func (s *ChatStore) generateTitle(ctx context.Context, chatID string, mode domain.Mode, seed string) {
	if !s.title.Enabled {
		return
	}

	s.goBackground(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.title.Timeout)
		defer cancel()

		logger := log.With().Str("chat_id", chatID).Logger()

		provider, preset, err := s.router.Resolve(mode)
		if err != nil {
			logger.Warn().Err(err).Msg("Title generation skipped")
			return
		}

		resp, err := provider.Complete(ctx, llm.ChatRequest{
			Model:       preset.Model,
			Messages:    llm.BuildTitleMessages(s.title.Prompt, seed),
			Temperature: preset.Temperature,
			MaxTokens:   s.title.MaxTokens,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Title generation failed")
			return
		}

		title := llm.CleanTitle(resp.Content)
		if title == "" {
			logger.Warn().Msg("Title generation returned an empty title")
			return
		}

		s.mu.Lock()
		chat := s.find(chatID)
		if chat == nil {
			s.mu.Unlock()
			return
		}
		chat.Title = title
		ev := s.commitLocked(ctx, Event{Type: EventChatUpdated, ChatID: chatID})
		s.mu.Unlock()

		s.notify(ev...)
		logger.Debug().Str("title", title).Msg("Chat title generated")
	})
}

// commitLocked saves the snapshot and stamps events with the current
// status. Save failures are logged; memory state is kept.
func (s *ChatStore) commitLocked(ctx context.Context, events ...Event) []Event {
	snap := domain.Snapshot{
		Chats: make([]domain.Chat, len(s.chats)),
		Mode:  s.mode,
	}
	for i, c := range s.chats {
		snap.Chats[i] = c.Clone()
	}

	if err := s.snapshots.Save(context.WithoutCancel(ctx), snap); err != nil {
		log.Error().Err(err).Msg("Failed to persist chat store")
	}

	for i := range events {
		events[i] = s.eventLocked(events[i])
	}
	return events
}

func (s *ChatStore) eventLocked(ev Event) Event {
	ev.Status = s.statusLocked()
	return ev
}

func (s *ChatStore) statusLocked() Status {
	st := Status{IsTyping: s.isTyping}
	if s.rateLimitWait != nil {
		wait := *s.rateLimitWait
		st.RateLimitWait = &wait
	}
	return st
}

func (s *ChatStore) notify(events ...Event) {
	if len(events) == 0 {
		return
	}

	s.observersMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.observersMu.RUnlock()

	for _, ev := range events {
		for _, fn := range observers {
			fn(ev)
		}
	}
}

func (s *ChatStore) index(chatID string) int {
	if chatID == "" {
		return -1
	}
	for i, c := range s.chats {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}

func (s *ChatStore) find(chatID string) *domain.Chat {
	if i := s.index(chatID); i >= 0 {
		return s.chats[i]
	}
	return nil
}
