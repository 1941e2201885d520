package service

import (
	"context"
	"io"
	"net/http"

	"github.com/Rrens/zyra/internal/llm"
	"github.com/stretchr/testify/mock"
)

// MockProvider mocks the llm.Provider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string              { return "mock" }
func (m *MockProvider) AvailableModels() []string { return []string{"fast", "slow"} }
func (m *MockProvider) DefaultModel() string      { return "fast" }
func (m *MockProvider) IsConfigured() bool        { return true }

func (m *MockProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(llm.Stream), args.Error(1)
}

func (m *MockProvider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

// fakeStream yields chunks, then err (or io.EOF when err is nil)
type fakeStream struct {
	chunks []string
	err    error
	closed bool
}

func newFakeStream(chunks ...string) *fakeStream {
	return &fakeStream{chunks: chunks}
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// blockingStream holds its single chunk until release is closed
type blockingStream struct {
	release chan struct{}
	sent    bool
}

func (s *blockingStream) Recv() (string, error) {
	if s.sent {
		return "", io.EOF
	}
	<-s.release
	s.sent = true
	return "done", nil
}

func (s *blockingStream) Close() error { return nil }

func rateLimited(reset int) error {
	return &llm.APIError{
		Provider:     "mock",
		StatusCode:   http.StatusTooManyRequests,
		Message:      "Rate limit reached",
		ResetSeconds: reset,
		HasReset:     true,
	}
}
