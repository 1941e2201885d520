package gemini

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestSplitMessages(t *testing.T) {
	system, history, last := splitMessages([]llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "tutor"},
		{Role: llm.RoleUser, Content: "q1"},
		{Role: llm.RoleAssistant, Content: "a1"},
		{Role: llm.RoleUser, Content: "q2"},
	})

	assert.Equal(t, "tutor", system)
	assert.Equal(t, "q2", last)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, genai.Text("a1"), history[1].Parts[0])
}

func TestMapError(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "9")

	err := mapError(&googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota", Header: h})

	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, llm.IsRateLimited(err))
	assert.Equal(t, 9, apiErr.ResetSeconds)

	err = mapError(errors.New("transport closed"))
	assert.False(t, llm.IsRateLimited(err))
	assert.Contains(t, err.Error(), "transport closed")
}

func TestProvider_Defaults(t *testing.T) {
	p := NewProvider(config.GeminiConfig{})

	assert.False(t, p.IsConfigured())
	assert.Equal(t, "gemini-2.5-flash", p.DefaultModel())
}
