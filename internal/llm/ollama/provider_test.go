package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/zyra/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_StreamChat(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Two"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" plus two"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"eval_count":3}`)
	}))
	defer server.Close()

	p := NewProvider(server.URL+"/", "")
	stream, err := p.StreamChat(context.Background(), llm.ChatRequest{
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: "2+2?"}},
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	require.NoError(t, err)
	defer stream.Close()

	var text string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		text += delta
	}

	assert.Equal(t, "Two plus two", text)
	assert.True(t, got.Stream)
	assert.Equal(t, "llama3.1", got.Model)
	assert.EqualValues(t, 1024, got.Options["num_predict"])
}

func TestParseChatLine_Error(t *testing.T) {
	_, done, err := ParseChatLine([]byte(`{"error":"model 'x' not found"}`))
	assert.True(t, done)
	assert.EqualError(t, err, "model 'x' not found")
}

func TestProvider_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer server.Close()

	_, err := NewProvider(server.URL, "").Complete(context.Background(), llm.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, "model not found", err.Error())
	assert.False(t, llm.IsRateLimited(err))
}
