package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcfd/backend/pkg/config"
)

func ollamaConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:      "ollama",
		ChatModel:     "llama3.1",
		RewriteModel:  "llama3.1",
		EmbedModel:    "nomic-embed-text",
		OllamaBaseURL: baseURL,
		TimeoutSec:    5,
	}
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "mystery"})
	assert.Error(t, err)
}

func TestNewClientRequiresOpenAIKey(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "openai"})
	assert.Error(t, err)
}

func TestChatWithOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, RoleUser, req.Messages[0].Role)

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: RoleAssistant, Content: "hello back"},
		})
	}))
	defer server.Close()

	client, err := NewClient(ollamaConfig(server.URL))
	require.NoError(t, err)

	out, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, "")

	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
}

func TestChatModelOverride(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Content: "ok"}})
	}))
	defer server.Close()

	client, err := NewClient(ollamaConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "custom-model")

	require.NoError(t, err)
	assert.Equal(t, "custom-model", gotModel)
}

func TestChatBackendErrorIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(ollamaConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")

	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Contains(t, err.Error(), "404")
}

func TestChatUnreachableBackendIsProviderError(t *testing.T) {
	client, err := NewClient(ollamaConfig("http://127.0.0.1:1"))
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")

	require.Error(t, err)
	assert.True(t, IsProviderError(err))
}

func TestEmbedWithOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	client, err := NewClient(ollamaConfig(server.URL))
	require.NoError(t, err)

	vector, err := client.Embed(context.Background(), "some text")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestEmbedEmptyVectorIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{})
	}))
	defer server.Close()

	client, err := NewClient(ollamaConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "some text")

	require.Error(t, err)
	assert.True(t, IsProviderError(err))
}

func TestEmbedBatchSequential(t *testing.T) {
	var prompts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		prompts = append(prompts, req.Prompt)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{float32(len(prompts))}})
	}))
	defer server.Close()

	client, err := NewClient(ollamaConfig(server.URL))
	require.NoError(t, err)

	vectors, err := client.EmbedBatch(context.Background(), []string{"one", "two", "three"})

	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []string{"one", "two", "three"}, prompts)
}

func TestEmbedBatchOpenAICircuitOpenIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"backend down"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(config.LLMConfig{
		Provider:      "openai",
		ChatModel:     "gpt-4o-mini",
		EmbedModel:    "text-embedding-3-small",
		OpenAIAPIKey:  "test-key",
		OpenAIBaseURL: server.URL + "/v1",
		TimeoutSec:    5,
	})
	require.NoError(t, err)

	// Five consecutive failures open the breaker; the fail-fast error that
	// follows must carry the same taxonomy as Chat and Embed.
	for i := 0; i < 5; i++ {
		_, err = client.EmbedBatch(context.Background(), []string{"text"})
		require.Error(t, err)
	}

	_, err = client.EmbedBatch(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Contains(t, err.Error(), "embedding backend unavailable")
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client, err := NewClient(ollamaConfig("http://localhost:11434"))
	require.NoError(t, err)

	vectors, err := client.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vectors)
}
