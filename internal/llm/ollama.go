package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Native Ollama API payloads. The chat endpoint is /api/chat with stream
// disabled; embeddings take one prompt per request at /api/embeddings.

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *Client) chatWithOllama(ctx context.Context, messages []Message, model string) (string, error) {
	payload := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}

	body, err := c.postOllama(ctx, "/api/chat", payload)
	if err != nil {
		return "", err
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", providerErrorf(err, "unexpected ollama chat response")
	}

	return parsed.Message.Content, nil
}

func (c *Client) embedWithOllama(ctx context.Context, text string) ([]float32, error) {
	payload := ollamaEmbedRequest{
		Model:  c.embedModel,
		Prompt: text,
	}

	body, err := c.postOllama(ctx, "/api/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, providerErrorf(err, "unexpected ollama embeddings response")
	}
	if len(parsed.Embedding) == 0 {
		return nil, providerErrorf(nil, "ollama returned an empty embedding")
	}

	return parsed.Embedding, nil
}

func (c *Client) postOllama(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama payload: %w", err)
	}

	url := strings.TrimRight(c.ollamaBaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, providerErrorf(err, "failed to build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, providerErrorf(err, "ollama request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerErrorf(err, "failed to read ollama response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providerErrorf(nil, "ollama error %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
