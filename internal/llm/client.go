package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/pkg/circuitbreaker"
	"github.com/chatcfd/backend/pkg/config"
	"github.com/chatcfd/backend/pkg/logger"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged unit of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProviderError marks any failure to reach or parse a response from the
// inference or embedding backend. Handlers map it to an upstream-failure
// response; it is never retried here.
type ProviderError struct {
	Cause string
	Err   error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Cause, e.Err)
	}
	return e.Cause
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErrorf(err error, format string, args ...interface{}) error {
	return &ProviderError{Cause: fmt.Sprintf(format, args...), Err: err}
}

// IsProviderError reports whether err carries a ProviderError anywhere in its
// chain.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ChatProvider is the single generation capability the rest of the service
// depends on. An empty model selects the configured default chat model.
type ChatProvider interface {
	Chat(ctx context.Context, messages []Message, model string) (string, error)
}

// Embedder produces fixed-dimension vectors for arbitrary text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is the model gateway: a thin abstraction over the configured
// inference backend (local Ollama or an OpenAI-compatible endpoint).
type Client struct {
	provider      string
	chatModel     string
	embedModel    string
	ollamaBaseURL string
	timeout       time.Duration
	httpClient    *http.Client
	openaiClient  *openai.Client
	cb            *circuitbreaker.CircuitBreaker
}

func NewClient(cfg config.LLMConfig) (*Client, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	c := &Client{
		provider:      cfg.Provider,
		chatModel:     cfg.ChatModel,
		embedModel:    cfg.EmbedModel,
		ollamaBaseURL: cfg.OllamaBaseURL,
		timeout:       timeout,
		httpClient:    &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		}),
	}

	switch cfg.Provider {
	case "ollama":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai api key must be set for the openai provider")
		}
		oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			oc.BaseURL = cfg.OpenAIBaseURL
		}
		c.openaiClient = openai.NewClientWithConfig(oc)
	default:
		return nil, fmt.Errorf("unsupported model provider: %q", cfg.Provider)
	}

	logger.Info("Model gateway initialized",
		zap.String("provider", cfg.Provider),
		zap.String("chat_model", cfg.ChatModel),
		zap.String("embed_model", cfg.EmbedModel),
	)

	return c, nil
}

// Chat sends the message sequence to the configured backend and returns the
// generated text. Each call is at-most-once: a failure surfaces as a
// ProviderError and is never retried here.
func (c *Client) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = c.chatModel
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string
	err := c.cb.Execute(ctx, func() error {
		var err error
		switch c.provider {
		case "openai":
			content, err = c.chatWithOpenAI(ctx, messages, model)
		default:
			content, err = c.chatWithOllama(ctx, messages, model)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return "", providerErrorf(err, "model backend unavailable")
		}
		return "", err
	}

	logger.Debug("Chat completion generated",
		zap.String("model", model),
		zap.Int("response_length", len(content)),
	)

	return content, nil
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var vector []float32
	err := c.cb.Execute(ctx, func() error {
		var err error
		switch c.provider {
		case "openai":
			vector, err = c.embedWithOpenAI(ctx, text)
		default:
			vector, err = c.embedWithOllama(ctx, text)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, providerErrorf(err, "embedding backend unavailable")
		}
		return nil, err
	}

	return vector, nil
}

// EmbedBatch embeds each text in order. The Ollama embeddings endpoint takes
// one prompt per request, so the batch is a sequential loop there.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if c.provider == "openai" {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var vectors [][]float32
		err := c.cb.Execute(ctx, func() error {
			var err error
			vectors, err = c.embedBatchWithOpenAI(ctx, texts)
			return err
		})
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
				return nil, providerErrorf(err, "embedding backend unavailable")
			}
			return nil, err
		}
		return vectors, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(vectors)))

	return vectors, nil
}

func (c *Client) chatWithOpenAI(ctx context.Context, messages []Message, model string) (string, error) {
	formatted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		formatted = append(formatted, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: formatted,
	})
	if err != nil {
		return "", providerErrorf(err, "openai request failed")
	}
	if len(resp.Choices) == 0 {
		return "", providerErrorf(nil, "openai response missing choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) embedWithOpenAI(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedBatchWithOpenAI(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatchWithOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.openaiClient.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, providerErrorf(err, "openai embedding request failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, providerErrorf(nil, "openai embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		copy(vector, data.Embedding)
		vectors[i] = vector
	}

	return vectors, nil
}
