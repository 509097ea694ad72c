package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/chat"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/pkg/logger"
)

type WebSocketHandler struct {
	service *chat.Service
}

func NewWebSocketHandler(service *chat.Service) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

// HandleConnection serves a streaming general chat session. Each inbound
// "chat" message carries the full conversation; the reply is streamed back
// word by word.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type     string `json:"type"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Model string `json:"model"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "chat" {
			continue
		}

		messages := make([]llm.Message, 0, len(msg.Messages))
		for _, m := range msg.Messages {
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}

		if err := h.streamReply(c, messages, msg.Model); err != nil {
			logger.Error("Failed to stream reply", zap.Error(err))
			h.sendError(c, "Failed to process request")
		}
	}
}

func (h *WebSocketHandler) streamReply(c *websocket.Conn, messages []llm.Message, model string) error {
	ctx := context.Background()

	if err := h.sendChunk(c, "status", "Thinking..."); err != nil {
		return err
	}

	reply, err := h.service.General(ctx, messages, nil, model)
	if err != nil {
		return err
	}

	words := splitIntoWords(reply.Response)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":    "complete",
		"mode":    reply.Mode,
		"sources": reply.Sources,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
