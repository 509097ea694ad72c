package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/chat"
	"github.com/chatcfd/backend/internal/extract"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/storage/models"
	"github.com/chatcfd/backend/pkg/logger"
)

// HistoryStore lists recently recorded interactions.
type HistoryStore interface {
	RecentInteractions(mode string, limit int) ([]models.Interaction, error)
}

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	// Model overrides the configured chat model for this request only.
	Model string `json:"model"`
}

type ChatHandler struct {
	service *chat.Service
	history HistoryStore
}

func NewChatHandler(service *chat.Service, history HistoryStore) *ChatHandler {
	return &ChatHandler{
		service: service,
		history: history,
	}
}

// HandleGeneral answers a general staff question. Accepts plain JSON, or
// multipart with a JSON "payload" field plus "files" attachments.
func (h *ChatHandler) HandleGeneral(c *fiber.Ctx) error {
	var req chatRequest
	var attachments []chat.Attachment

	if strings.Contains(strings.ToLower(c.Get("Content-Type")), "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid multipart form",
			})
		}

		payloads := form.Value["payload"]
		if len(payloads) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing payload field",
			})
		}
		if err := json.Unmarshal([]byte(payloads[0]), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON payload",
			})
		}

		attachments = parseAttachments(form.File["files"])
	} else {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON body",
			})
		}
	}

	messages, problem := toMessages(req)
	if problem != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": problem})
	}

	reply, err := h.service.General(c.Context(), messages, attachments, req.Model)
	if err != nil {
		return chatError(c, err)
	}

	return c.JSON(reply)
}

// HandleBenefits answers a benefits question against the benefits corpus.
func (h *ChatHandler) HandleBenefits(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON body",
		})
	}

	messages, problem := toMessages(req)
	if problem != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": problem})
	}

	reply, err := h.service.Benefits(c.Context(), messages, req.Model)
	if err != nil {
		return chatError(c, err)
	}

	return c.JSON(reply)
}

// HandleHistory lists recent interactions, optionally filtered by mode.
func (h *ChatHandler) HandleHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "Interaction history is not enabled",
		})
	}

	mode := c.Query("mode")
	limit := c.QueryInt("limit", 20)

	records, err := h.history.RecentInteractions(mode, limit)
	if err != nil {
		logger.Error("Failed to load interaction history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	items := make([]fiber.Map, 0, len(records))
	for _, rec := range records {
		items = append(items, fiber.Map{
			"id":              rec.ID,
			"mode":            rec.Mode,
			"query":           rec.Query,
			"response":        rec.Response,
			"retrieved_count": rec.RetrievedCount,
			"sanitized":       rec.Sanitized,
			"rewritten":       rec.Rewritten,
			"latency_ms":      rec.LatencyMS,
			"created_at":      rec.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{"history": items})
}

// parseAttachments extracts text from uploaded files. Unreadable or
// unsupported attachments are skipped with a warning, not rejected.
func parseAttachments(files []*multipart.FileHeader) []chat.Attachment {
	var attachments []chat.Attachment
	for _, file := range files {
		content, err := readMultipartFile(file)
		if err != nil {
			logger.Warn("Failed to read attachment", zap.String("file", file.Filename), zap.Error(err))
			continue
		}
		if len(content) == 0 {
			logger.Warn("Attachment was empty", zap.String("file", file.Filename))
			continue
		}

		text, err := extract.Text(file.Filename, content)
		if err != nil || strings.TrimSpace(text) == "" {
			logger.Warn("Attachment could not be parsed", zap.String("file", file.Filename), zap.Error(err))
			continue
		}

		attachments = append(attachments, chat.Attachment{
			Name:    file.Filename,
			Content: strings.TrimSpace(text),
		})
	}

	logger.Info("Parsed attachments", zap.Int("count", len(attachments)))
	return attachments
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// toMessages validates the conversation payload. A non-empty problem string
// describes why it was rejected.
func toMessages(req chatRequest) ([]llm.Message, string) {
	if len(req.Messages) == 0 {
		return nil, "messages cannot be empty"
	}

	messages := make([]llm.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, "Invalid message role: " + msg.Role
		}
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages, ""
}

func chatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, chat.ErrNoUserMessage):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case llm.IsProviderError(err):
		logger.Error("Model backend failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		logger.Error("Chat request failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process request",
		})
	}
}
