package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/pkg/logger"
)

type CorpusHandler struct {
	store *rag.Store
}

func NewCorpusHandler(store *rag.Store) *CorpusHandler {
	return &CorpusHandler{store: store}
}

// HandleList reports the configured corpus names.
func (h *CorpusHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"corpora": h.store.Corpora()})
}

// HandleRebuild drops the persisted index for one corpus and rebuilds it from
// its source documents.
func (h *CorpusHandler) HandleRebuild(c *fiber.Ctx) error {
	corpus := c.Params("name")

	err := h.store.Rebuild(c.Context(), corpus)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{
			"status": "rebuilt",
			"corpus": corpus,
		})
	case errors.Is(err, rag.ErrUnknownCorpus):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown corpus: " + corpus,
		})
	case errors.Is(err, rag.ErrCorpusNotReady):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "No source documents available for corpus: " + corpus,
		})
	default:
		logger.Error("Corpus rebuild failed", zap.String("corpus", corpus), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to rebuild corpus",
		})
	}
}
