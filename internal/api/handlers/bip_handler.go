package handlers

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/bip"
	"github.com/chatcfd/backend/internal/extract"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/pkg/logger"
)

type BIPHandler struct {
	service *bip.Service
}

func NewBIPHandler(service *bip.Service) *BIPHandler {
	return &BIPHandler{service: service}
}

// HandleGenerate produces a Behavior Intervention Plan draft from a multipart
// form: required profile fields plus an optional "fba_file" upload.
func (h *BIPHandler) HandleGenerate(c *fiber.Ctx) error {
	profile := bip.Profile{
		Name:      strings.TrimSpace(c.FormValue("name")),
		Diagnosis: strings.TrimSpace(c.FormValue("diagnosis")),
		Behavior:  strings.TrimSpace(c.FormValue("behavior")),
		Setting:   strings.TrimSpace(c.FormValue("setting")),
		Trigger:   strings.TrimSpace(c.FormValue("trigger")),
		Notes:     strings.TrimSpace(c.FormValue("notes")),
	}

	missing := missingFields(map[string]string{
		"name":      profile.Name,
		"diagnosis": profile.Diagnosis,
		"behavior":  profile.Behavior,
		"setting":   profile.Setting,
		"trigger":   profile.Trigger,
	})
	if len(missing) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing required fields: " + strings.Join(missing, ", "),
		})
	}

	age, err := strconv.Atoi(c.FormValue("age"))
	if err != nil || age <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "age must be a positive integer",
		})
	}
	profile.Age = age

	if header, err := c.FormFile("fba_file"); err == nil && header != nil {
		content, err := readMultipartFile(header)
		if err != nil {
			logger.Warn("Failed to read FBA upload", zap.String("file", header.Filename), zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Failed to read uploaded file",
			})
		}

		text, err := extract.Text(header.Filename, content)
		if err != nil {
			if errors.Is(err, extract.ErrUnsupportedType) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Unsupported file type. Use PDF, DOCX, or TXT.",
				})
			}
			logger.Warn("Failed to extract FBA text", zap.String("file", header.Filename), zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Could not extract text from the uploaded file.",
			})
		}
		profile.FBAText = text
	}

	plan, err := h.service.Generate(c.Context(), profile, strings.TrimSpace(c.FormValue("model")))
	if err != nil {
		if llm.IsProviderError(err) {
			logger.Error("BIP generation failed at model backend", zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("BIP generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate plan",
		})
	}

	return c.JSON(fiber.Map{"bip": plan})
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for name, value := range fields {
		if value == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
