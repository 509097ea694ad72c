package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/pkg/logger"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxMessageLength    int
	AllowedContentTypes []string
}

// Middleware rejects oversized or hostile chat payloads before they reach the
// handlers. Multipart endpoints enforce their own file limits.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 8000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if strings.Contains(c.Path(), "/chat/") && strings.Contains(c.Get("Content-Type"), "application/json") {
			var req struct {
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			for _, msg := range req.Messages {
				if len(msg.Content) > cfg.MaxMessageLength {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Message exceeds maximum length",
					})
				}
				if xssPattern.MatchString(msg.Content) {
					logger.Warn("Potential XSS attempt",
						zap.String("ip", c.IP()),
						zap.String("path", c.Path()),
					)
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Invalid message content",
					})
				}
			}
		}

		return c.Next()
	}
}
