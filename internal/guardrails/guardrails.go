// Package guardrails post-processes every generated response: harmful
// terminology is flagged and prefixed with a respectful framing, and text
// above a grade-8 reading level is rewritten once at a simpler level.
package guardrails

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/metrics"
	"github.com/chatcfd/backend/pkg/logger"
)

var bannedTerms = []string{
	"retarded",
	"handicapped",
	"crazy",
}

const apologyPreamble = "I’m sorry—that wording can be harmful. Here is a respectful phrasing:\n\n"

const maxGrade = 8.0

const rewriteInstruction = "Rewrite the following content so it reads at a U.S. grade 6-8 level, " +
	"using respectful, people-first language and preserving key details. " +
	"Answer directly without mentioning that you rewrote the text or adjusted the reading level. " +
	"Format headings or key points with Markdown if helpful.\n\n"

// Outcome records which guardrail stages altered the response.
type Outcome struct {
	Sanitized bool
	Rewritten bool
}

// Engine applies the two-stage guardrail pipeline. The rewrite stage issues
// at most one extra model call per response.
type Engine struct {
	provider     llm.ChatProvider
	rewriteModel string
}

func NewEngine(provider llm.ChatProvider, rewriteModel string) *Engine {
	return &Engine{
		provider:     provider,
		rewriteModel: rewriteModel,
	}
}

// Apply runs sanitization then readability enforcement and returns the final
// text. Guardrail degradation is silent: a scoring failure or an empty
// rewrite falls back to the text it was given.
func (e *Engine) Apply(ctx context.Context, text string) (string, Outcome) {
	var outcome Outcome

	sanitized, hit := CleanseLanguage(text)
	if hit {
		outcome.Sanitized = true
		metrics.GuardrailSanitized.Inc()
	}

	final, rewritten := e.ensureReadability(ctx, sanitized)
	if rewritten {
		outcome.Rewritten = true
		metrics.GuardrailRewrites.Inc()
	}

	return final, outcome
}

// CleanseLanguage checks text for banned terms, case-insensitively. On a
// match the whole response is kept, prefixed with the apology framing and
// with newlines collapsed to spaces; nothing is redacted.
func CleanseLanguage(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, term := range bannedTerms {
		if strings.Contains(lowered, term) {
			return apologyPreamble + strings.ReplaceAll(text, "\n", " "), true
		}
	}
	return text, false
}

func (e *Engine) ensureReadability(ctx context.Context, text string) (string, bool) {
	grade, err := GradeLevel(text)
	if err != nil {
		logger.Debug("Readability scoring skipped", zap.Error(err))
		return text, false
	}

	if grade <= maxGrade {
		return text, false
	}

	rewritten, err := e.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: rewriteInstruction + text},
	}, e.rewriteModel)
	if err != nil {
		logger.Warn("Readability rewrite failed, keeping original text", zap.Error(err))
		return text, false
	}
	if rewritten == "" {
		return text, false
	}

	logger.Debug("Response rewritten for readability", zap.Float64("grade", grade))
	return rewritten, true
}
