package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/guardrails"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/metrics"
	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/internal/storage/models"
	"github.com/chatcfd/backend/pkg/logger"
)

const (
	ModeGeneral  = "general"
	ModeBenefits = "benefits"
)

// Recorder persists completed interactions. Recording is best-effort and
// never fails the request.
type Recorder interface {
	InsertInteraction(rec *models.Interaction, sources []models.InteractionSource) error
}

// Source is one retrieved reference surfaced alongside a reply.
type Source struct {
	File    string  `json:"file"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Reply is the final guarded response for a conversational request.
type Reply struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
	Mode     string   `json:"mode"`
}

// Service runs the conversational pipeline: compose, generate, guard, record.
type Service struct {
	composer  *Composer
	provider  llm.ChatProvider
	guard     *guardrails.Engine
	recorder  Recorder
	chatModel string
}

func NewService(composer *Composer, provider llm.ChatProvider, guard *guardrails.Engine, recorder Recorder, chatModel string) *Service {
	return &Service{
		composer:  composer,
		provider:  provider,
		guard:     guard,
		recorder:  recorder,
		chatModel: chatModel,
	}
}

// General answers a general staff question, optionally grounded in uploaded
// attachments. A canned clarification skips the model entirely. An empty
// model selects the configured default.
func (s *Service) General(ctx context.Context, messages []llm.Message, attachments []Attachment, model string) (*Reply, error) {
	started := time.Now()

	composition, err := s.composer.ComposeGeneral(ctx, messages, attachments)
	if err != nil {
		s.observe(ModeGeneral, started, err)
		return nil, err
	}

	reply, err := s.complete(ctx, ModeGeneral, messages, composition, model, started)
	s.observe(ModeGeneral, started, err)
	return reply, err
}

// Benefits answers a benefits question against the benefits corpus.
func (s *Service) Benefits(ctx context.Context, messages []llm.Message, model string) (*Reply, error) {
	started := time.Now()

	composition, err := s.composer.ComposeBenefits(ctx, messages)
	if err != nil {
		s.observe(ModeBenefits, started, err)
		return nil, err
	}

	reply, err := s.complete(ctx, ModeBenefits, messages, composition, model, started)
	s.observe(ModeBenefits, started, err)
	return reply, err
}

func (s *Service) complete(ctx context.Context, mode string, messages []llm.Message, composition *Composition, model string, started time.Time) (*Reply, error) {
	if composition.Canned != "" {
		return &Reply{Response: composition.Canned, Sources: []Source{}, Mode: mode}, nil
	}

	if model == "" {
		model = s.chatModel
	}
	raw, err := s.provider.Chat(ctx, composition.Payload, model)
	if err != nil {
		return nil, err
	}

	final, outcome := s.guard.Apply(ctx, raw)
	sources := buildSources(composition.Matches)

	s.record(mode, messages, final, composition.Matches, outcome, started)

	return &Reply{Response: final, Sources: sources, Mode: mode}, nil
}

func (s *Service) record(mode string, messages []llm.Message, response string, matches []rag.ScoredChunk, outcome guardrails.Outcome, started time.Time) {
	if s.recorder == nil {
		return
	}

	query := ""
	if lastUser, ok := lastUserMessage(messages); ok {
		query = lastUser.Content
	}

	rec := &models.Interaction{
		ID:             uuid.New().String(),
		Mode:           mode,
		Query:          query,
		Response:       response,
		RetrievedCount: len(matches),
		Sanitized:      outcome.Sanitized,
		Rewritten:      outcome.Rewritten,
		LatencyMS:      int(time.Since(started).Milliseconds()),
		CreatedAt:      time.Now(),
	}

	sources := make([]models.InteractionSource, 0, len(matches))
	for _, match := range matches {
		sources = append(sources, models.InteractionSource{
			File:    match.Source,
			Snippet: capSourceSnippet(match.Text),
			Score:   match.Score,
		})
	}

	if err := s.recorder.InsertInteraction(rec, sources); err != nil {
		logger.Warn("Failed to record interaction", zap.String("mode", mode), zap.Error(err))
	}
}

func (s *Service) observe(mode string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RequestDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	metrics.RequestTotal.WithLabelValues(mode, status).Inc()
}

func buildSources(matches []rag.ScoredChunk) []Source {
	sources := make([]Source, 0, len(matches))
	for _, match := range matches {
		sources = append(sources, Source{
			File:    match.Source,
			Snippet: capSourceSnippet(match.Text),
			Score:   match.Score,
		})
	}
	return sources
}

func capSourceSnippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= sourceSnippetLimit {
		return text
	}
	return text[:snippetBoundary(text, sourceSnippetLimit)] + "…"
}
