// Package bip generates Behavior Intervention Plan drafts from a student
// profile, few-shot reference plans, and retrieved policy excerpts.
package bip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/chat"
	"github.com/chatcfd/backend/internal/guardrails"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/metrics"
	"github.com/chatcfd/backend/internal/storage/models"
	"github.com/chatcfd/backend/pkg/config"
	"github.com/chatcfd/backend/pkg/logger"
)

const Mode = "bip"

const maxFewShotExamples = 3

// Profile is the student information driving a plan, plus an optional
// Functional Behavior Assessment extracted from an uploaded document.
type Profile struct {
	Name      string
	Age       int
	Diagnosis string
	Behavior  string
	Setting   string
	Trigger   string
	Notes     string
	FBAText   string
}

// Service generates plan drafts with a single model call per request.
type Service struct {
	provider  llm.ChatProvider
	retriever chat.Retriever
	guard     *guardrails.Engine
	recorder  chat.Recorder
	chatModel string
	examples  []string
}

// NewService loads the few-shot reference plans once at startup. A missing
// examples directory just means no reference block in the prompt.
func NewService(cfg config.BIPConfig, provider llm.ChatProvider, retriever chat.Retriever, guard *guardrails.Engine, recorder chat.Recorder, chatModel string) *Service {
	examples := loadExamples(cfg.ExamplesDir)
	if len(examples) == 0 {
		logger.Warn("No BIP reference examples found", zap.String("dir", cfg.ExamplesDir))
	}

	return &Service{
		provider:  provider,
		retriever: retriever,
		guard:     guard,
		recorder:  recorder,
		chatModel: chatModel,
		examples:  examples,
	}
}

func loadExamples(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var examples []string
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("Failed to read BIP example", zap.String("file", name), zap.Error(err))
			continue
		}
		if text := strings.TrimSpace(string(content)); text != "" {
			examples = append(examples, text)
		}
	}
	return examples
}

// Generate builds the plan prompt, issues one model call, and guards the
// output. An empty model selects the configured default.
func (s *Service) Generate(ctx context.Context, profile Profile, model string) (string, error) {
	started := time.Now()

	prompt := s.BuildPrompt(ctx, profile)

	if model == "" {
		model = s.chatModel
	}
	raw, err := s.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, model)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RequestDuration.WithLabelValues(Mode).Observe(time.Since(started).Seconds())
	metrics.RequestTotal.WithLabelValues(Mode, status).Inc()

	if err != nil {
		return "", err
	}

	final, outcome := s.guard.Apply(ctx, raw)
	s.record(profile, final, outcome, started)

	return final, nil
}

// BuildPrompt assembles the full generation prompt. Policy retrieval is
// best-effort: any failure yields a prompt without the policy block.
func (s *Service) BuildPrompt(ctx context.Context, profile Profile) string {
	userProfile := formatProfile(profile)

	policyContext := ""
	if matches, err := s.retriever.Retrieve(ctx, config.CorpusPolicies, userProfile); err == nil {
		var parts []string
		for _, match := range matches {
			if text := strings.TrimSpace(match.Text); text != "" {
				parts = append(parts, text)
			}
		}
		policyContext = strings.Join(parts, "\n\n")
	}

	var prompt strings.Builder
	prompt.WriteString("You are a certified behavior analyst creating a Behavior Intervention Plan (BIP) " +
		"for The Center for Discovery. Use people-first, observable, measurable language. " +
		"Ensure replacement behaviors are functionally equivalent to the target behavior.")

	prompt.WriteString("\n\nFollow these guidelines when writing the plan:" +
		"\n- Adhere to New York State OPWDD and The Center for Discovery standards." +
		"\n- Avoid mentalistic explanations (e.g., 'the student wants attention')." +
		"\n- Provide goals that are measurable with clear criteria." +
		"\n- Include safety precautions when relevant.")

	if len(s.examples) > 0 {
		kept := s.examples
		if len(kept) > maxFewShotExamples {
			kept = kept[:maxFewShotExamples]
		}
		fmt.Fprintf(&prompt, "\n\n[REFERENCE EXAMPLES]\n%s", strings.Join(kept, "\n---\n"))
	}

	if policyContext != "" {
		fmt.Fprintf(&prompt, "\n\n[POLICY CONTEXT]\n%s", policyContext)
	}

	fmt.Fprintf(&prompt, "\n\n[NEW REQUEST]\n%s\n", userProfile)
	prompt.WriteString("\nPlease produce a complete BIP that includes:\n" +
		"- FBA Summary\n" +
		"- Operational Definition\n" +
		"- Replacement Behaviors\n" +
		"- Prevention Strategies\n" +
		"- Reinforcement Plan\n" +
		"- Data Collection Method\n" +
		"- Crisis/Safety Plan if applicable\n" +
		"- Three short-term goals and one long-term goal with measurable criteria\n")

	return prompt.String()
}

func formatProfile(profile Profile) string {
	var b strings.Builder
	b.WriteString("Student Profile:\n")
	fmt.Fprintf(&b, "- Name: %s\n", profile.Name)
	fmt.Fprintf(&b, "- Age: %d\n", profile.Age)
	fmt.Fprintf(&b, "- Diagnosis: %s\n", profile.Diagnosis)
	fmt.Fprintf(&b, "- Behavior: %s\n", profile.Behavior)
	fmt.Fprintf(&b, "- Setting: %s\n", profile.Setting)
	fmt.Fprintf(&b, "- Trigger: %s\n", profile.Trigger)
	if profile.Notes != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", profile.Notes)
	}
	if fba := strings.TrimSpace(profile.FBAText); fba != "" {
		fmt.Fprintf(&b, "\nFunctional Behavior Assessment Summary:\n%s\n", fba)
	}
	return b.String()
}

func (s *Service) record(profile Profile, response string, outcome guardrails.Outcome, started time.Time) {
	if s.recorder == nil {
		return
	}

	rec := &models.Interaction{
		ID:        uuid.New().String(),
		Mode:      Mode,
		Query:     fmt.Sprintf("BIP for %s (%s)", profile.Name, profile.Behavior),
		Response:  response,
		Sanitized: outcome.Sanitized,
		Rewritten: outcome.Rewritten,
		LatencyMS: int(time.Since(started).Milliseconds()),
		CreatedAt: time.Now(),
	}

	if err := s.recorder.InsertInteraction(rec, nil); err != nil {
		logger.Warn("Failed to record BIP interaction", zap.Error(err))
	}
}
