package bip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcfd/backend/internal/guardrails"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/pkg/config"
)

type fakeRetriever struct {
	matches []rag.ScoredChunk
	err     error
	calls   int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, corpus, query string) ([]rag.ScoredChunk, error) {
	f.calls++
	return f.matches, f.err
}

type fakeProvider struct {
	response  string
	err       error
	calls     int
	lastMsgs  []llm.Message
	lastModel string
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, model string) (string, error) {
	f.calls++
	f.lastMsgs = messages
	f.lastModel = model
	return f.response, f.err
}

func writeExample(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestService(t *testing.T, examplesDir string, provider *fakeProvider, retriever *fakeRetriever) *Service {
	t.Helper()
	guard := guardrails.NewEngine(provider, "rewrite-model")
	return NewService(config.BIPConfig{ExamplesDir: examplesDir}, provider, retriever, guard, nil, "chat-model")
}

func baseProfile() Profile {
	return Profile{
		Name:      "Jordan",
		Age:       9,
		Diagnosis: "Autism spectrum disorder",
		Behavior:  "Elopement from classroom",
		Setting:   "Classroom transitions",
		Trigger:   "Loud unexpected noises",
	}
}

func TestBuildPromptIncludesProfileAndChecklist(t *testing.T) {
	service := newTestService(t, t.TempDir(), &fakeProvider{}, &fakeRetriever{})

	prompt := service.BuildPrompt(context.Background(), baseProfile())

	assert.Contains(t, prompt, "Student Profile:")
	assert.Contains(t, prompt, "- Name: Jordan")
	assert.Contains(t, prompt, "- Age: 9")
	assert.Contains(t, prompt, "- Trigger: Loud unexpected noises")

	assert.Contains(t, prompt, "Please produce a complete BIP that includes:\n"+
		"- FBA Summary\n"+
		"- Operational Definition\n"+
		"- Replacement Behaviors\n"+
		"- Prevention Strategies\n"+
		"- Reinforcement Plan\n"+
		"- Data Collection Method\n"+
		"- Crisis/Safety Plan if applicable\n"+
		"- Three short-term goals and one long-term goal with measurable criteria\n")
}

func TestBuildPromptOmitsOptionalSections(t *testing.T) {
	service := newTestService(t, t.TempDir(), &fakeProvider{}, &fakeRetriever{})

	prompt := service.BuildPrompt(context.Background(), baseProfile())

	assert.NotContains(t, prompt, "[REFERENCE EXAMPLES]")
	assert.NotContains(t, prompt, "[POLICY CONTEXT]")
	assert.NotContains(t, prompt, "- Notes:")
	assert.NotContains(t, prompt, "Functional Behavior Assessment Summary:")
}

func TestBuildPromptIncludesNotesAndFBA(t *testing.T) {
	service := newTestService(t, t.TempDir(), &fakeProvider{}, &fakeRetriever{})

	profile := baseProfile()
	profile.Notes = "Responds well to visual schedules"
	profile.FBAText = "  Observed 12 incidents over two weeks.  "

	prompt := service.BuildPrompt(context.Background(), profile)

	assert.Contains(t, prompt, "- Notes: Responds well to visual schedules")
	assert.Contains(t, prompt, "Functional Behavior Assessment Summary:\nObserved 12 incidents over two weeks.")
}

func TestBuildPromptUsesFirstThreeExamplesSorted(t *testing.T) {
	dir := t.TempDir()
	writeExample(t, dir, "c_plan.txt", "example C")
	writeExample(t, dir, "a_plan.txt", "example A")
	writeExample(t, dir, "b_plan.txt", "example B")
	writeExample(t, dir, "d_plan.txt", "example D")
	writeExample(t, dir, "ignored.md", "not a txt example")

	service := newTestService(t, dir, &fakeProvider{}, &fakeRetriever{})

	prompt := service.BuildPrompt(context.Background(), baseProfile())

	assert.Contains(t, prompt, "[REFERENCE EXAMPLES]\nexample A\n---\nexample B\n---\nexample C")
	assert.NotContains(t, prompt, "example D")
	assert.NotContains(t, prompt, "not a txt example")
}

func TestBuildPromptIncludesPolicyContext(t *testing.T) {
	retriever := &fakeRetriever{matches: []rag.ScoredChunk{
		{Chunk: rag.Chunk{Text: "Policy: plans require guardian consent.", Source: "policy.pdf"}, Score: 0.8},
	}}
	service := newTestService(t, t.TempDir(), &fakeProvider{}, retriever)

	prompt := service.BuildPrompt(context.Background(), baseProfile())

	assert.Contains(t, prompt, "[POLICY CONTEXT]\nPolicy: plans require guardian consent.")
	assert.Equal(t, 1, retriever.calls)
}

func TestBuildPromptSwallowsRetrievalFailures(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("embedding backend down")}
	service := newTestService(t, t.TempDir(), &fakeProvider{}, retriever)

	prompt := service.BuildPrompt(context.Background(), baseProfile())

	assert.NotContains(t, prompt, "[POLICY CONTEXT]")
	assert.Contains(t, prompt, "[NEW REQUEST]")
}

func TestGenerateSingleModelCall(t *testing.T) {
	provider := &fakeProvider{response: "Plan draft."}
	service := newTestService(t, t.TempDir(), provider, &fakeRetriever{})

	plan, err := service.Generate(context.Background(), baseProfile(), "")

	require.NoError(t, err)
	assert.Equal(t, "Plan draft.", plan)
	assert.Equal(t, 1, provider.calls)
	require.Len(t, provider.lastMsgs, 1)
	assert.Equal(t, llm.RoleUser, provider.lastMsgs[0].Role)
	assert.True(t, strings.HasPrefix(provider.lastMsgs[0].Content, "You are a certified behavior analyst"))
}

func TestGenerateUsesDefaultModel(t *testing.T) {
	provider := &fakeProvider{response: "Plan draft."}
	service := newTestService(t, t.TempDir(), provider, &fakeRetriever{})

	_, err := service.Generate(context.Background(), baseProfile(), "")

	require.NoError(t, err)
	assert.Equal(t, "chat-model", provider.lastModel)
}

func TestGenerateModelOverride(t *testing.T) {
	provider := &fakeProvider{response: "Plan draft."}
	service := newTestService(t, t.TempDir(), provider, &fakeRetriever{})

	_, err := service.Generate(context.Background(), baseProfile(), "mistral")

	require.NoError(t, err)
	assert.Equal(t, "mistral", provider.lastModel)
}

func TestGeneratePropagatesProviderError(t *testing.T) {
	provider := &fakeProvider{err: &llm.ProviderError{Cause: "ollama chat request failed"}}
	service := newTestService(t, t.TempDir(), provider, &fakeRetriever{})

	_, err := service.Generate(context.Background(), baseProfile(), "")

	require.Error(t, err)
	assert.True(t, llm.IsProviderError(err))
}

func TestGenerateSanitizesOutput(t *testing.T) {
	provider := &fakeProvider{response: "The student acts crazy during transitions."}
	service := newTestService(t, t.TempDir(), provider, &fakeRetriever{})

	plan, err := service.Generate(context.Background(), baseProfile(), "")

	require.NoError(t, err)
	assert.NotEqual(t, "The student acts crazy during transitions.", plan)
	assert.Contains(t, plan, "The student acts crazy during transitions.")
}
