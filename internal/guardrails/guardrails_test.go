package guardrails

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcfd/backend/internal/llm"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
	lastMsgs []llm.Message
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, model string) (string, error) {
	f.calls++
	f.lastMsgs = messages
	return f.response, f.err
}

func TestCleanseLanguageFlagsBannedTerms(t *testing.T) {
	tests := []struct {
		name string
		text string
		hit  bool
	}{
		{"banned term present", "That idea sounds crazy to me.", true},
		{"banned term uppercase", "That is CRAZY.", true},
		{"banned term inside sentence", "The student was called retarded by a peer.", true},
		{"clean text", "The student needs additional support.", false},
		{"empty text", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, hit := CleanseLanguage(tt.text)
			assert.Equal(t, tt.hit, hit)
			if tt.hit {
				assert.True(t, strings.HasPrefix(out, apologyPreamble))
			} else {
				assert.Equal(t, tt.text, out)
			}
		})
	}
}

func TestCleanseLanguageKeepsFullTextAndCollapsesNewlines(t *testing.T) {
	text := "First line is crazy.\nSecond line.\nThird line."

	out, hit := CleanseLanguage(text)

	require.True(t, hit)
	body := strings.TrimPrefix(out, apologyPreamble)
	assert.NotContains(t, body, "\n")
	assert.Contains(t, body, "Second line.")
	assert.Contains(t, body, "Third line.")
}

func TestApplySkipsRewriteForSimpleText(t *testing.T) {
	provider := &fakeProvider{response: "should not be used"}
	engine := NewEngine(provider, "rewrite-model")

	out, outcome := engine.Apply(context.Background(), "The cat sat. The dog ran.")

	assert.Equal(t, "The cat sat. The dog ran.", out)
	assert.False(t, outcome.Sanitized)
	assert.False(t, outcome.Rewritten)
	assert.Zero(t, provider.calls)
}

// One sentence this long scores far above grade 8 regardless of vocabulary.
const denseText = "The organizational leadership determined that comprehensive documentation describing every operational procedure should be distributed to all departmental coordinators before the quarterly review so that individual contributors could familiarize themselves with the updated expectations well in advance of the scheduled evaluation period."

func TestApplyRewritesDenseText(t *testing.T) {
	provider := &fakeProvider{response: "Here is a simpler version."}
	engine := NewEngine(provider, "rewrite-model")

	out, outcome := engine.Apply(context.Background(), denseText)

	assert.Equal(t, "Here is a simpler version.", out)
	assert.True(t, outcome.Rewritten)
	assert.Equal(t, 1, provider.calls)
	require.Len(t, provider.lastMsgs, 1)
	assert.True(t, strings.HasPrefix(provider.lastMsgs[0].Content, rewriteInstruction))
	assert.Contains(t, provider.lastMsgs[0].Content, denseText)
}

func TestApplyFallsBackWhenRewriteFails(t *testing.T) {
	provider := &fakeProvider{err: errors.New("backend down")}
	engine := NewEngine(provider, "rewrite-model")

	out, outcome := engine.Apply(context.Background(), denseText)

	assert.Equal(t, denseText, out)
	assert.False(t, outcome.Rewritten)
}

func TestApplyFallsBackWhenRewriteIsEmpty(t *testing.T) {
	provider := &fakeProvider{response: ""}
	engine := NewEngine(provider, "rewrite-model")

	out, outcome := engine.Apply(context.Background(), denseText)

	assert.Equal(t, denseText, out)
	assert.False(t, outcome.Rewritten)
}

func TestApplySanitizesBeforeRewriting(t *testing.T) {
	provider := &fakeProvider{response: "Rewritten."}
	engine := NewEngine(provider, "rewrite-model")

	// Banned term plus dense prose: both stages fire, and the rewrite input is
	// the sanitized text.
	out, outcome := engine.Apply(context.Background(), denseText+" That outcome would be crazy.")

	assert.True(t, outcome.Sanitized)
	assert.True(t, outcome.Rewritten)
	assert.Equal(t, "Rewritten.", out)
	require.Len(t, provider.lastMsgs, 1)
	assert.Contains(t, provider.lastMsgs[0].Content, apologyPreamble)
}
