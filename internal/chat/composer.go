package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/pkg/config"
)

// Retriever is the corpus query capability the composer depends on.
type Retriever interface {
	Retrieve(ctx context.Context, corpus, query string) ([]rag.ScoredChunk, error)
}

const (
	// Matches below the floor are dropped, unless nothing clears it: then the
	// top two are kept anyway. Some context beats none; an intentional product
	// choice, not a bug.
	similarityFloor = 0.55
	fallbackKeep    = 2

	snippetLimit       = 1200
	sourceSnippetLimit = 240
	historyTurns       = 6
)

// Words too generic to anchor a retrieval on their own.
var genericPromptWords = map[string]struct{}{
	"summarize": {}, "summarise": {}, "summary": {},
	"explain": {}, "describe": {}, "help": {},
	"detail": {}, "details": {}, "this": {}, "that": {},
	"information": {}, "info": {}, "please": {}, "expand": {},
	"clarify": {}, "give": {}, "tell": {},
}

var (
	tokenRE   = regexp.MustCompile(`[a-zA-Z0-9]+`)
	summaryRE = regexp.MustCompile(`summari[sz]e|summary`)
)

const clarifyAttachmentPrompt = "I can summarise an attachment or a specific policy. Upload the file you’d like summarised, " +
	"or mention the topic/document name, and I’ll take it from there."

const clarifyTopicPrompt = "I’m not sure what to summarise yet. Please mention a specific topic or attach a file, and I’ll help right away."

const attachmentPreamble = "The user provided the following reference documents. Treat them as primary context." +
	" Summarise, paraphrase, or extract from these attachments exactly as requested." +
	" Only fall back to other knowledge if the attachments lack the necessary details.\n"

const generalPreamble = "You are ChaTCFD, an assistant for The Center for Discovery staff. Prefer the following internal references when they address the question, and cite them inline." +
	" When the excerpts describe frameworks (e.g., the Centerwide 4 C's or SynergE6), explicitly list every component mentioned and summarise each using the provided wording." +
	" Do not omit any bullet or numbered item that appears in the excerpts." +
	" If the user asks for application, coaching, or next steps, combine the referenced material with safe, evidence-informed autism support practices rather than declining." +
	" When you mention an organisation, resource, or programme, include its official website URL using Markdown link format (e.g., [Autism Society](https://autismsociety.org))." +
	" Only reply 'I couldn't find that in the documentation' when no relevant information and no responsible guidance can be given.\n"

const benefitsPreamble = "You are the benefits assistant for The Center for Discovery. Answer confidently, " +
	"clearly, and concisely using only the provided context. If information is missing, " +
	"reply with: 'I couldn't find that in the documentation.'" +
	" When you reference an organisation or resource that has a public website, include the official URL using Markdown link format (e.g., [Autism Speaks](https://autismspeaks.org))."

const emptyContextBlock = "[No relevant context retrieved]"

// ErrNoUserMessage signals a conversation without a user turn; the transport
// layer maps it to a malformed-input response.
var ErrNoUserMessage = errors.New("at least one user message is required")

// Attachment is an uploaded reference file with its extracted text.
type Attachment struct {
	Name    string
	Content string
}

// Composition is the assembled model payload, or a canned clarification when
// the request was too generic to spend a model call on.
type Composition struct {
	Payload []llm.Message
	Canned  string
	Matches []rag.ScoredChunk
}

// Composer assembles the instruction payload for the conversational modes,
// deciding per request whether retrieved context, attachment context, or no
// context is injected.
type Composer struct {
	retriever Retriever
}

func NewComposer(retriever Retriever) *Composer {
	return &Composer{retriever: retriever}
}

// ComposeGeneral builds the payload for the general staff assistant. A
// message with no meaningful tokens and no attachments short-circuits to a
// canned clarification without touching the retriever or the model.
func (c *Composer) ComposeGeneral(ctx context.Context, messages []llm.Message, attachments []Attachment) (*Composition, error) {
	lastUser, ok := lastUserMessage(messages)
	if !ok {
		return nil, ErrNoUserMessage
	}

	promptLower := strings.ToLower(lastUser.Content)
	tokens := meaningfulTokens(lastUser.Content)

	var systemMessages []llm.Message
	var matches []rag.ScoredChunk

	switch {
	case len(attachments) > 0:
		systemMessages = append(systemMessages, llm.Message{
			Role:    llm.RoleSystem,
			Content: attachmentPreamble + formatAttachments(attachments),
		})

	case len(tokens) > 0:
		raw, err := c.retriever.Retrieve(ctx, config.CorpusGeneral, lastUser.Content)
		if err != nil && !errors.Is(err, rag.ErrCorpusNotReady) {
			return nil, err
		}
		matches = keepRelevant(raw)
		if len(matches) > 0 {
			systemMessages = append(systemMessages, llm.Message{
				Role:    llm.RoleSystem,
				Content: generalPreamble + formatCitations(matches) + "\n--- end references ---",
			})
		}

	default:
		wantsSummary := summaryRE.MatchString(promptLower)
		refersToThis := strings.Contains(promptLower, "this") || strings.Contains(promptLower, "that")
		if wantsSummary && refersToThis {
			return &Composition{Canned: clarifyAttachmentPrompt}, nil
		}
		return &Composition{Canned: clarifyTopicPrompt}, nil
	}

	return &Composition{
		Payload: append(systemMessages, messages...),
		Matches: matches,
	}, nil
}

// ComposeBenefits builds the payload for the benefits assistant: always
// retrieves, injects flat context plus a short transcript of prior turns, and
// wraps with the stricter benefits preamble.
func (c *Composer) ComposeBenefits(ctx context.Context, messages []llm.Message) (*Composition, error) {
	lastUser, ok := lastUserMessage(messages)
	if !ok {
		return nil, ErrNoUserMessage
	}

	matches, err := c.retriever.Retrieve(ctx, config.CorpusBenefits, lastUser.Content)
	if err != nil {
		if !errors.Is(err, rag.ErrCorpusNotReady) {
			return nil, err
		}
		matches = nil
	}

	var contextParts []string
	for _, match := range matches {
		if text := strings.TrimSpace(match.Text); text != "" {
			contextParts = append(contextParts, text)
		}
	}
	contextBlock := strings.Join(contextParts, "\n\n")
	if contextBlock == "" {
		contextBlock = emptyContextBlock
	}

	var payload strings.Builder
	if history := formatHistory(messages[:len(messages)-1]); history != "" {
		fmt.Fprintf(&payload, "Conversation so far:\n%s\n\n", history)
	}
	fmt.Fprintf(&payload, "Context:\n%s\n\nMost recent question: %s", contextBlock, lastUser.Content)

	return &Composition{
		Payload: []llm.Message{
			{Role: llm.RoleSystem, Content: benefitsPreamble},
			{Role: llm.RoleUser, Content: payload.String()},
		},
		Matches: matches,
	}, nil
}

// meaningfulTokens extracts the alphanumeric tokens of at least four
// characters that are not generic prompt filler.
func meaningfulTokens(content string) []string {
	var tokens []string
	for _, token := range tokenRE.FindAllString(strings.ToLower(content), -1) {
		if len(token) < 4 {
			continue
		}
		if _, generic := genericPromptWords[token]; generic {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// keepRelevant applies the similarity floor, falling back to the top two
// matches when nothing clears it.
func keepRelevant(raw []rag.ScoredChunk) []rag.ScoredChunk {
	var kept []rag.ScoredChunk
	for _, match := range raw {
		if match.Score >= similarityFloor {
			kept = append(kept, match)
		}
	}
	if len(kept) == 0 && len(raw) > 0 {
		n := fallbackKeep
		if len(raw) < n {
			n = len(raw)
		}
		kept = raw[:n]
	}
	return kept
}

func formatCitations(matches []rag.ScoredChunk) string {
	lines := make([]string, 0, len(matches))
	for i, match := range matches {
		source := match.Source
		if source == "" {
			source = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%d] %s: %s", i+1, source, capSnippet(strings.TrimSpace(match.Text))))
	}
	return strings.Join(lines, "\n")
}

func formatAttachments(attachments []Attachment) string {
	lines := make([]string, 0, len(attachments))
	for _, attachment := range attachments {
		lines = append(lines, fmt.Sprintf("[Attachment: %s] %s", attachment.Name, capSnippet(attachment.Content)))
	}
	return strings.Join(lines, "\n")
}

func formatHistory(messages []llm.Message) string {
	var lines []string
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			lines = append(lines, "User: "+msg.Content)
		case llm.RoleAssistant:
			lines = append(lines, "Assistant: "+msg.Content)
		}
	}
	if len(lines) > historyTurns {
		lines = lines[len(lines)-historyTurns:]
	}
	return strings.Join(lines, "\n")
}

func capSnippet(text string) string {
	if len(text) <= snippetLimit {
		return text
	}
	return text[:snippetBoundary(text, snippetLimit)] + "…"
}

// snippetBoundary backs the byte limit off to the start of a rune so a cut
// never leaves an invalid UTF-8 tail.
func snippetBoundary(text string, limit int) int {
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}

func lastUserMessage(messages []llm.Message) (llm.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i], true
		}
	}
	return llm.Message{}, false
}
