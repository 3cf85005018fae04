package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/basaltrun/toolfed"
)

// Selector picks the subset of candidates relevant to a query. Spec.md
// §9 requires this be pluggable, with a deterministic fallback when the
// selector is unavailable or returns an unparsable reply.
type Selector interface {
	// Select returns the qualified names of relevant candidates. A nil
	// result or non-nil error is treated by the façade as "fall back to
	// returning every candidate".
	Select(ctx context.Context, query string, candidates []toolfed.ToolRecord) ([]string, error)
}

// NoopSelector always defers to the façade's fallback (every candidate).
type NoopSelector struct{}

// Select implements Selector by returning nil, which the façade's
// fallback interprets as "use every candidate".
func (NoopSelector) Select(ctx context.Context, query string, candidates []toolfed.ToolRecord) ([]string, error) {
	return nil, nil
}

// OpenAISelector prompts a small chat model to return a JSON array of
// relevant qualified tool names.
type OpenAISelector struct {
	client *openai.Client
	model  string
}

// NewOpenAISelector constructs a Selector backed by the given API key
// and model (e.g. "gpt-4o-mini").
func NewOpenAISelector(apiKey, model string) *OpenAISelector {
	return &OpenAISelector{client: openai.NewClient(apiKey), model: model}
}

// Select implements Selector.
func (s *OpenAISelector) Select(ctx context.Context, query string, candidates []toolfed.ToolRecord) ([]string, error) {
	if query == "" || len(candidates) == 0 {
		return nil, nil
	}

	prompt := buildSelectorPrompt(query, candidates)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You select relevant tools for a user query. Respond with a JSON array of " +
					"qualified tool names only, nothing else.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("facade: selector model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("facade: selector model returned no choices")
	}

	names, err := parseSelectorReply(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("facade: unparsable selector reply: %w", err)
	}
	return names, nil
}

func buildSelectorPrompt(query string, candidates []toolfed.ToolRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nCandidates:\n", query)
	for _, rec := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", rec.QualifiedName, rec.Description)
	}
	sb.WriteString("\nReturn a JSON array of the qualified names of the relevant tools.")
	return sb.String()
}

// parseSelectorReply extracts a JSON array of strings from a model
// reply, tolerating a surrounding code fence.
func parseSelectorReply(content string) ([]string, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var names []string
	if err := json.Unmarshal([]byte(trimmed), &names); err != nil {
		return nil, err
	}
	return names, nil
}

var (
	_ Selector = NoopSelector{}
	_ Selector = (*OpenAISelector)(nil)
)
