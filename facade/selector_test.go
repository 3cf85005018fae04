package facade

import (
	"context"
	"strings"
	"testing"

	"github.com/basaltrun/toolfed"
)

func TestNoopSelectorReturnsNil(t *testing.T) {
	names, err := NoopSelector{}.Select(context.Background(), "q", nil)
	if err != nil || names != nil {
		t.Fatalf("NoopSelector.Select = %v, %v, want nil, nil", names, err)
	}
}

func TestParseSelectorReplyPlainJSON(t *testing.T) {
	names, err := parseSelectorReply(`["a__foo", "a__bar"]`)
	if err != nil {
		t.Fatalf("parseSelectorReply: %v", err)
	}
	if len(names) != 2 || names[0] != "a__foo" || names[1] != "a__bar" {
		t.Fatalf("names = %v", names)
	}
}

func TestParseSelectorReplyCodeFenced(t *testing.T) {
	names, err := parseSelectorReply("```json\n[\"a__foo\"]\n```")
	if err != nil {
		t.Fatalf("parseSelectorReply: %v", err)
	}
	if len(names) != 1 || names[0] != "a__foo" {
		t.Fatalf("names = %v", names)
	}
}

func TestParseSelectorReplyUnparsable(t *testing.T) {
	if _, err := parseSelectorReply("not json at all"); err == nil {
		t.Fatal("expected error for unparsable reply")
	}
}

func TestBuildSelectorPromptIncludesCandidates(t *testing.T) {
	prompt := buildSelectorPrompt("cats", []toolfed.ToolRecord{
		{QualifiedName: "a__foo", Description: "likes cats"},
	})
	if !strings.Contains(prompt, "a__foo") || !strings.Contains(prompt, "likes cats") {
		t.Fatalf("prompt missing candidate details: %s", prompt)
	}
}
