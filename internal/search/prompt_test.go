package search

import (
	"strings"
	"testing"

	"github.com/loomlabs/loom/backend/internal/sanitize"
)

func TestBuildAugmentedPromptFormatsResultLines(t *testing.T) {
	prompt := BuildAugmentedPrompt("What is the weather?", []Result{
		{Title: "Forecast", URL: "https://example.com/wx", Snippet: "Sunny all week."},
		{Title: "Radar", URL: "https://example.com/radar"},
	})

	if !strings.HasPrefix(prompt, "What is the weather?\n\n") {
		t.Fatalf("user text must lead the prompt: %q", prompt)
	}
	if !strings.Contains(prompt, sanitize.SearchSummaryLabel+" 2 web results") {
		t.Fatalf("summary line missing: %q", prompt)
	}
	if !strings.Contains(prompt, "1. Forecast - https://example.com/wx\n   Sunny all week.\n") {
		t.Fatalf("numbered result line malformed: %q", prompt)
	}
	if !strings.Contains(prompt, "2. Radar - https://example.com/radar\n") {
		t.Fatalf("snippet-less result line malformed: %q", prompt)
	}
	if !strings.HasSuffix(prompt, sanitize.SearchBlockEnd) {
		t.Fatalf("block end anchor missing: %q", prompt)
	}
}

func TestBuildAugmentedPromptBlockIsStrippable(t *testing.T) {
	prompt := BuildAugmentedPrompt("Question.", []Result{
		{Title: "Forecast", URL: "https://example.com/wx"},
	})
	stripped := strings.TrimSpace(sanitize.StripSearchScaffold(prompt))
	if stripped != "Question." {
		t.Fatalf("scaffold not fully removable: %q", stripped)
	}
}

func TestBuildFallbackPromptExactFormat(t *testing.T) {
	prompt := BuildFallbackPrompt("Question.")
	if prompt != "Question.\n\n"+sanitize.SearchFailureNote {
		t.Fatalf("unexpected fallback prompt: %q", prompt)
	}
}
