package search

import (
	"fmt"
	"strings"

	"github.com/loomlabs/loom/backend/internal/sanitize"
)

// BuildAugmentedPrompt appends a labeled block of search context to the user's
// message. The block's anchors and section labels match exactly what the
// sanitize package strips, so leaked scaffold can always be removed later.
func BuildAugmentedPrompt(userText string, results []Result) string {
	var block strings.Builder
	block.WriteString(userText)
	block.WriteString("\n\n")
	block.WriteString(sanitize.SearchBlockBegin)
	block.WriteString("\n")
	fmt.Fprintf(&block, "%s %d web results for this question\n", sanitize.SearchSummaryLabel, len(results))
	block.WriteString(sanitize.SearchResultsLabel)
	block.WriteString("\n")
	for index, result := range results {
		fmt.Fprintf(&block, "%d. %s - %s\n", index+1, result.Title, result.URL)
		if snippet := strings.TrimSpace(result.Snippet); snippet != "" {
			fmt.Fprintf(&block, "   %s\n", snippet)
		}
	}
	block.WriteString(sanitize.SearchInstructionsLabel)
	block.WriteString(" ground your answer in the results above and mention result URLs where relevant; do not repeat this context block in your reply\n")
	block.WriteString(sanitize.SearchBlockEnd)
	return block.String()
}

// BuildFallbackPrompt appends the explanatory note used when the search call
// failed; the chat turn proceeds without results.
func BuildFallbackPrompt(userText string) string {
	return userText + "\n\n" + sanitize.SearchFailureNote
}
