// Package sanitize cleans assistant reply text before display or storage:
// vendor citation markers, sandbox placeholders and leaked web-search
// scaffolding are stripped, while recognized file-reference links are
// protected so cleanup can never destroy them.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Anchors of the web-search context block appended to augmented prompts. The
// search package builds the block with these exact markers; Sanitize removes
// anything between them when the scaffold leaks into stored or displayed text.
const (
	SearchBlockBegin        = "--- Web Search Context ---"
	SearchBlockEnd          = "--- End Web Search Context ---"
	SearchSummaryLabel      = "Search summary:"
	SearchResultsLabel      = "Search results:"
	SearchInstructionsLabel = "Formatting instructions:"
	SearchFailureNote       = "Note: web search was unavailable for this request."
)

var (
	// Vendor bracketed citation markers, e.g. 【12†source】.
	citationPattern = regexp.MustCompile(`【[^【】]*†[^【】]*】`)

	// Bracketed sandbox placeholders left when the assistant references
	// ephemeral execution paths, e.g. [sandbox:output truncated].
	sandboxRefPattern = regexp.MustCompile(`\[sandbox:[^\]]*\]`)

	// The full scaffold block between its anchors, including the anchors.
	searchBlockPattern = regexp.MustCompile(
		`(?s)` + regexp.QuoteMeta(SearchBlockBegin) + `.*?` + regexp.QuoteMeta(SearchBlockEnd) + `\n?`)

	// Individual scaffold lines that leak without the surrounding block.
	searchLinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(SearchSummaryLabel) + `[^\n]*\n?`),
		regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(SearchResultsLabel) + `[^\n]*\n?`),
		regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(SearchInstructionsLabel) + `[^\n]*\n?`),
		regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(SearchFailureNote) + `[^\n]*\n?`),
	}

	multiBlankPattern = regexp.MustCompile(`\n{3,}`)
)

// FileServePathPrefix is the local file-serving convention. It is both the
// public URL scheme for stored files and the pattern the link-protection
// pass recognizes; the two must stay in lockstep.
const FileServePathPrefix = "/api/files/"

// fileRefPatterns is the fixed list of recognized file-reference shapes.
// Order matters: longer, more specific shapes are protected first so the
// bare-token patterns cannot split them.
var fileRefPatterns = []*regexp.Regexp{
	// Markdown links to the local file-serving endpoint.
	regexp.MustCompile(`\[[^\]\n]*\]\([^)\n]*` + regexp.QuoteMeta(FileServePathPrefix) + `[A-Za-z0-9._-]+[^)\n]*\)`),
	// Quoted URLs to the local endpoint.
	regexp.MustCompile(`"[^"\n]*` + regexp.QuoteMeta(FileServePathPrefix) + `[A-Za-z0-9._-]+[^"\n]*"`),
	regexp.MustCompile(`'[^'\n]*` + regexp.QuoteMeta(FileServePathPrefix) + `[A-Za-z0-9._-]+[^'\n]*'`),
	// Bare URLs to the local endpoint.
	regexp.MustCompile(regexp.QuoteMeta(FileServePathPrefix) + `[A-Za-z0-9._-]+`),
	// Vendor sandbox file URLs.
	regexp.MustCompile(`sandbox:/[^\s)\]"']+`),
	// Vendor file-id tokens.
	regexp.MustCompile(`file-[A-Za-z0-9]{6,}`),
}

// Placeholder delimiters use private-use runes so no cleanup rule can match
// across or inside a protected span.
const (
	placeholderOpen  = "\uE000"
	placeholderClose = "\uE001"
)

// Sanitize applies the full cleanup pipeline. If the round-trip would change
// the number of recognized file references, the input is returned unmodified.
func Sanitize(text string) string {
	protected, originals := protectFileRefs(text)

	cleaned := StripSearchScaffold(protected)
	cleaned = citationPattern.ReplaceAllString(cleaned, "")
	cleaned = sandboxRefPattern.ReplaceAllString(cleaned, "")
	cleaned = multiBlankPattern.ReplaceAllString(cleaned, "\n\n")

	restored := restoreFileRefs(cleaned, originals)
	if CountFileRefs(restored) != len(originals) {
		return text
	}
	return strings.TrimSpace(restored)
}

// StripSearchScaffold removes the labeled web-search context block and any
// stray scaffold lines, using the anchored phrase markers as delimiters.
func StripSearchScaffold(text string) string {
	cleaned := searchBlockPattern.ReplaceAllString(text, "")
	for _, pattern := range searchLinePatterns {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	return cleaned
}

// CountFileRefs reports how many recognized file-reference occurrences the
// text contains, counted the same way the protection pass consumes them.
func CountFileRefs(text string) int {
	_, originals := protectFileRefs(text)
	return len(originals)
}

func protectFileRefs(text string) (string, []string) {
	var originals []string
	protected := text
	for _, pattern := range fileRefPatterns {
		protected = pattern.ReplaceAllStringFunc(protected, func(match string) string {
			placeholder := fmt.Sprintf("%sFILE%d%s", placeholderOpen, len(originals), placeholderClose)
			originals = append(originals, match)
			return placeholder
		})
	}
	return protected, originals
}

func restoreFileRefs(text string, originals []string) string {
	restored := text
	for index, original := range originals {
		placeholder := fmt.Sprintf("%sFILE%d%s", placeholderOpen, index, placeholderClose)
		restored = strings.Replace(restored, placeholder, original, 1)
	}
	return restored
}
