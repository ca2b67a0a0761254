package sanitize

import (
	"regexp"
	"strings"
)

// BlockKind labels an extracted structural fragment.
type BlockKind string

const (
	BlockKindTable BlockKind = "table"
	BlockKindCode  BlockKind = "code"
	BlockKindList  BlockKind = "list"
)

// Block is a structural fragment extracted from a text blob.
type Block struct {
	Kind    BlockKind
	Content string
}

var (
	fencedCodePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\n.*?```")
	listItemPattern   = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	tableRowPattern   = regexp.MustCompile(`^\s*\|.*\|\s*$`)
)

// ExtractBlocks pulls markdown tables, fenced code blocks and numbered or
// bulleted lists out of a text blob. Best effort: the result populates a
// selection menu and is not guaranteed exhaustive or syntactically exact.
func ExtractBlocks(text string) []Block {
	var blocks []Block

	for _, code := range fencedCodePattern.FindAllString(text, -1) {
		blocks = append(blocks, Block{Kind: BlockKindCode, Content: code})
	}

	// Code fences are masked out before line scanning so table or list
	// looking lines inside them are not double-extracted.
	masked := fencedCodePattern.ReplaceAllStringFunc(text, func(match string) string {
		return strings.Repeat("\n", strings.Count(match, "\n"))
	})

	blocks = append(blocks, extractLineRuns(masked, tableRowPattern, BlockKindTable, 2)...)
	blocks = append(blocks, extractLineRuns(masked, listItemPattern, BlockKindList, 2)...)

	return blocks
}

func extractLineRuns(text string, pattern *regexp.Regexp, kind BlockKind, minLines int) []Block {
	var blocks []Block
	var run []string

	flush := func() {
		if len(run) >= minLines {
			blocks = append(blocks, Block{Kind: kind, Content: strings.Join(run, "\n")})
		}
		run = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if pattern.MatchString(line) {
			run = append(run, line)
			continue
		}
		flush()
	}
	flush()

	return blocks
}
