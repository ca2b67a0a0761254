package sanitize

import (
	"strings"
	"testing"
)

func blocksOfKind(blocks []Block, kind BlockKind) []Block {
	var matched []Block
	for _, block := range blocks {
		if block.Kind == kind {
			matched = append(matched, block)
		}
	}
	return matched
}

func TestExtractBlocksFindsFencedCode(t *testing.T) {
	text := "Intro.\n```go\nfmt.Println(\"hi\")\n```\nOutro."
	code := blocksOfKind(ExtractBlocks(text), BlockKindCode)
	if len(code) != 1 {
		t.Fatalf("expected 1 code block, got %d", len(code))
	}
	if !strings.Contains(code[0].Content, `fmt.Println("hi")`) {
		t.Fatalf("unexpected code content: %q", code[0].Content)
	}
}

func TestExtractBlocksFindsMarkdownTable(t *testing.T) {
	text := "Results:\n| Name | Score |\n|------|-------|\n| Ada  | 9     |\nDone."
	tables := blocksOfKind(ExtractBlocks(text), BlockKindTable)
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
	if !strings.Contains(tables[0].Content, "| Ada  | 9     |") {
		t.Fatalf("unexpected table content: %q", tables[0].Content)
	}
}

func TestExtractBlocksFindsLists(t *testing.T) {
	text := "Steps:\n1. mix\n2. bake\n\nNotes:\n- hot oven\n- cool rack\n"
	lists := blocksOfKind(ExtractBlocks(text), BlockKindList)
	if len(lists) != 2 {
		t.Fatalf("expected 2 lists, got %d", len(lists))
	}
}

func TestExtractBlocksIgnoresSingleListLine(t *testing.T) {
	text := "Only:\n- lonely item\nThe end."
	if lists := blocksOfKind(ExtractBlocks(text), BlockKindList); len(lists) != 0 {
		t.Fatalf("single list line should not extract, got %d", len(lists))
	}
}

func TestExtractBlocksSkipsTableLinesInsideCodeFence(t *testing.T) {
	text := "```\n| a | b |\n| c | d |\n```"
	blocks := ExtractBlocks(text)
	if len(blocksOfKind(blocks, BlockKindCode)) != 1 {
		t.Fatalf("expected the fence as a code block")
	}
	if len(blocksOfKind(blocks, BlockKindTable)) != 0 {
		t.Fatalf("table rows inside a fence must not extract as a table")
	}
}

func TestExtractBlocksEmptyText(t *testing.T) {
	if blocks := ExtractBlocks(""); len(blocks) != 0 {
		t.Fatalf("expected no blocks, got %d", len(blocks))
	}
}
