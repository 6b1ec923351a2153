package parser

import (
	"strings"

	"github.com/ortelius/vulnlsp/model"
)

// block is a candidate dependency declaration bounded by a start and an end marker
type block struct {
	lines []string // full source lines covered by the block
	text  string   // text from the start marker to the end marker
	rng   model.Range
}

// blockMatcher supplies the ecosystem specific delimiters. start is called for every row
// outside a block, in document order; end is called for every row from the opening row on
// until it reports the block closed.
type blockMatcher interface {
	start(lines []string, row int) (col int, ok bool)
	end(lines []string, open model.Position, row int) (col int, ok bool)
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// scanBlocks bounds every candidate block of the document. A block left open at the end of
// the document is dropped and scanning resumes on the row after its start marker, so a
// half-typed declaration does not hide the declarations after it.
func scanBlocks(text string, m blockMatcher) []block {
	lines := splitLines(text)

	var blocks []block
	var open *model.Position

	for row := 0; row < len(lines); row++ {
		if open == nil {
			col, ok := m.start(lines, row)
			if !ok {
				continue
			}
			open = &model.Position{Row: uint32(row), Col: uint32(col)}
		}

		col, ok := m.end(lines, *open, row)
		if ok {
			blocks = append(blocks, newBlock(lines, *open, row, col))
			open = nil
			continue
		}

		if row == len(lines)-1 {
			row = int(open.Row)
			open = nil
		}
	}

	return blocks
}

func newBlock(lines []string, start model.Position, endRow int, endCol int) block {
	covered := lines[start.Row : endRow+1]

	parts := make([]string, len(covered))
	copy(parts, covered)

	last := len(parts) - 1
	if endCol < len(parts[last]) {
		parts[last] = parts[last][:endCol]
	}
	if int(start.Col) <= len(parts[0]) {
		parts[0] = parts[0][start.Col:]
	}

	return block{
		lines: covered,
		text:  strings.Join(parts, "\n"),
		rng:   model.NewRange(start.Row, start.Col, uint32(endRow), uint32(endCol)),
	}
}

// lineEnd is the column just past the last non-blank character of a line
func lineEnd(line string) int {
	return len(strings.TrimRight(line, " \t\r"))
}
