package model

import "fmt"

// Position is a zero-based row/column location in a manifest document
type Position struct {
	Row uint32 `json:"row"`
	Col uint32 `json:"col"`
}

// Range is the span of a dependency declaration
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// NewRange creates a Range from row/column pairs
func NewRange(startRow, startCol, endRow, endCol uint32) Range {
	return Range{
		Start: Position{Row: startRow, Col: startCol},
		End:   Position{Row: endRow, Col: endCol},
	}
}

// Contains is line grained: both the start and end rows are included, columns are ignored
func (r Range) Contains(line uint32) bool {
	return r.Start.Row <= line && line <= r.End.Row
}

// Before orders ranges by their start position
func (r Range) Before(other Range) bool {
	if r.Start.Row != other.Start.Row {
		return r.Start.Row < other.Start.Row
	}
	return r.Start.Col < other.Start.Col
}

func (r Range) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Row, r.Start.Col, r.End.Row, r.End.Col)
}
