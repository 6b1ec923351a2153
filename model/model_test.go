package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeContains(t *testing.T) {
	r := NewRange(4, 10, 7, 2)

	tests := []struct {
		line     uint32
		expected bool
	}{
		{line: 0, expected: false},
		{line: 3, expected: false},
		{line: 4, expected: true},
		{line: 5, expected: true},
		{line: 7, expected: true},
		{line: 8, expected: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, r.Contains(tt.line), "line %d", tt.line)
	}

	single := NewRange(2, 5, 2, 40)
	assert.True(t, single.Contains(2))
	assert.False(t, single.Contains(1))
	assert.False(t, single.Contains(3))
}

func TestSeverityOrdering(t *testing.T) {
	assert.Greater(t, SeverityCritical, SeverityHigh)
	assert.Greater(t, SeverityHigh, SeverityMedium)
	assert.Greater(t, SeverityMedium, SeverityLow)
	assert.Greater(t, SeverityLow, SeverityNone)
}

func TestSeverityFromCVSS(t *testing.T) {
	tests := []struct {
		score    float64
		expected Severity
	}{
		{score: 0, expected: SeverityNone},
		{score: 0.1, expected: SeverityLow},
		{score: 3.9, expected: SeverityLow},
		{score: 4.0, expected: SeverityMedium},
		{score: 6.9, expected: SeverityMedium},
		{score: 7.0, expected: SeverityHigh},
		{score: 8.9, expected: SeverityHigh},
		{score: 8.95, expected: SeverityCritical},
		{score: 9.0, expected: SeverityCritical},
		{score: 10, expected: SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SeverityFromCVSS(tt.score), "score %v", tt.score)
	}
}

func TestSeverityFromSonatype(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFromSonatype(9.8))
	assert.Equal(t, SeverityHigh, SeverityFromSonatype(9))
	assert.Equal(t, SeverityHigh, SeverityFromSonatype(7.5))
	assert.Equal(t, SeverityMedium, SeverityFromSonatype(5))
	assert.Equal(t, SeverityLow, SeverityFromSonatype(2))
	assert.Equal(t, SeverityNone, SeverityFromSonatype(0))
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("MODERATE")
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, s)

	s, err = ParseSeverity("Critical")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, s)

	_, err = ParseSeverity("catastrophic")
	assert.Error(t, err)

	var decoded Severity
	require.NoError(t, decoded.UnmarshalText([]byte("High")))
	assert.Equal(t, SeverityHigh, decoded)
}

func TestHighestPrefersLaterOnTies(t *testing.T) {
	vulns := []VulnerabilityInformation{
		{ID: "a", Severity: SeverityLow},
		{ID: "b", Severity: SeverityCritical},
		{ID: "c", Severity: SeverityMedium},
		{ID: "d", Severity: SeverityCritical},
	}

	best, ok := Highest(vulns)
	require.True(t, ok)
	assert.Equal(t, "d", best.ID)

	_, ok = Highest(nil)
	assert.False(t, ok)
}

func TestParseContentClosureFallback(t *testing.T) {
	tokio := NewPurl("cargo", "", "tokio", "1.34.0", "")
	bytes := NewPurl("cargo", "", "bytes", "1.5.0", "")
	serde := NewPurl("cargo", "", "serde", "1.0", "")

	content := ParseContent{
		Ranges: MetadataDependencies{
			tokio: NewRange(1, 0, 1, 18),
			serde: NewRange(2, 0, 2, 14),
		},
		Transitives: BuildDependencies{tokio: {tokio, bytes}},
	}

	assert.Equal(t, []Purl{tokio, bytes}, content.Closure(tokio))
	assert.Equal(t, []Purl{serde}, content.Closure(serde))
	assert.ElementsMatch(t, []Purl{tokio, bytes, serde}, content.AllPurls())
	assert.True(t, content.TransitivesResolved())

	direct := DirectClosures(content.Ranges)
	for p, closure := range direct {
		assert.Equal(t, []Purl{p}, closure)
	}
}
