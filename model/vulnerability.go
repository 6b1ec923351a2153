package model

import (
	"fmt"
	"strings"
)

// Severity is totally ordered: None < Low < Medium < High < Critical
type Severity int

// Severity levels
const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "None",
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity maps a textual rating (CRITICAL, high, moderate, ...) to a Severity
func ParseSeverity(rating string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(rating)) {
	case "critical":
		return SeverityCritical, nil
	case "high", "important":
		return SeverityHigh, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "none", "", "unknown":
		return SeverityNone, nil
	}
	return SeverityNone, fmt.Errorf("unknown severity rating %q", rating)
}

// MarshalText encodes the severity name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SeverityFromCVSS bands a CVSS base score. Scores above 8.9 are Critical.
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score <= 0:
		return SeverityNone
	case score <= 3.9:
		return SeverityLow
	case score <= 6.9:
		return SeverityMedium
	case score <= 8.9:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// SeverityFromSonatype bands a Sonatype threat level score
func SeverityFromSonatype(score float64) Severity {
	switch {
	case score > 9:
		return SeverityCritical
	case score > 7:
		return SeverityHigh
	case score > 4:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// License is a declared package license
type License struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// VulnerabilityInformation is a single finding reported by a backend
type VulnerabilityInformation struct {
	ID        string    `json:"id,omitempty"`
	Severity  Severity  `json:"severity"`
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail"`
	Reference string    `json:"reference,omitempty"`
	Licenses  []License `json:"licenses,omitempty"`
}

// VulnerabilityVersionInfo holds every finding for one package version. An empty
// Vulnerabilities list is a confirmed clean result.
type VulnerabilityVersionInfo struct {
	Purl            Purl                       `json:"purl"`
	Vulnerabilities []VulnerabilityInformation `json:"vulnerabilities"`
}

// Highest returns the most severe vulnerability, preferring the later entry on ties
func Highest(vulns []VulnerabilityInformation) (VulnerabilityInformation, bool) {
	if len(vulns) == 0 {
		return VulnerabilityInformation{}, false
	}

	best := vulns[0]
	for _, v := range vulns[1:] {
		if v.Severity >= best.Severity {
			best = v
		}
	}
	return best, true
}
