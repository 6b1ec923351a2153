// Package report renders the findings of a scanned manifest as a terminal table, JSON or a
// CycloneDX VEX document.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/CycloneDX/cyclonedx-go"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/security"
)

// Format selects the output of Write
type Format string

// Supported formats
const (
	FormatTable     Format = "table"
	FormatJSON      Format = "json"
	FormatCycloneDX Format = "cyclonedx"
)

// ParseFormat validates a format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatTable, FormatJSON, FormatCycloneDX:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want table, json or cyclonedx)", name)
}

// Document is one scanned manifest
type Document struct {
	URI      string             `json:"uri"`
	Parsed   model.ParseContent `json:"-"`
	Findings []security.Finding `json:"findings"`
}

// Write renders doc to w
func Write(w io.Writer, format Format, doc Document) error {
	switch format {
	case FormatTable:
		return writeTable(w, doc)
	case FormatJSON:
		return writeJSON(w, doc)
	case FormatCycloneDX:
		return writeCycloneDX(w, doc)
	}
	return fmt.Errorf("unknown report format %q", format)
}

// Exceeds reports whether any finding is at or above threshold. A None threshold never trips.
func Exceeds(findings []security.Finding, threshold model.Severity) bool {
	if threshold == model.SeverityNone {
		return false
	}
	return security.Worst(findings) >= threshold
}

var severityColors = map[model.Severity]lipgloss.Color{
	model.SeverityCritical: lipgloss.Color("196"),
	model.SeverityHigh:     lipgloss.Color("208"),
	model.SeverityMedium:   lipgloss.Color("220"),
	model.SeverityLow:      lipgloss.Color("39"),
}

func writeTable(w io.Writer, doc Document) error {
	if len(doc.Findings) == 0 {
		_, err := fmt.Fprintf(w, "%s: no known vulnerabilities (%d dependencies, %s)\n",
			doc.URI, len(doc.Parsed.Ranges), doc.Parsed.Resolution)
		return err
	}

	rows := make([][]string, 0, len(doc.Findings))
	for _, f := range doc.Findings {
		source := ""
		if f.Transitive() {
			source = f.Source.String()
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", f.Range.Start.Row+1),
			f.Direct.String(),
			source,
			f.Vulnerability.ID,
			f.Vulnerability.Severity.String(),
			fmt.Sprintf("%d", f.Total),
		})
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("LINE", "DEPENDENCY", "VIA", "ID", "SEVERITY", "TOTAL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 4 && row >= 0 && row < len(doc.Findings) {
				if color, ok := severityColors[doc.Findings[row].Vulnerability.Severity]; ok {
					return cellStyle.Foreground(color)
				}
			}
			return cellStyle
		})

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%s: %d vulnerable of %d dependencies, worst %s (%s)\n",
		doc.URI, len(doc.Findings), len(doc.Parsed.Ranges), security.Worst(doc.Findings), doc.Parsed.Resolution)
	return err
}

type jsonReport struct {
	URI          string             `json:"uri"`
	Resolution   model.Resolution   `json:"resolution"`
	Dependencies int                `json:"dependencies"`
	Worst        model.Severity     `json:"worst"`
	Findings     []security.Finding `json:"findings"`
}

func writeJSON(w io.Writer, doc Document) error {
	findings := doc.Findings
	if findings == nil {
		findings = []security.Finding{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{
		URI:          doc.URI,
		Resolution:   doc.Parsed.Resolution,
		Dependencies: len(doc.Parsed.Ranges),
		Worst:        security.Worst(findings),
		Findings:     findings,
	})
}

func cyclonedxSeverity(s model.Severity) cyclonedx.Severity {
	switch s {
	case model.SeverityCritical:
		return cyclonedx.SeverityCritical
	case model.SeverityHigh:
		return cyclonedx.SeverityHigh
	case model.SeverityMedium:
		return cyclonedx.SeverityMedium
	case model.SeverityLow:
		return cyclonedx.SeverityLow
	}
	return cyclonedx.SeverityNone
}

func component(p model.Purl) cyclonedx.Component {
	return cyclonedx.Component{
		BOMRef:     p.String(),
		Type:       cyclonedx.ComponentTypeLibrary,
		Group:      p.Namespace,
		Name:       p.Name,
		Version:    p.Version,
		PackageURL: p.String(),
	}
}

func writeCycloneDX(w io.Writer, doc Document) error {
	bom := cyclonedx.NewBOM()
	bom.Metadata = &cyclonedx.Metadata{
		Component: &cyclonedx.Component{
			BOMRef: doc.URI,
			Type:   cyclonedx.ComponentTypeApplication,
			Name:   doc.URI,
		},
	}

	directs := make([]model.Purl, 0, len(doc.Parsed.Ranges))
	for p := range doc.Parsed.Ranges {
		directs = append(directs, p)
	}
	sort.Slice(directs, func(i, j int) bool { return directs[i].String() < directs[j].String() })

	components := make([]cyclonedx.Component, 0, len(directs))
	seen := make(map[model.Purl]bool)
	for _, p := range directs {
		components = append(components, component(p))
		seen[p] = true
	}

	vulns := make([]cyclonedx.Vulnerability, 0, len(doc.Findings))
	reported := make(map[string]bool)
	for _, f := range doc.Findings {
		if !seen[f.Source] {
			components = append(components, component(f.Source))
			seen[f.Source] = true
		}

		key := f.Vulnerability.ID + "|" + f.Source.String()
		if reported[key] {
			continue
		}
		reported[key] = true

		ratings := []cyclonedx.VulnerabilityRating{{Severity: cyclonedxSeverity(f.Vulnerability.Severity)}}
		affects := []cyclonedx.Affects{{Ref: f.Source.String()}}
		vuln := cyclonedx.Vulnerability{
			BOMRef:      key,
			ID:          f.Vulnerability.ID,
			Description: f.Vulnerability.Summary,
			Detail:      f.Vulnerability.Detail,
			Ratings:     &ratings,
			Affects:     &affects,
		}
		if f.Vulnerability.Reference != "" {
			advisories := []cyclonedx.Advisory{{URL: f.Vulnerability.Reference}}
			vuln.Advisories = &advisories
		}
		vulns = append(vulns, vuln)
	}

	if len(components) > 0 {
		bom.Components = &components
	}
	if len(vulns) > 0 {
		bom.Vulnerabilities = &vulns
	}

	enc := cyclonedx.NewBOMEncoder(w, cyclonedx.BOMFileFormatJSON)
	enc.SetPretty(true)
	return enc.Encode(bom)
}
