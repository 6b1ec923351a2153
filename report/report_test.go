package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/CycloneDX/cyclonedx-go"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	app   = model.Purl{Ecosystem: "maven", Namespace: "org.example", Name: "app", Version: "1.0.0"}
	text  = model.Purl{Ecosystem: "maven", Namespace: "org.apache.commons", Name: "commons-text", Version: "1.9"}
	junit = model.Purl{Ecosystem: "maven", Namespace: "junit", Name: "junit", Version: "4.13.2"}
)

func sampleDocument() Document {
	return Document{
		URI: "file:///work/app/pom.xml",
		Parsed: model.ParseContent{
			Ranges: model.MetadataDependencies{
				app:   model.NewRange(10, 4, 14, 17),
				junit: model.NewRange(15, 4, 19, 17),
			},
			Transitives: model.BuildDependencies{
				app:   {app, text},
				junit: {junit},
			},
			Resolution: model.ResolutionTransitive,
		},
		Findings: []security.Finding{
			{
				Range:  model.NewRange(10, 4, 14, 17),
				Direct: app,
				Source: text,
				Vulnerability: model.VulnerabilityInformation{
					ID:        "CVE-2022-42889",
					Severity:  model.SeverityCritical,
					Summary:   "Arbitrary code execution in Apache Commons Text",
					Reference: "https://nvd.nist.gov/vuln/detail/CVE-2022-42889",
				},
				Total: 2,
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"table", "JSON", " cyclonedx "} {
		_, err := ParseFormat(name)
		assert.NoError(t, err, name)
	}

	_, err := ParseFormat("sarif")
	assert.Error(t, err)
}

func TestExceeds(t *testing.T) {
	findings := sampleDocument().Findings

	assert.True(t, Exceeds(findings, model.SeverityHigh))
	assert.True(t, Exceeds(findings, model.SeverityCritical))
	assert.False(t, Exceeds(findings, model.SeverityNone))
	assert.False(t, Exceeds(nil, model.SeverityLow))
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, sampleDocument()))

	out := buf.String()
	assert.Contains(t, out, "CVE-2022-42889")
	assert.Contains(t, out, text.String())
	assert.Contains(t, out, "Critical")
	assert.Contains(t, out, "1 vulnerable of 2 dependencies")
}

func TestWriteTableClean(t *testing.T) {
	doc := sampleDocument()
	doc.Findings = nil

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, doc))
	assert.Contains(t, buf.String(), "no known vulnerabilities")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleDocument()))

	var got struct {
		Resolution   string `json:"resolution"`
		Dependencies int    `json:"dependencies"`
		Worst        string `json:"worst"`
		Findings     []struct {
			Direct string `json:"direct"`
			Source string `json:"source"`
		} `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "transitive", got.Resolution)
	assert.Equal(t, 2, got.Dependencies)
	assert.Equal(t, "Critical", got.Worst)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, app.String(), got.Findings[0].Direct)
	assert.Equal(t, text.String(), got.Findings[0].Source)
}

func TestWriteCycloneDX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCycloneDX, sampleDocument()))

	var bom cyclonedx.BOM
	require.NoError(t, cyclonedx.NewBOMDecoder(&buf, cyclonedx.BOMFileFormatJSON).Decode(&bom))

	require.NotNil(t, bom.Components)
	assert.Len(t, *bom.Components, 3)

	require.NotNil(t, bom.Vulnerabilities)
	vulns := *bom.Vulnerabilities
	require.Len(t, vulns, 1)
	assert.Equal(t, "CVE-2022-42889", vulns[0].ID)
	require.NotNil(t, vulns[0].Ratings)
	assert.Equal(t, cyclonedx.SeverityCritical, (*vulns[0].Ratings)[0].Severity)
	require.NotNil(t, vulns[0].Affects)
	assert.Equal(t, text.String(), (*vulns[0].Affects)[0].Ref)
	require.NotNil(t, vulns[0].Advisories)
}
