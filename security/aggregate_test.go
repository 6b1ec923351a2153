package security

import (
	"testing"

	"github.com/ortelius/vulnlsp/cache"
	"github.com/ortelius/vulnlsp/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crate(name string) model.Purl {
	return model.NewPurl("cargo", "", name, "1.0.0", "")
}

func vuln(id string, severity model.Severity) model.VulnerabilityInformation {
	return model.VulnerabilityInformation{ID: id, Severity: severity, Summary: id}
}

func TestAggregate(t *testing.T) {
	app := crate("app-dep")
	a := crate("a")
	b := crate("b")
	c := crate("c")
	lone := crate("lone")
	clean := crate("clean")

	c1 := cache.New(nil)
	c1.PutMany([]model.VulnerabilityVersionInfo{
		{Purl: app, Vulnerabilities: []model.VulnerabilityInformation{vuln("V-LOW", model.SeverityLow)}},
		{Purl: a, Vulnerabilities: []model.VulnerabilityInformation{vuln("V-CRIT", model.SeverityCritical)}},
		{Purl: b, Vulnerabilities: []model.VulnerabilityInformation{vuln("V-MED", model.SeverityMedium)}},
		{Purl: lone, Vulnerabilities: []model.VulnerabilityInformation{vuln("V-HIGH", model.SeverityHigh)}},
		{Purl: clean, Vulnerabilities: []model.VulnerabilityInformation{}},
	})

	parsed := model.ParseContent{
		Ranges: model.MetadataDependencies{
			app:   model.NewRange(4, 0, 4, 20),
			lone:  model.NewRange(8, 0, 8, 14),
			clean: model.NewRange(2, 0, 2, 15),
			c:     model.NewRange(10, 0, 10, 12),
		},
		Transitives: model.BuildDependencies{
			app:   {app, a, b},
			clean: {clean},
			c:     {c},
		},
	}

	findings := Aggregate(parsed, c1)
	require.Len(t, findings, 2)

	assert.Equal(t, model.NewRange(4, 0, 4, 20), findings[0].Range)
	assert.Equal(t, "V-CRIT", findings[0].Vulnerability.ID)
	assert.Equal(t, model.SeverityCritical, findings[0].Vulnerability.Severity)
	assert.Equal(t, a, findings[0].Source)
	assert.True(t, findings[0].Transitive())
	assert.Equal(t, 3, findings[0].Total)

	// no closure recorded: the dependency is its own closure
	assert.Equal(t, lone, findings[1].Direct)
	assert.Equal(t, "V-HIGH", findings[1].Vulnerability.ID)
	assert.False(t, findings[1].Transitive())

	assert.Equal(t, model.SeverityCritical, Worst(findings))
}

func TestAggregateTiesPreferLaterEntry(t *testing.T) {
	direct := crate("direct")
	dep := crate("dep")

	c1 := cache.New(nil)
	c1.PutMany([]model.VulnerabilityVersionInfo{
		{Purl: direct, Vulnerabilities: []model.VulnerabilityInformation{vuln("FIRST", model.SeverityHigh)}},
		{Purl: dep, Vulnerabilities: []model.VulnerabilityInformation{vuln("SECOND", model.SeverityLow), vuln("THIRD", model.SeverityHigh)}},
	})

	parsed := model.ParseContent{
		Ranges:      model.MetadataDependencies{direct: model.NewRange(1, 0, 1, 10)},
		Transitives: model.BuildDependencies{direct: {direct, dep}},
	}

	findings := Aggregate(parsed, c1)
	require.Len(t, findings, 1)
	assert.Equal(t, "THIRD", findings[0].Vulnerability.ID)
	assert.Equal(t, dep, findings[0].Source)
}

func TestAggregateNothingCached(t *testing.T) {
	parsed := model.ParseContent{
		Ranges: model.MetadataDependencies{crate("x"): model.NewRange(0, 0, 0, 5)},
	}

	assert.Empty(t, Aggregate(parsed, cache.New(nil)))
	assert.Equal(t, model.SeverityNone, Worst(nil))
}
