package util

import (
	"path/filepath"
	"testing"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("VULNLSP_TEST_SET", "value")
	assert.Equal(t, "value", GetEnvDefault("VULNLSP_TEST_SET", "default"))
	assert.Equal(t, "default", GetEnvDefault("VULNLSP_TEST_UNSET", "default"))
}

func TestDocumentPath(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("/work/my crate/Cargo.toml"), DocumentPath("file:///work/my%20crate/Cargo.toml"))
	assert.Equal(t, "/work/pom.xml", DocumentPath("/work/pom.xml"))
	assert.Equal(t, filepath.FromSlash("/work/app"), DocumentDir("file:///work/app/pom.xml"))
}

func TestGetBasePURL(t *testing.T) {
	base, err := GetBasePURL("pkg:maven/com.Google.guava/Guava@31.1-jre?type=jar")
	require.NoError(t, err)
	assert.Equal(t, "pkg:maven/com.google.guava/guava", base)

	_, err = GetBasePURL("guava")
	assert.Error(t, err)
}

func TestEcosystemMapping(t *testing.T) {
	assert.Equal(t, "cargo", EcosystemToPurlType("crates.io"))
	assert.Equal(t, "Maven", PurlTypeToEcosystem("maven"))
	assert.Empty(t, PurlTypeToEcosystem("unknown"))
}

func TestIsVersionAffected(t *testing.T) {
	affected := models.Affected{
		Versions: []string{"0.0.1-beta"},
		Ranges: []models.Range{
			{
				Type: models.RangeSemVer,
				Events: []models.Event{
					{Introduced: "0"},
					{Fixed: "0.2.23"},
				},
			},
			{
				Type:   models.RangeGit,
				Events: []models.Event{{Introduced: "abc123"}},
			},
		},
	}

	tests := []struct {
		version  string
		expected bool
	}{
		{"0.1.45", true},
		{"0.2.22", true},
		{"0.2.23", false},
		{"0.3.30", false},
		{"0.0.1-beta", true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsVersionAffected(tt.version, affected))
		})
	}
}

func TestIsVersionAffectedLastAffected(t *testing.T) {
	affected := models.Affected{
		Ranges: []models.Range{{
			Type:   models.RangeEcosystem,
			Events: []models.Event{{Introduced: "2.0.0"}, {LastAffected: "2.14.1"}},
		}},
	}

	assert.True(t, IsVersionAffected("2.14.1", affected))
	assert.False(t, IsVersionAffected("2.15.0", affected))
	assert.False(t, IsVersionAffected("1.2.17", affected))
}

func TestIsVersionAffectedMultipleSpans(t *testing.T) {
	affected := models.Affected{
		Ranges: []models.Range{{
			Type: models.RangeSemVer,
			Events: []models.Event{
				{Introduced: "2.0.0"},
				{Fixed: "2.3.0"},
				{Introduced: "0"},
				{Fixed: "1.2.0"},
			},
		}},
	}

	tests := []struct {
		version  string
		expected bool
	}{
		{"0.5.0", true},
		{"1.0.0", true},
		{"1.2.0", false},
		{"1.5.0", false},
		{"2.0.0", true},
		{"2.1.0", true},
		{"2.3.0", false},
		{"3.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsVersionAffected(tt.version, affected))
		})
	}
}

func TestIsVersionAffectedNonSemverSpans(t *testing.T) {
	affected := models.Affected{
		Ranges: []models.Range{{
			Type:   models.RangeEcosystem,
			Events: []models.Event{{Introduced: "0"}, {Fixed: "r10"}, {Introduced: "r20"}, {Fixed: "r30"}},
		}},
	}

	assert.True(t, IsVersionAffected("r05", affected))
	assert.False(t, IsVersionAffected("r15", affected))
	assert.True(t, IsVersionAffected("r25", affected))
	assert.False(t, IsVersionAffected("r35", affected))
}

func TestFixedVersions(t *testing.T) {
	affected := models.Affected{
		Ranges: []models.Range{
			{Type: models.RangeSemVer, Events: []models.Event{{Introduced: "0"}, {Fixed: "2.15.0"}}},
			{Type: models.RangeEcosystem, Events: []models.Event{{Introduced: "2.13.0"}, {Fixed: "2.15.0"}}},
			{Type: models.RangeEcosystem, Events: []models.Event{{Introduced: "2.0"}, {Fixed: "2.12.2"}}},
		},
	}

	assert.Equal(t, []string{"2.15.0", "2.12.2"}, FixedVersions(affected))
}

func TestSortVersionsDescending(t *testing.T) {
	sorted := SortVersionsDescending([]string{"1.2.0", "snapshot", "1.10.0", "1.9.3", "alpha"})
	assert.Equal(t, []string{"1.10.0", "1.9.3", "1.2.0", "snapshot", "alpha"}, sorted)
}
