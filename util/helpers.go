// Package util provides helpers shared by the parsers, backends and commands of vulnlsp.
package util

import (
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/osv-scanner/pkg/models"
	"github.com/package-url/packageurl-go"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// IsNotEmpty checks if a string is not empty
func IsNotEmpty(s string) bool {
	return !IsEmpty(s)
}

// DocumentPath converts an editor document identifier (file:// URI or plain path) to a filesystem path
func DocumentPath(uri string) string {
	if !strings.HasPrefix(uri, "file:") {
		return uri
	}

	parsed, err := url.Parse(uri)
	if err != nil || parsed.Path == "" {
		return strings.TrimPrefix(uri, "file://")
	}
	return filepath.FromSlash(parsed.Path)
}

// DocumentDir returns the directory holding the document, which is where build tools run
func DocumentDir(uri string) string {
	return filepath.Dir(DocumentPath(uri))
}

// GetBasePURL removes the version component from a PURL to create a base package identifier.
// CVE records are indexed by base purl, e.g. pkg:cargo/tokio@1.34.0 -> pkg:cargo/tokio
func GetBasePURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}

	base := packageurl.PackageURL{
		Type:      parsed.Type,
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
	}

	return strings.ToLower(base.ToString()), nil
}

var osvEcosystems = map[string]string{
	"npm":       "npm",
	"PyPI":      "pypi",
	"Maven":     "maven",
	"Go":        "golang",
	"NuGet":     "nuget",
	"RubyGems":  "gem",
	"crates.io": "cargo",
	"Packagist": "composer",
	"Pub":       "pub",
	"Hex":       "hex",
}

// EcosystemToPurlType converts OSV ecosystem to PURL type
func EcosystemToPurlType(ecosystem string) string {
	return osvEcosystems[ecosystem]
}

// PurlTypeToEcosystem converts a PURL type to its OSV ecosystem name
func PurlTypeToEcosystem(purlType string) string {
	for ecosystem, typ := range osvEcosystems {
		if typ == purlType {
			return ecosystem
		}
	}
	return ""
}

// IsVersionAffected checks if a version is listed by, or falls within a range of, an OSV affected entry
func IsVersionAffected(version string, affected models.Affected) bool {
	for _, v := range affected.Versions {
		if version == v {
			return true
		}
	}

	for _, vrange := range affected.Ranges {
		// Only SEMVER and ECOSYSTEM ranges carry comparable versions
		if vrange.Type != models.RangeEcosystem && vrange.Type != models.RangeSemVer {
			continue
		}
		if isVersionInRange(version, vrange) {
			return true
		}
	}

	return false
}

// FixedVersions lists the distinct fixed versions of an affected entry
func FixedVersions(affected models.Affected) []string {
	var fixed []string
	seen := make(map[string]bool)
	for _, vrange := range affected.Ranges {
		for _, event := range vrange.Events {
			if event.Fixed != "" && !seen[event.Fixed] {
				fixed = append(fixed, event.Fixed)
				seen[event.Fixed] = true
			}
		}
	}
	return fixed
}

func isVersionInRange(version string, vrange models.Range) bool {
	if _, err := semver.NewVersion(version); err != nil {
		return inEventSpans(version, vrange.Events, compareStrings)
	}
	return inEventSpans(version, vrange.Events, compareSemver)
}

const (
	eventIntroduced = iota
	eventFixed
	eventLastAffected
)

type rangeEvent struct {
	version string
	kind    int
}

// inEventSpans walks the events in version order. Each introduced event opens a span that the
// next fixed (exclusive) or last_affected (inclusive) event closes; a range without any
// introduced event starts at "0". Events whose version cannot be compared are ignored.
func inEventSpans(version string, events []models.Event, cmp func(a, b string) (int, bool)) bool {
	var walk []rangeEvent
	introduced := false

	for _, event := range events {
		var ev rangeEvent
		switch {
		case event.Introduced != "":
			ev = rangeEvent{version: event.Introduced, kind: eventIntroduced}
			introduced = true
		case event.Fixed != "":
			ev = rangeEvent{version: event.Fixed, kind: eventFixed}
		case event.LastAffected != "":
			ev = rangeEvent{version: event.LastAffected, kind: eventLastAffected}
		default:
			continue
		}
		if _, ok := cmp(version, ev.version); ok {
			walk = append(walk, ev)
		}
	}
	if len(walk) == 0 {
		return false
	}
	if !introduced {
		walk = append([]rangeEvent{{version: "0", kind: eventIntroduced}}, walk...)
	}

	sort.SliceStable(walk, func(i, j int) bool {
		c, _ := cmp(walk[i].version, walk[j].version)
		return c < 0
	})

	affected := false
	for _, ev := range walk {
		c, _ := cmp(version, ev.version)
		switch ev.kind {
		case eventIntroduced:
			if c >= 0 {
				affected = true
			}
		case eventFixed:
			if c >= 0 {
				affected = false
			}
		case eventLastAffected:
			if c > 0 {
				affected = false
			}
		}
	}
	return affected
}

func compareSemver(a, b string) (int, bool) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return 0, false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return 0, false
	}
	return va.Compare(vb), true
}

// compareStrings orders non-semver versions lexically, with "0" below everything
func compareStrings(a, b string) (int, bool) {
	switch {
	case a == b:
		return 0, true
	case a == "0":
		return -1, true
	case b == "0":
		return 1, true
	}
	return strings.Compare(a, b), true
}

// SortVersionsDescending orders versions newest first. Versions that are not semver sort
// after the semver ones, in reverse lexical order.
func SortVersionsDescending(versions []string) []string {
	var parsed semver.Collection
	var other []string
	byVersion := make(map[*semver.Version]string)

	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			other = append(other, raw)
			continue
		}
		parsed = append(parsed, v)
		byVersion[v] = raw
	}

	sort.Sort(parsed)

	sorted := make([]string, 0, len(versions))
	for i := len(parsed) - 1; i >= 0; i-- {
		sorted = append(sorted, byVersion[parsed[i]])
	}

	sort.Sort(sort.Reverse(sort.StringSlice(other)))
	return append(sorted, other...)
}
