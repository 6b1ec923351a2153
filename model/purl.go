// Package model - Purl, Range and vulnerability types shared by the parsers, cache and aggregator.
package model

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
)

// UnresolvedVersion is the synthetic version given to declarations that carry no concrete
// version (workspace inheritance, property references, omitted versions)
const UnresolvedVersion = "0"

const purlScheme = "pkg:"

// Purl is the canonical identity of a package. The zero value of Namespace and Qualifier
// means the field is absent. Purl is comparable and is used directly as a map key; it
// encodes to JSON as its canonical string.
type Purl struct {
	Ecosystem string
	Namespace string
	Name      string
	Version   string
	Qualifier string
}

// NewPurl creates a Purl with a normalized version
func NewPurl(ecosystem, namespace, name, version, qualifier string) Purl {
	return Purl{
		Ecosystem: strings.ToLower(ecosystem),
		Namespace: namespace,
		Name:      name,
		Version:   NormalizeVersion(version),
		Qualifier: qualifier,
	}
}

// NormalizeVersion strips range comparators and whitespace so declared requirements
// compare against resolved versions
func NormalizeVersion(version string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '=', '>', '<', '~', ' ':
			return -1
		}
		return r
	}, version)
}

// String renders the canonical form pkg:<eco>/[<ns>/]<name>@<version>[?type=<q>]
func (p Purl) String() string {
	var qualifiers packageurl.Qualifiers
	if p.Qualifier != "" {
		qualifiers = packageurl.QualifiersFromMap(map[string]string{"type": p.Qualifier})
	}

	purl := packageurl.NewPackageURL(p.Ecosystem, p.Namespace, p.Name, p.Version, qualifiers, "")
	return purl.ToString()
}

// Resolved reports whether the version is concrete
func (p Purl) Resolved() bool {
	return p.Version != "" && p.Version != UnresolvedVersion
}

// Unversioned returns the package identity without version and qualifier
func (p Purl) Unversioned() Purl {
	return Purl{Ecosystem: p.Ecosystem, Namespace: p.Namespace, Name: p.Name}
}

// WithVersion returns a copy of the purl pinned to version
func (p Purl) WithVersion(version string) Purl {
	p.Version = NormalizeVersion(version)
	return p
}

// MarshalText encodes the purl in canonical form
func (p Purl) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a canonical purl
func (p *Purl) UnmarshalText(text []byte) error {
	parsed, err := ParsePurl(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PurlDecodeError reports a malformed canonical purl
type PurlDecodeError struct {
	Input  string
	Reason string
	Err    error
}

func (e *PurlDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid purl %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid purl %q: %s", e.Input, e.Reason)
}

func (e *PurlDecodeError) Unwrap() error {
	return e.Err
}

// ParsePurl decodes the canonical textual form. The path must hold 2 or 3 segments
// (type/name or type/namespace/name) and a version is required.
func ParsePurl(s string) (Purl, error) {
	if !strings.HasPrefix(s, purlScheme) {
		return Purl{}, &PurlDecodeError{Input: s, Reason: "missing pkg: prefix"}
	}

	path := strings.TrimPrefix(s, purlScheme)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")

	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments) > 3 {
		return Purl{}, &PurlDecodeError{Input: s, Reason: fmt.Sprintf("expected 2 or 3 path segments, got %d", len(segments))}
	}
	if !strings.Contains(segments[len(segments)-1], "@") {
		return Purl{}, &PurlDecodeError{Input: s, Reason: "missing version"}
	}

	parsed, err := packageurl.FromString(s)
	if err != nil {
		return Purl{}, &PurlDecodeError{Input: s, Reason: "malformed package url", Err: err}
	}
	if parsed.Version == "" {
		return Purl{}, &PurlDecodeError{Input: s, Reason: "missing version"}
	}

	return NewPurl(parsed.Type, parsed.Namespace, parsed.Name, parsed.Version, parsed.Qualifiers.Map()["type"]), nil
}
