package model

import (
	"fmt"
	"sort"
)

// MetadataDependencies maps each declared dependency to the range of its declaration
type MetadataDependencies map[Purl]Range

// BuildDependencies maps each direct dependency to its transitive closure. The closure
// always starts with the direct dependency itself.
type BuildDependencies map[Purl][]Purl

// Resolution records how the transitive closures of a ParseContent were produced
type Resolution int

// Resolution modes
const (
	// ResolutionTransitive means the build tool ran and its graph was used
	ResolutionTransitive Resolution = iota
	// ResolutionDirectOnly means the build step was skipped by configuration
	ResolutionDirectOnly
	// ResolutionFallback means the build tool failed and closures were reduced to direct dependencies
	ResolutionFallback
)

func (r Resolution) String() string {
	switch r {
	case ResolutionTransitive:
		return "transitive"
	case ResolutionDirectOnly:
		return "direct-only"
	case ResolutionFallback:
		return "fallback"
	}
	return "unknown"
}

// MarshalText encodes the resolution name
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a resolution name
func (r *Resolution) UnmarshalText(text []byte) error {
	switch string(text) {
	case "transitive":
		*r = ResolutionTransitive
	case "direct-only":
		*r = ResolutionDirectOnly
	case "fallback":
		*r = ResolutionFallback
	default:
		return fmt.Errorf("unknown resolution %q", text)
	}
	return nil
}

// ParseContent is the result of parsing one manifest document
type ParseContent struct {
	Ranges      MetadataDependencies `json:"ranges"`
	Transitives BuildDependencies    `json:"transitives"`
	Resolution  Resolution           `json:"resolution"`
}

// TransitivesResolved reports whether the closures come from the build tool
func (c ParseContent) TransitivesResolved() bool {
	return c.Resolution == ResolutionTransitive
}

// Closure returns the transitive closure of a direct dependency, falling back to the
// dependency alone
func (c ParseContent) Closure(direct Purl) []Purl {
	if closure, ok := c.Transitives[direct]; ok && len(closure) > 0 {
		return closure
	}
	return []Purl{direct}
}

// AllPurls returns every distinct purl of every closure, sorted by canonical form
func (c ParseContent) AllPurls() []Purl {
	seen := make(map[Purl]bool)
	var all []Purl

	add := func(p Purl) {
		if !seen[p] {
			seen[p] = true
			all = append(all, p)
		}
	}

	for direct := range c.Ranges {
		for _, p := range c.Closure(direct) {
			add(p)
		}
	}
	for _, closure := range c.Transitives {
		for _, p := range closure {
			add(p)
		}
	}

	SortPurls(all)
	return all
}

// DirectClosures builds closures that contain only the dependency itself
func DirectClosures(ranges MetadataDependencies) BuildDependencies {
	deps := make(BuildDependencies, len(ranges))
	for p := range ranges {
		deps[p] = []Purl{p}
	}
	return deps
}

// SortPurls sorts purls by canonical form
func SortPurls(purls []Purl) {
	sort.Slice(purls, func(i, j int) bool {
		return purls[i].String() < purls[j].String()
	})
}
