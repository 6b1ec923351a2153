// Package security reduces the vulnerabilities of each direct dependency's transitive closure
// to the single most severe finding anchored at the dependency's declaration.
package security

import (
	"sort"

	"github.com/ortelius/vulnlsp/model"
)

// Lookup is the read side of the vulnerability cache
type Lookup interface {
	GetMany(keys []model.Purl) map[model.Purl]model.VulnerabilityVersionInfo
}

// Finding is the most severe vulnerability reachable from one direct dependency
type Finding struct {
	Range         model.Range                    `json:"range"`
	Direct        model.Purl                     `json:"direct"`
	Source        model.Purl                     `json:"source"`
	Vulnerability model.VulnerabilityInformation `json:"vulnerability"`
	// Total counts every vulnerability found across the closure
	Total int `json:"total"`
}

// Transitive reports whether the finding comes from a dependency of the declared package
func (f Finding) Transitive() bool {
	return f.Source != f.Direct
}

// Aggregate returns one finding per direct dependency whose closure has cached vulnerabilities,
// ordered by range. Within a closure the highest severity wins and ties go to the entry seen
// last, walking the closure in order. Closure members missing from the cache are skipped.
func Aggregate(parsed model.ParseContent, cache Lookup) []Finding {
	findings := make([]Finding, 0, len(parsed.Ranges))

	for direct, rng := range parsed.Ranges {
		closure := parsed.Closure(direct)
		infos := cache.GetMany(closure)

		var best Finding
		found := false

		for _, p := range closure {
			info, ok := infos[p]
			if !ok {
				continue
			}
			for _, v := range info.Vulnerabilities {
				best.Total++
				if !found || v.Severity >= best.Vulnerability.Severity {
					best.Vulnerability = v
					best.Source = p
					found = true
				}
			}
		}

		if !found {
			continue
		}
		best.Range = rng
		best.Direct = direct
		findings = append(findings, best)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Range == findings[j].Range {
			return findings[i].Direct.String() < findings[j].Direct.String()
		}
		return findings[i].Range.Before(findings[j].Range)
	})
	return findings
}

// Worst returns the highest severity among findings
func Worst(findings []Finding) model.Severity {
	worst := model.SeverityNone
	for _, f := range findings {
		if f.Vulnerability.Severity > worst {
			worst = f.Vulnerability.Severity
		}
	}
	return worst
}
