// Package graphql provides the GraphQL schema definition and resolvers over the document engine
package graphql

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/vulnlsp/engine"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/security"
)

var eng *engine.Engine

// InitEngine sets the engine used by all resolvers.
func InitEngine(e *engine.Engine) {
	eng = e
}

// SeverityType defines the GraphQL enum for vulnerability severity levels
var SeverityType = graphql.NewEnum(graphql.EnumConfig{
	Name: "Severity",
	Values: graphql.EnumValueConfigMap{
		"CRITICAL": &graphql.EnumValueConfig{Value: "critical"},
		"HIGH":     &graphql.EnumValueConfig{Value: "high"},
		"MEDIUM":   &graphql.EnumValueConfig{Value: "medium"},
		"LOW":      &graphql.EnumValueConfig{Value: "low"},
		"NONE":     &graphql.EnumValueConfig{Value: "none"},
	},
})

// RangeType defines the GraphQL object for the span of a dependency declaration
var RangeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Range",
	Fields: graphql.Fields{
		"start_row": &graphql.Field{Type: graphql.Int},
		"start_col": &graphql.Field{Type: graphql.Int},
		"end_row":   &graphql.Field{Type: graphql.Int},
		"end_col":   &graphql.Field{Type: graphql.Int},
	},
})

// VulnerabilityType defines the GraphQL object for a single backend finding
var VulnerabilityType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Vulnerability",
	Fields: graphql.Fields{
		"id":        &graphql.Field{Type: graphql.String},
		"severity":  &graphql.Field{Type: SeverityType},
		"summary":   &graphql.Field{Type: graphql.String},
		"detail":    &graphql.Field{Type: graphql.String},
		"reference": &graphql.Field{Type: graphql.String},
		"licenses":  &graphql.Field{Type: graphql.NewList(graphql.String)},
	},
})

// PackageType defines the GraphQL object for the cached vulnerabilities of one package version
var PackageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Package",
	Fields: graphql.Fields{
		"purl":            &graphql.Field{Type: graphql.String},
		"ecosystem":       &graphql.Field{Type: graphql.String},
		"namespace":       &graphql.Field{Type: graphql.String},
		"name":            &graphql.Field{Type: graphql.String},
		"version":         &graphql.Field{Type: graphql.String},
		"max_severity":    &graphql.Field{Type: SeverityType},
		"vulnerabilities": &graphql.Field{Type: graphql.NewList(VulnerabilityType)},
	},
})

// FindingType defines the GraphQL object for the worst vulnerability reachable from a direct dependency
var FindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Finding",
	Fields: graphql.Fields{
		"uri":           &graphql.Field{Type: graphql.String},
		"range":         &graphql.Field{Type: RangeType},
		"direct":        &graphql.Field{Type: graphql.String},
		"source":        &graphql.Field{Type: graphql.String},
		"transitive":    &graphql.Field{Type: graphql.Boolean},
		"total":         &graphql.Field{Type: graphql.Int},
		"vulnerability": &graphql.Field{Type: VulnerabilityType},
	},
})

// DependencyType defines the GraphQL object for a declared dependency and its closure
var DependencyType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Dependency",
	Fields: graphql.Fields{
		"purl":    &graphql.Field{Type: graphql.String},
		"range":   &graphql.Field{Type: RangeType},
		"closure": &graphql.Field{Type: graphql.NewList(graphql.String)},
	},
})

// DocumentType defines the GraphQL object for an analysed manifest
var DocumentType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Document",
	Fields: graphql.Fields{
		"uri":          &graphql.Field{Type: graphql.String},
		"resolution":   &graphql.Field{Type: graphql.String},
		"dependencies": &graphql.Field{Type: graphql.NewList(DependencyType)},
		"findings":     &graphql.Field{Type: graphql.NewList(FindingType)},
	},
})

func severityValue(s model.Severity) string {
	return strings.ToLower(s.String())
}

func rangeMap(r model.Range) map[string]interface{} {
	return map[string]interface{}{
		"start_row": int(r.Start.Row),
		"start_col": int(r.Start.Col),
		"end_row":   int(r.End.Row),
		"end_col":   int(r.End.Col),
	}
}

func vulnerabilityMap(v model.VulnerabilityInformation) map[string]interface{} {
	licenses := make([]string, 0, len(v.Licenses))
	for _, l := range v.Licenses {
		if l.ID != "" {
			licenses = append(licenses, l.ID)
		} else {
			licenses = append(licenses, l.Name)
		}
	}
	return map[string]interface{}{
		"id":        v.ID,
		"severity":  severityValue(v.Severity),
		"summary":   v.Summary,
		"detail":    v.Detail,
		"reference": v.Reference,
		"licenses":  licenses,
	}
}

func findingMap(uri string, f security.Finding) map[string]interface{} {
	return map[string]interface{}{
		"uri":           uri,
		"range":         rangeMap(f.Range),
		"direct":        f.Direct.String(),
		"source":        f.Source.String(),
		"transitive":    f.Transitive(),
		"total":         f.Total,
		"vulnerability": vulnerabilityMap(f.Vulnerability),
	}
}

func resolveDocument(uri string) (map[string]interface{}, error) {
	parsed, ok := eng.Parsed(uri)
	if !ok {
		return nil, nil
	}

	directs := make([]model.Purl, 0, len(parsed.Ranges))
	for p := range parsed.Ranges {
		directs = append(directs, p)
	}
	model.SortPurls(directs)

	dependencies := make([]map[string]interface{}, 0, len(directs))
	for _, p := range directs {
		closure := make([]string, 0)
		for _, c := range parsed.Closure(p) {
			closure = append(closure, c.String())
		}
		dependencies = append(dependencies, map[string]interface{}{
			"purl":    p.String(),
			"range":   rangeMap(parsed.Ranges[p]),
			"closure": closure,
		})
	}

	findings, _ := eng.Findings(uri)
	found := make([]map[string]interface{}, 0, len(findings))
	for _, f := range findings {
		found = append(found, findingMap(uri, f))
	}

	return map[string]interface{}{
		"uri":          uri,
		"resolution":   parsed.Resolution.String(),
		"dependencies": dependencies,
		"findings":     found,
	}, nil
}

// resolveFindings lists the findings of every document at or above the severity
func resolveFindings(severity string, limit int) ([]map[string]interface{}, error) {
	minimum, err := model.ParseSeverity(severity)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0)
	for _, uri := range eng.Documents() {
		findings, _ := eng.Findings(uri)
		for _, f := range findings {
			if f.Vulnerability.Severity < minimum {
				continue
			}
			results = append(results, findingMap(uri, f))
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

func resolvePackage(ctx context.Context, purl string) (map[string]interface{}, error) {
	p, err := model.ParsePurl(purl)
	if err != nil {
		return nil, err
	}

	info, err := eng.Package(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", purl, err)
	}

	vulnerabilities := make([]map[string]interface{}, 0, len(info.Vulnerabilities))
	for _, v := range info.Vulnerabilities {
		vulnerabilities = append(vulnerabilities, vulnerabilityMap(v))
	}
	maxSeverity := model.SeverityNone
	if worst, ok := model.Highest(info.Vulnerabilities); ok {
		maxSeverity = worst.Severity
	}

	return map[string]interface{}{
		"purl":            p.String(),
		"ecosystem":       p.Ecosystem,
		"namespace":       p.Namespace,
		"name":            p.Name,
		"version":         p.Version,
		"max_severity":    severityValue(maxSeverity),
		"vulnerabilities": vulnerabilities,
	}, nil
}

// CreateSchema generates and returns the configured GraphQL schema for the API.
func CreateSchema() (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"documents": &graphql.Field{
				Type: graphql.NewList(DocumentType),
				Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
					documents := make([]map[string]interface{}, 0)
					for _, uri := range eng.Documents() {
						doc, err := resolveDocument(uri)
						if err != nil {
							return nil, err
						}
						if doc != nil {
							documents = append(documents, doc)
						}
					}
					return documents, nil
				},
			},
			"document": &graphql.Field{
				Type: DocumentType,
				Args: graphql.FieldConfigArgument{
					"uri": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					uri := p.Args["uri"].(string)
					return resolveDocument(uri)
				},
			},
			"findings": &graphql.Field{
				Type: graphql.NewList(FindingType),
				Args: graphql.FieldConfigArgument{
					"severity": &graphql.ArgumentConfig{Type: SeverityType, DefaultValue: "low"},
					"limit":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 1000},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					severity := p.Args["severity"].(string)
					limit := p.Args["limit"].(int)
					return resolveFindings(severity, limit)
				},
			},
			"package": &graphql.Field{
				Type: PackageType,
				Args: graphql.FieldConfigArgument{
					"purl": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					purl := p.Args["purl"].(string)
					ctx := p.Context
					if ctx == nil {
						ctx = context.Background()
					}
					return resolvePackage(ctx, purl)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}
