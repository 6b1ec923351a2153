package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/ortelius/vulnlsp/metrics"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/util"
	"go.uber.org/zap"
)

// MavenEcosystem is the purl type of Maven artifacts
const MavenEcosystem = "maven"

// DefaultMavenCommand prints the resolved dependency tree as a dot digraph
var DefaultMavenCommand = []string{"mvn", "dependency:tree", "-DoutputType=dot"}

const (
	dependencyOpen   = "<dependency>"
	dependencyClose  = "</dependency>"
	defaultMavenType = "jar"
)

// MavenParser handles pom.xml manifests and resolves them with the dependency plugin
type MavenParser struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	run     util.CommandRunner
	command []string
}

// NewMavenParser creates a Maven parser. A nil runner runs the real build tool.
func NewMavenParser(logger *zap.Logger, m *metrics.Metrics, run util.CommandRunner, command []string) *MavenParser {
	if run == nil {
		run = util.RunCommand
	}
	if len(command) == 0 {
		command = DefaultMavenCommand
	}
	return &MavenParser{logger: logger, metrics: m, run: run, command: command}
}

// Name identifies the parser in logs and metrics
func (p *MavenParser) Name() string {
	return MavenEcosystem
}

// CanHandle matches pom.xml documents
func (p *MavenParser) CanHandle(uri string) bool {
	return strings.HasSuffix(uri, "pom.xml")
}

// mavenDependency is a single <dependency> element
type mavenDependency struct {
	XMLName    xml.Name `xml:"dependency"`
	GroupID    string   `xml:"groupId"`
	ArtifactID string   `xml:"artifactId"`
	Version    string   `xml:"version"`
	Type       string   `xml:"type"`
	Scope      string   `xml:"scope"`
}

func (d mavenDependency) purl() model.Purl {
	version := strings.TrimSpace(d.Version)
	if version == "" || strings.Contains(version, "${") {
		version = model.UnresolvedVersion
	}

	qualifier := strings.TrimSpace(d.Type)
	if qualifier == "" {
		qualifier = defaultMavenType
	}

	return model.NewPurl(MavenEcosystem, strings.TrimSpace(d.GroupID), strings.TrimSpace(d.ArtifactID), version, qualifier)
}

// Parse locates every <dependency> element of a pom.xml
func (p *MavenParser) Parse(text string) (model.MetadataDependencies, error) {
	if util.IsEmpty(text) {
		return nil, &ManifestParseError{Manifest: "pom.xml", Reason: "empty document"}
	}
	if !strings.Contains(text, "<project") {
		return nil, &ManifestParseError{Manifest: "pom.xml", Reason: "no <project> element found"}
	}

	deps := make(model.MetadataDependencies)
	for _, b := range scanBlocks(text, mavenMatcher{}) {
		var dep mavenDependency
		if err := xml.Unmarshal([]byte(b.text), &dep); err != nil {
			p.logger.Warn("Skipping Maven dependency", zap.Stringer("range", b.rng), zap.Error(err))
			continue
		}
		if dep.GroupID == "" || dep.ArtifactID == "" {
			p.logger.Warn("Skipping Maven dependency without coordinates", zap.Stringer("range", b.rng))
			continue
		}
		deps[dep.purl()] = b.rng
	}

	return deps, nil
}

// Build runs the dependency plugin in dir and computes the closure of every direct dependency
func (p *MavenParser) Build(ctx context.Context, dir string) (model.BuildDependencies, error) {
	start := time.Now()
	output, err := p.run(ctx, dir, p.command[0], p.command[1:]...)
	p.metrics.BuildTool(MavenEcosystem, err, time.Since(start))
	if err != nil {
		return nil, &BuildDependencyError{Tool: p.command[0], Err: err}
	}

	deps, err := parseMavenTree(string(output))
	if err != nil {
		return nil, &BuildDependencyError{Tool: p.command[0], Err: err}
	}
	return deps, nil
}

type mavenMatcher struct{}

func (mavenMatcher) start(lines []string, row int) (int, bool) {
	col := strings.Index(lines[row], dependencyOpen)
	return col, col >= 0
}

func (mavenMatcher) end(lines []string, open model.Position, row int) (int, bool) {
	line := lines[row]

	from := 0
	if uint32(row) == open.Row {
		from = int(open.Col) + len(dependencyOpen)
	}

	col := strings.Index(line[from:], dependencyClose)
	if col < 0 {
		return 0, false
	}
	return from + col + len(dependencyClose), true
}

// mavenCoordinate parses group:artifact:type[:classifier]:version[:scope]
func mavenCoordinate(coordinate string) (model.Purl, error) {
	tokens := strings.Split(strings.TrimSpace(coordinate), ":")

	var version string
	switch len(tokens) {
	case 4, 5:
		version = tokens[3]
	case 6:
		version = tokens[4]
	default:
		return model.Purl{}, fmt.Errorf("malformed maven coordinate %q", coordinate)
	}

	if tokens[0] == "" || tokens[1] == "" || version == "" {
		return model.Purl{}, fmt.Errorf("malformed maven coordinate %q", coordinate)
	}

	return model.NewPurl(MavenEcosystem, tokens[0], tokens[1], version, tokens[2]), nil
}
