package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ortelius/vulnlsp/metrics"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/util"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// CargoEcosystem is the purl type of crates
const CargoEcosystem = "cargo"

// DefaultCargoCommand emits the resolved dependency graph as JSON
var DefaultCargoCommand = []string{"cargo", "metadata", "--format-version", "1"}

var (
	tomlHeader     = regexp.MustCompile(`^\s*\[\[?\s*([^\]]+?)\s*\]\]?\s*(#.*)?$`)
	tomlKey        = regexp.MustCompile(`^\s*([A-Za-z0-9_\-]+|"[^"]+")(?:\s*\.\s*(?:[A-Za-z0-9_\-]+|"[^"]+"))*\s*=`)
	cargoTableDeps = regexp.MustCompile(`^(?:target\..+\.|workspace\.)?(?:dev-|build-)?dependencies\.(.+)$`)
	cargoDeps      = regexp.MustCompile(`^(?:target\..+\.|workspace\.)?(?:dev-|build-)?dependencies$`)
)

// CargoParser handles Cargo.toml manifests and resolves them with cargo metadata
type CargoParser struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	run     util.CommandRunner
	command []string
}

// NewCargoParser creates a Cargo parser. A nil runner runs the real build tool.
func NewCargoParser(logger *zap.Logger, m *metrics.Metrics, run util.CommandRunner, command []string) *CargoParser {
	if run == nil {
		run = util.RunCommand
	}
	if len(command) == 0 {
		command = DefaultCargoCommand
	}
	return &CargoParser{logger: logger, metrics: m, run: run, command: command}
}

// Name identifies the parser in logs and metrics
func (p *CargoParser) Name() string {
	return CargoEcosystem
}

// CanHandle matches Cargo.toml documents
func (p *CargoParser) CanHandle(uri string) bool {
	return strings.HasSuffix(uri, "Cargo.toml")
}

// Parse locates every dependency declaration of a Cargo.toml
func (p *CargoParser) Parse(text string) (model.MetadataDependencies, error) {
	if util.IsEmpty(text) {
		return nil, &ManifestParseError{Manifest: "Cargo.toml", Reason: "empty document"}
	}

	anchored := false
	for _, line := range splitLines(text) {
		if tomlHeader.MatchString(line) {
			anchored = true
			break
		}
	}
	if !anchored {
		return nil, &ManifestParseError{Manifest: "Cargo.toml", Reason: "no TOML table found"}
	}

	deps := make(model.MetadataDependencies)
	for _, b := range scanBlocks(text, &cargoMatcher{}) {
		purl, err := decodeCargoBlock(b)
		if err != nil {
			p.logger.Warn("Skipping Cargo dependency", zap.Stringer("range", b.rng), zap.Error(err))
			continue
		}
		deps[purl] = b.rng
	}

	return deps, nil
}

// Build runs cargo metadata in dir and computes the closure of every direct dependency
func (p *CargoParser) Build(ctx context.Context, dir string) (model.BuildDependencies, error) {
	start := time.Now()
	output, err := p.run(ctx, dir, p.command[0], p.command[1:]...)
	p.metrics.BuildTool(CargoEcosystem, err, time.Since(start))
	if err != nil {
		return nil, &BuildDependencyError{Tool: p.command[0], Err: err}
	}

	deps, err := parseCargoMetadata(output)
	if err != nil {
		return nil, &BuildDependencyError{Tool: p.command[0], Err: err}
	}
	return deps, nil
}

// cargoMatcher tracks the current TOML table, the crate of the open declaration and the
// bracket depth of an open inline value
type cargoMatcher struct {
	inDeps bool
	table  bool
	crate  string
	depth  int
}

// keyCrate returns the crate a key line declares: the first segment of a dotted key
func keyCrate(line string) (string, int, bool) {
	loc := tomlKey.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", 0, false
	}
	return strings.Trim(line[loc[2]:loc[3]], `"`), loc[2], true
}

func (m *cargoMatcher) start(lines []string, row int) (int, bool) {
	line := lines[row]

	if header := tomlHeader.FindStringSubmatch(line); header != nil {
		name := strings.ReplaceAll(header[1], " ", "")
		m.inDeps = cargoDeps.MatchString(name)
		m.table = cargoTableDeps.MatchString(name)
		if m.table {
			return strings.Index(line, "["), true
		}
		return 0, false
	}

	if !m.inDeps {
		return 0, false
	}

	crate, col, ok := keyCrate(line)
	if !ok {
		return 0, false
	}
	m.crate = crate
	m.depth = 0
	return col, true
}

func (m *cargoMatcher) end(lines []string, open model.Position, row int) (int, bool) {
	line := lines[row]

	if m.table {
		next := row + 1
		for next < len(lines) && isBlankOrComment(lines[next]) {
			next++
		}
		if next == len(lines) || tomlHeader.MatchString(lines[next]) {
			m.table = false
			return lineEnd(line), true
		}
		return 0, false
	}

	from := 0
	if uint32(row) == open.Row {
		from = int(open.Col)
	}
	m.depth += bracketDelta(line[from:])
	if m.depth > 0 {
		return 0, false
	}

	// consecutive dotted keys of the same crate (serde.version, serde.features) form one declaration
	next := row + 1
	for next < len(lines) && isBlankOrComment(lines[next]) {
		next++
	}
	if next < len(lines) {
		if crate, _, ok := keyCrate(lines[next]); ok && crate == m.crate && strings.Contains(keyPart(lines[next]), ".") {
			m.depth = 0
			return 0, false
		}
	}
	return lineEnd(line), true
}

// keyPart is the text before the first '=' of a key line
func keyPart(line string) string {
	if i := strings.Index(line, "="); i >= 0 {
		return line[:i]
	}
	return line
}

func isBlankOrComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// bracketDelta counts opening minus closing braces and brackets outside of strings and comments
func bracketDelta(s string) int {
	delta := 0
	var quote rune
	escaped := false

	for _, r := range s {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\' && quote == '"':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}

		switch r {
		case '"', '\'':
			quote = r
		case '{', '[':
			delta++
		case '}', ']':
			delta--
		case '#':
			return delta
		}
	}
	return delta
}

func decodeCargoBlock(b block) (model.Purl, error) {
	first := strings.TrimSpace(b.lines[0])

	if header := tomlHeader.FindStringSubmatch(first); header != nil {
		match := cargoTableDeps.FindStringSubmatch(strings.ReplaceAll(header[1], " ", ""))
		if match == nil {
			return model.Purl{}, fmt.Errorf("unexpected table %q", header[1])
		}

		var spec map[string]any
		if err := toml.Unmarshal([]byte(strings.Join(b.lines[1:], "\n")), &spec); err != nil {
			return model.Purl{}, fmt.Errorf("decode table %q: %w", match[1], err)
		}
		return cargoPurl(strings.Trim(match[1], `"`), spec)
	}

	var entry map[string]any
	if err := toml.Unmarshal([]byte(b.text), &entry); err != nil {
		// inline tables spread over several lines are not valid TOML 1.0; retry on one line
		joined := make([]string, 0, len(b.lines))
		for _, line := range strings.Split(b.text, "\n") {
			joined = append(joined, stripComment(line))
		}
		entry = nil
		if err := toml.Unmarshal([]byte(strings.Join(joined, " ")), &entry); err != nil {
			return model.Purl{}, fmt.Errorf("decode dependency: %w", err)
		}
	}

	if len(entry) != 1 {
		return model.Purl{}, fmt.Errorf("expected one dependency, found %d keys", len(entry))
	}
	for name, value := range entry {
		return cargoPurl(name, value)
	}
	return model.Purl{}, fmt.Errorf("empty dependency block")
}

func stripComment(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
		case quote == 0 && r == '#':
			return line[:i]
		}
	}
	return line
}

// cargoPurl builds the purl of a dependency from its TOML value: a version string or a
// table with version, package, workspace, git or path keys
func cargoPurl(name string, value any) (model.Purl, error) {
	version := model.UnresolvedVersion

	switch spec := value.(type) {
	case string:
		version = spec
	case map[string]any:
		if pkg, ok := spec["package"].(string); ok && pkg != "" {
			name = pkg
		}
		if v, ok := spec["version"].(string); ok && v != "" {
			version = v
		}
	default:
		return model.Purl{}, fmt.Errorf("unsupported value %T for %s", value, name)
	}

	version = strings.TrimPrefix(strings.TrimSpace(version), "^")
	if version == "" || version == "*" {
		version = model.UnresolvedVersion
	}

	return model.NewPurl(CargoEcosystem, "", name, version, ""), nil
}
