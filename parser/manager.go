package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ortelius/vulnlsp/metrics"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/util"
	"go.uber.org/zap"
)

// Parser pairs a manifest parser with the build graph builder of the same ecosystem
type Parser interface {
	Name() string
	CanHandle(uri string) bool
	Parse(text string) (model.MetadataDependencies, error)
	Build(ctx context.Context, dir string) (model.BuildDependencies, error)
}

// Options controls how the build step is used
type Options struct {
	// DirectOnly skips the build tool; every closure is the dependency itself
	DirectOnly bool
	// FallbackOnBuildError turns a failed build into a direct-only result instead of an error
	FallbackOnBuildError bool
}

// Manager dispatches documents to the first registered parser that handles them
type Manager struct {
	parsers []Parser
	options Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a manager over parsers, which are tried in order
func NewManager(logger *zap.Logger, m *metrics.Metrics, options Options, parsers ...Parser) *Manager {
	return &Manager{parsers: parsers, options: options, logger: logger, metrics: m}
}

// NewDefaultManager registers the Cargo and Maven parsers
func NewDefaultManager(logger *zap.Logger, m *metrics.Metrics, options Options, run util.CommandRunner, cargoCommand, mavenCommand []string) *Manager {
	return NewManager(logger, m, options,
		NewCargoParser(logger, m, run, cargoCommand),
		NewMavenParser(logger, m, run, mavenCommand),
	)
}

// CanHandle reports whether any parser handles the document
func (m *Manager) CanHandle(uri string) bool {
	_, ok := m.find(uri)
	return ok
}

func (m *Manager) find(uri string) (Parser, bool) {
	for _, p := range m.parsers {
		if p.CanHandle(uri) {
			return p, true
		}
	}
	return nil, false
}

// Parse produces the ranges and transitive closures of a document
func (m *Manager) Parse(ctx context.Context, uri string, text string) (model.ParseContent, error) {
	p, ok := m.find(uri)
	if !ok {
		return model.ParseContent{}, fmt.Errorf("%s: %w", uri, ErrNoParserFound)
	}

	ranges, err := p.Parse(text)
	if err != nil {
		m.metrics.Parse(p.Name(), "error")
		return model.ParseContent{}, err
	}

	if m.options.DirectOnly {
		m.metrics.Parse(p.Name(), model.ResolutionDirectOnly.String())
		return model.ParseContent{
			Ranges:      ranges,
			Transitives: model.DirectClosures(ranges),
			Resolution:  model.ResolutionDirectOnly,
		}, nil
	}

	transitives, err := p.Build(ctx, util.DocumentDir(uri))
	if err != nil {
		var buildErr *BuildDependencyError
		if m.options.FallbackOnBuildError && errors.As(err, &buildErr) {
			m.logger.Warn("Build tool failed, falling back to direct dependencies",
				zap.String("uri", uri), zap.Error(err))
			m.metrics.Parse(p.Name(), model.ResolutionFallback.String())
			return model.ParseContent{
				Ranges:      ranges,
				Transitives: model.DirectClosures(ranges),
				Resolution:  model.ResolutionFallback,
			}, nil
		}
		m.metrics.Parse(p.Name(), "error")
		return model.ParseContent{}, err
	}

	m.metrics.Parse(p.Name(), model.ResolutionTransitive.String())
	return model.ParseContent{
		Ranges:      reconcile(ranges, transitives),
		Transitives: transitives,
		Resolution:  model.ResolutionTransitive,
	}, nil
}

// reconcile re-keys declared dependencies onto the versions the build tool resolved.
// Declarations are matched by ecosystem, namespace and name; a declaration the build graph
// does not know keeps its declared purl.
func reconcile(ranges model.MetadataDependencies, transitives model.BuildDependencies) model.MetadataDependencies {
	byPackage := make(map[model.Purl][]model.Purl)
	for resolved := range transitives {
		key := resolved.Unversioned()
		byPackage[key] = append(byPackage[key], resolved)
	}

	reconciled := make(model.MetadataDependencies, len(ranges))
	for declared, rng := range ranges {
		if _, ok := transitives[declared]; ok {
			reconciled[declared] = rng
			continue
		}

		candidates := byPackage[declared.Unversioned()]
		if len(candidates) == 0 {
			reconciled[declared] = rng
			continue
		}
		reconciled[pickResolved(declared, candidates)] = rng
	}
	return reconciled
}

func pickResolved(declared model.Purl, candidates []model.Purl) model.Purl {
	model.SortPurls(candidates)

	if declared.Resolved() {
		for _, c := range candidates {
			if c.Version == declared.Version {
				return c
			}
		}
		for _, c := range candidates {
			if strings.HasPrefix(c.Version, declared.Version) {
				return c
			}
		}
	}
	return candidates[0]
}
