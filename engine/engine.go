// Package engine runs the per-document pipeline: parse, find the purls missing from the
// vulnerability cache, refill them, then aggregate findings. It keeps the latest successful
// result of every open document.
package engine

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ortelius/vulnlsp/cache"
	"github.com/ortelius/vulnlsp/metrics"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/security"
	"github.com/ortelius/vulnlsp/store"
	"go.uber.org/zap"
)

// DocumentParser turns a manifest into ranges and closures
type DocumentParser interface {
	CanHandle(uri string) bool
	Parse(ctx context.Context, uri string, text string) (model.ParseContent, error)
}

// VersionLister lists the published versions of a package
type VersionLister interface {
	Versions(ctx context.Context, purl model.Purl) ([]model.Purl, error)
}

// DefaultVersionsCacheSize bounds the number of packages whose version lists are kept
const DefaultVersionsCacheSize = 256

// Engine owns the document stores
type Engine struct {
	parser   DocumentParser
	refiller *cache.Refiller
	versions VersionLister
	logger   *zap.Logger
	metrics  *metrics.Metrics

	documents *store.Map[string, string]
	parsed    *store.Map[string, model.ParseContent]
	findings  *store.Map[string, []security.Finding]

	versionsCache *lru.Cache[model.Purl, []model.Purl]
}

// New creates an engine. versionsCacheSize <= 0 uses DefaultVersionsCacheSize.
func New(parser DocumentParser, refiller *cache.Refiller, versions VersionLister, versionsCacheSize int, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	if versionsCacheSize <= 0 {
		versionsCacheSize = DefaultVersionsCacheSize
	}
	versionsCache, err := lru.New[model.Purl, []model.Purl](versionsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create versions cache: %w", err)
	}

	return &Engine{
		parser:        parser,
		refiller:      refiller,
		versions:      versions,
		logger:        logger,
		metrics:       m,
		documents:     store.NewMap[string, string](),
		parsed:        store.NewMap[string, model.ParseContent](),
		findings:      store.NewMap[string, []security.Finding](),
		versionsCache: versionsCache,
	}, nil
}

// CanHandle reports whether the document is a supported manifest
func (e *Engine) CanHandle(uri string) bool {
	return e.parser.CanHandle(uri)
}

// Update runs the pipeline over a new revision of a document. When parsing fails the previous
// parse result and findings are kept and returned with the error. When the refill fails the
// findings are aggregated from whatever is cached and returned together with the error.
func (e *Engine) Update(ctx context.Context, uri string, text string) ([]security.Finding, error) {
	start := time.Now()
	e.documents.Put(uri, text)

	content, err := e.parser.Parse(ctx, uri, text)
	if err != nil {
		e.logger.Warn("Failed to parse document, keeping previous results", zap.String("uri", uri), zap.Error(err))
		previous, _ := e.findings.Get(uri)
		return previous, fmt.Errorf("parse %s: %w", uri, err)
	}
	e.parsed.Put(uri, content)
	e.metrics.Documents(e.parsed.Len())

	refillErr := e.refiller.Refill(ctx, content.AllPurls())
	if refillErr != nil {
		refillErr = fmt.Errorf("refill %s: %w", uri, refillErr)
	}

	findings := security.Aggregate(content, e.refiller.Cache())
	e.findings.Put(uri, findings)
	for _, f := range findings {
		e.metrics.Finding(f.Vulnerability.Severity.String())
	}

	e.logger.Debug("Document analysed",
		zap.String("uri", uri),
		zap.Int("dependencies", len(content.Ranges)),
		zap.Stringer("resolution", content.Resolution),
		zap.Int("findings", len(findings)),
		zap.Duration("elapsed", time.Since(start)))

	return findings, refillErr
}

// Findings returns the findings of the latest successful run
func (e *Engine) Findings(uri string) ([]security.Finding, bool) {
	return e.findings.Get(uri)
}

// Parsed returns the latest successful parse result
func (e *Engine) Parsed(uri string) (model.ParseContent, bool) {
	return e.parsed.Get(uri)
}

// Text returns the latest text received for a document
func (e *Engine) Text(uri string) (string, bool) {
	return e.documents.Get(uri)
}

// Documents lists the tracked documents in order
func (e *Engine) Documents() []string {
	return e.documents.Keys(func(a, b string) bool { return a < b })
}

// Close forgets a document
func (e *Engine) Close(uri string) {
	e.documents.Delete(uri)
	e.parsed.Delete(uri)
	e.findings.Delete(uri)
	e.metrics.Documents(e.parsed.Len())
}

// DependencyAt returns the direct dependency declared on line, choosing the earliest range
// when several contain it
func (e *Engine) DependencyAt(uri string, line uint32) (model.Purl, model.Range, bool) {
	content, ok := e.parsed.Get(uri)
	if !ok {
		return model.Purl{}, model.Range{}, false
	}

	var best model.Purl
	var bestRange model.Range
	found := false
	for p, rng := range content.Ranges {
		if !rng.Contains(line) {
			continue
		}
		if !found || rng.Before(bestRange) || (rng == bestRange && p.String() < best.String()) {
			best, bestRange, found = p, rng, true
		}
	}
	return best, bestRange, found
}

// Package returns the vulnerabilities of one purl, fetching them on a cache miss
func (e *Engine) Package(ctx context.Context, purl model.Purl) (model.VulnerabilityVersionInfo, error) {
	if !purl.Resolved() {
		return model.VulnerabilityVersionInfo{}, fmt.Errorf("%s has no resolved version", purl)
	}
	if err := e.refiller.Refill(ctx, []model.Purl{purl}); err != nil {
		return model.VulnerabilityVersionInfo{}, err
	}
	info, ok := e.refiller.Cache().Get(purl)
	if !ok {
		return model.VulnerabilityVersionInfo{}, fmt.Errorf("%s: no vulnerability data", purl)
	}
	return info, nil
}
