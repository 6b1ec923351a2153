package engine

import (
	"context"
	"fmt"

	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/util"
	"go.uber.org/zap"
)

// VersionSuggestion is a published version of a dependency with its worst known vulnerability
type VersionSuggestion struct {
	Purl            model.Purl     `json:"purl"`
	Severity        model.Severity `json:"severity"`
	Vulnerabilities int            `json:"vulnerabilities"`
}

// Completions suggests versions for the dependency declared on line, newest first. Version
// lists are cached per package; their vulnerabilities go through the shared cache.
func (e *Engine) Completions(ctx context.Context, uri string, line uint32) ([]VersionSuggestion, error) {
	direct, _, ok := e.DependencyAt(uri, line)
	if !ok {
		return nil, nil
	}

	versions, err := e.listVersions(ctx, direct)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}

	if err := e.refiller.Refill(ctx, versions); err != nil {
		e.logger.Warn("Failed to fetch vulnerabilities of suggested versions", zap.String("purl", direct.String()), zap.Error(err))
	}
	infos := e.refiller.Cache().GetMany(versions)

	byVersion := make(map[string]model.Purl, len(versions))
	raw := make([]string, 0, len(versions))
	for _, p := range versions {
		if _, dup := byVersion[p.Version]; dup {
			continue
		}
		byVersion[p.Version] = p
		raw = append(raw, p.Version)
	}

	suggestions := make([]VersionSuggestion, 0, len(raw))
	for _, v := range util.SortVersionsDescending(raw) {
		p := byVersion[v]
		suggestion := VersionSuggestion{Purl: p}
		if info, ok := infos[p]; ok {
			suggestion.Vulnerabilities = len(info.Vulnerabilities)
			if worst, ok := model.Highest(info.Vulnerabilities); ok {
				suggestion.Severity = worst.Severity
			}
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}

// listVersions asks the backend once per package, keyed without the version
func (e *Engine) listVersions(ctx context.Context, direct model.Purl) ([]model.Purl, error) {
	key := direct
	key.Version = ""
	if cached, ok := e.versionsCache.Get(key); ok {
		return cached, nil
	}
	if e.versions == nil {
		return nil, nil
	}

	versions, err := e.versions.Versions(ctx, direct)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", key, err)
	}
	e.versionsCache.Add(key, versions)
	return versions, nil
}
