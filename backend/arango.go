package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/util"
	"go.uber.org/zap"
)

// CVEStore finds the OSV records affecting a package, identified by its purl without version
type CVEStore interface {
	FindByBasePurl(ctx context.Context, basePurl string) ([]models.Vulnerability, error)
}

// Arango answers lookups from OSV records kept in ArangoDB
type Arango struct {
	store  CVEStore
	logger *zap.Logger
}

// NewArango creates a backend over store
func NewArango(store CVEStore, logger *zap.Logger) *Arango {
	return &Arango{store: store, logger: logger}
}

// Name identifies the backend
func (a *Arango) Name() string {
	return KindArango
}

// Lookup keeps only the records whose affected ranges or versions include each purl's version
func (a *Arango) Lookup(ctx context.Context, purls []model.Purl) ([]model.VulnerabilityVersionInfo, error) {
	byBase := make(map[string][]models.Vulnerability)
	infos := make([]model.VulnerabilityVersionInfo, 0, len(purls))

	for _, p := range purls {
		base := basePurl(p)

		records, ok := byBase[base]
		if !ok {
			var err error
			records, err = a.store.FindByBasePurl(ctx, base)
			if err != nil {
				return nil, &Error{Backend: a.Name(), Op: "query", Err: fmt.Errorf("%s: %w", base, err)}
			}
			byBase[base] = records
		}

		vulns := []model.VulnerabilityInformation{}
		for _, record := range records {
			if affects(record, base, p.Version) {
				vulns = append(vulns, osvInformation(record))
			}
		}
		infos = append(infos, model.VulnerabilityVersionInfo{Purl: p, Vulnerabilities: vulns})
	}
	return infos, nil
}

// basePurl matches the lowercased form the CVE sync jobs index records by
func basePurl(p model.Purl) string {
	return strings.ToLower(p.Unversioned().String())
}

func affects(record models.Vulnerability, base, version string) bool {
	for _, affected := range record.Affected {
		affectedBase, err := util.GetBasePURL(affected.Package.Purl)
		if err != nil || affectedBase != base {
			continue
		}
		if util.IsVersionAffected(version, affected) {
			return true
		}
	}
	return false
}

// Versions lists the fixed versions recorded for the package, newest first
func (a *Arango) Versions(ctx context.Context, purl model.Purl) ([]model.Purl, error) {
	base := basePurl(purl)
	records, err := a.store.FindByBasePurl(ctx, base)
	if err != nil {
		return nil, &Error{Backend: a.Name(), Op: "query", Err: err}
	}

	seen := make(map[string]bool)
	var versions []string
	for _, record := range records {
		for _, affected := range record.Affected {
			for _, fixed := range util.FixedVersions(affected) {
				if !seen[fixed] {
					seen[fixed] = true
					versions = append(versions, fixed)
				}
			}
		}
	}

	purls := make([]model.Purl, 0, len(versions))
	for _, v := range util.SortVersionsDescending(versions) {
		purls = append(purls, purl.WithVersion(v))
	}
	return purls, nil
}
