package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/osv-scanner/pkg/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ortelius/vulnlsp/model"
	"go.uber.org/zap"
)

// DefaultOSVURL is the public OSV API
const DefaultOSVURL = "https://api.osv.dev"

const osvDetailCacheSize = 4096

// OSV queries the OSV batch API and fetches the full record of every advisory it reports
type OSV struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
	details *lru.Cache[string, models.Vulnerability]
}

type osvQuery struct {
	Package struct {
		Purl string `json:"purl"`
	} `json:"package"`
}

type osvBatchRequest struct {
	Queries []osvQuery `json:"queries"`
}

type osvBatchResponse struct {
	Results []struct {
		Vulns []struct {
			ID string `json:"id"`
		} `json:"vulns"`
	} `json:"results"`
}

// NewOSV creates an OSV backend; an empty baseURL uses the public API
func NewOSV(client *http.Client, baseURL string, logger *zap.Logger) *OSV {
	if baseURL == "" {
		baseURL = DefaultOSVURL
	}
	details, _ := lru.New[string, models.Vulnerability](osvDetailCacheSize)
	return &OSV{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		details: details,
	}
}

// Name identifies the backend
func (o *OSV) Name() string {
	return KindOSV
}

// Lookup sends one batch query; results come back in query order
func (o *OSV) Lookup(ctx context.Context, purls []model.Purl) ([]model.VulnerabilityVersionInfo, error) {
	if len(purls) == 0 {
		return nil, nil
	}

	body := osvBatchRequest{Queries: make([]osvQuery, len(purls))}
	for i, p := range purls {
		unqualified := p
		unqualified.Qualifier = ""
		body.Queries[i].Package.Purl = unqualified.String()
	}

	var resp osvBatchResponse
	if err := doJSON(ctx, o.client, o.Name(), "querybatch", http.MethodPost,
		o.baseURL+"/v1/querybatch", basicAuth{}, body, &resp); err != nil {
		return nil, err
	}

	infos := make([]model.VulnerabilityVersionInfo, 0, len(purls))
	for i, result := range resp.Results {
		if i >= len(purls) {
			break
		}

		vulns := make([]model.VulnerabilityInformation, 0, len(result.Vulns))
		for _, v := range result.Vulns {
			record, err := o.vulnerability(ctx, v.ID)
			if err != nil {
				return nil, err
			}
			vulns = append(vulns, osvInformation(record))
		}
		infos = append(infos, model.VulnerabilityVersionInfo{Purl: purls[i], Vulnerabilities: vulns})
	}
	return infos, nil
}

// vulnerability fetches a full advisory, served from memory after the first request
func (o *OSV) vulnerability(ctx context.Context, id string) (models.Vulnerability, error) {
	if record, ok := o.details.Get(id); ok {
		return record, nil
	}

	var record models.Vulnerability
	if err := doJSON(ctx, o.client, o.Name(), "vulns", http.MethodGet,
		o.baseURL+"/v1/vulns/"+url.PathEscape(id), basicAuth{}, nil, &record); err != nil {
		return models.Vulnerability{}, err
	}

	o.details.Add(id, record)
	return record, nil
}

// osvInformation converts an advisory
func osvInformation(record models.Vulnerability) model.VulnerabilityInformation {
	info := model.VulnerabilityInformation{
		ID:       record.ID,
		Severity: osvSeverity(record.DatabaseSpecific),
		Summary:  record.Summary,
		Detail:   record.Details,
	}
	if info.Summary == "" {
		info.Summary = record.ID
	}
	if len(record.References) > 0 {
		info.Reference = record.References[0].URL
	}
	return info
}

// osvSeverity reads the database rating, written as "severity" by OSV and as "severity_rating"
// with "cvss_base_score" by the CVE sync jobs. Unrated advisories are Low.
func osvSeverity(specific map[string]interface{}) model.Severity {
	for _, key := range []string{"severity", "severity_rating"} {
		if rating, ok := specific[key].(string); ok {
			if severity, err := model.ParseSeverity(rating); err == nil && severity != model.SeverityNone {
				return severity
			}
		}
	}
	if score, ok := specific["cvss_base_score"].(float64); ok && score > 0 {
		return model.SeverityFromCVSS(score)
	}
	return model.SeverityLow
}

// Versions is not offered by OSV
func (o *OSV) Versions(context.Context, model.Purl) ([]model.Purl, error) {
	return nil, nil
}
