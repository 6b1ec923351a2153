package backend

import (
	"context"
	"net/http"
	"strings"

	"github.com/ortelius/vulnlsp/model"
	"go.uber.org/zap"
)

// DefaultOSSIndexURL is the public OSS Index service
const DefaultOSSIndexURL = "https://ossindex.sonatype.org"

// OSSIndex queries the Sonatype OSS Index component report API
type OSSIndex struct {
	client  *http.Client
	baseURL string
	auth    basicAuth
	logger  *zap.Logger
}

type ossIndexRequest struct {
	Coordinates []string `json:"coordinates"`
}

type ossIndexReport struct {
	Coordinates     string                  `json:"coordinates"`
	Description     string                  `json:"description"`
	Reference       string                  `json:"reference"`
	Vulnerabilities []ossIndexVulnerability `json:"vulnerabilities"`
}

type ossIndexVulnerability struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	CvssScore   float64 `json:"cvssScore"`
	Cve         string  `json:"cve"`
	Reference   string  `json:"reference"`
}

// NewOSSIndex creates an OSS Index backend; an empty baseURL uses the public service
func NewOSSIndex(client *http.Client, baseURL, username, token string, logger *zap.Logger) *OSSIndex {
	if baseURL == "" {
		baseURL = DefaultOSSIndexURL
	}
	return &OSSIndex{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    basicAuth{username: username, password: token},
		logger:  logger,
	}
}

// Name identifies the backend
func (o *OSSIndex) Name() string {
	return KindOSSIndex
}

// Lookup sends the purls without qualifiers and maps each report back to the requested purl
func (o *OSSIndex) Lookup(ctx context.Context, purls []model.Purl) ([]model.VulnerabilityVersionInfo, error) {
	if len(purls) == 0 {
		return nil, nil
	}

	requested := make(map[string]model.Purl, len(purls))
	body := ossIndexRequest{Coordinates: make([]string, 0, len(purls))}
	for _, p := range purls {
		unqualified := p
		unqualified.Qualifier = ""
		coordinate := unqualified.String()
		requested[strings.ToLower(coordinate)] = p
		body.Coordinates = append(body.Coordinates, coordinate)
	}

	var reports []ossIndexReport
	if err := doJSON(ctx, o.client, o.Name(), "component-report", http.MethodPost,
		o.baseURL+"/api/v3/component-report", o.auth, body, &reports); err != nil {
		return nil, err
	}

	infos := make([]model.VulnerabilityVersionInfo, 0, len(reports))
	for _, report := range reports {
		p, ok := requested[strings.ToLower(report.Coordinates)]
		if !ok {
			o.logger.Debug("Ignoring unrequested OSS Index coordinate", zap.String("coordinates", report.Coordinates))
			continue
		}

		vulns := make([]model.VulnerabilityInformation, 0, len(report.Vulnerabilities))
		for _, v := range report.Vulnerabilities {
			id := v.Cve
			if id == "" {
				id = v.DisplayName
			}
			if id == "" {
				id = v.ID
			}
			vulns = append(vulns, model.VulnerabilityInformation{
				ID:        id,
				Severity:  model.SeverityFromCVSS(v.CvssScore),
				Summary:   v.Title,
				Detail:    v.Description,
				Reference: v.Reference,
			})
		}
		infos = append(infos, model.VulnerabilityVersionInfo{Purl: p, Vulnerabilities: vulns})
	}
	return infos, nil
}

// Versions is not offered by OSS Index
func (o *OSSIndex) Versions(context.Context, model.Purl) ([]model.Purl, error) {
	return nil, nil
}
