package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ortelius/vulnlsp/model"
	"go.uber.org/zap"
)

// Sonatype queries the component details and versions APIs of a Sonatype lifecycle server
type Sonatype struct {
	client  *http.Client
	baseURL string
	auth    basicAuth
	logger  *zap.Logger
}

type sonatypeComponent struct {
	PackageURL  string `json:"packageUrl"`
	DisplayName string `json:"displayName,omitempty"`
}

type sonatypeDetailsRequest struct {
	Components []sonatypeComponent `json:"components"`
}

type sonatypeDetailsResponse struct {
	ComponentDetails []struct {
		Component    sonatypeComponent `json:"component"`
		MatchState   string            `json:"matchState"`
		SecurityData struct {
			SecurityIssues []sonatypeSecurityIssue `json:"securityIssues"`
		} `json:"securityData"`
		LicenseData struct {
			DeclaredLicenses []sonatypeLicense `json:"declaredLicenses"`
		} `json:"licenseData"`
	} `json:"componentDetails"`
}

type sonatypeSecurityIssue struct {
	Source         string  `json:"source"`
	Reference      string  `json:"reference"`
	Severity       float64 `json:"severity"`
	URL            string  `json:"url"`
	ThreatCategory string  `json:"threatCategory"`
}

type sonatypeLicense struct {
	LicenseID   string `json:"licenseId"`
	LicenseName string `json:"licenseName"`
}

// NewSonatype creates a lifecycle backend authenticating with username and token
func NewSonatype(client *http.Client, baseURL, username, token string, logger *zap.Logger) *Sonatype {
	return &Sonatype{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    basicAuth{username: username, password: token},
		logger:  logger,
	}
}

// Name identifies the backend
func (s *Sonatype) Name() string {
	return KindSonatype
}

// Lookup requests component details and maps them back to the requested purls
func (s *Sonatype) Lookup(ctx context.Context, purls []model.Purl) ([]model.VulnerabilityVersionInfo, error) {
	if len(purls) == 0 {
		return nil, nil
	}

	requested := make(map[string]model.Purl, len(purls))
	body := sonatypeDetailsRequest{Components: make([]sonatypeComponent, 0, len(purls))}
	for _, p := range purls {
		requested[strings.ToLower(p.String())] = p
		body.Components = append(body.Components, sonatypeComponent{PackageURL: p.String()})
	}

	var resp sonatypeDetailsResponse
	if err := doJSON(ctx, s.client, s.Name(), "component-details", http.MethodPost,
		s.baseURL+"/api/v2/components/details", s.auth, body, &resp); err != nil {
		return nil, err
	}

	infos := make([]model.VulnerabilityVersionInfo, 0, len(resp.ComponentDetails))
	for _, details := range resp.ComponentDetails {
		p, ok := s.match(requested, details.Component.PackageURL)
		if !ok {
			s.logger.Debug("Ignoring unrequested Sonatype component", zap.String("packageUrl", details.Component.PackageURL))
			continue
		}

		var licenses []model.License
		for _, l := range details.LicenseData.DeclaredLicenses {
			licenses = append(licenses, model.License{ID: l.LicenseID, Name: l.LicenseName})
		}

		vulns := make([]model.VulnerabilityInformation, 0, len(details.SecurityData.SecurityIssues))
		for _, issue := range details.SecurityData.SecurityIssues {
			vulns = append(vulns, model.VulnerabilityInformation{
				ID:        issue.Reference,
				Severity:  model.SeverityFromSonatype(issue.Severity),
				Summary:   issue.ThreatCategory,
				Detail:    fmt.Sprintf("%s reported by %s", issue.Reference, issue.Source),
				Reference: issue.URL,
				Licenses:  licenses,
			})
		}
		infos = append(infos, model.VulnerabilityVersionInfo{Purl: p, Vulnerabilities: vulns})
	}
	return infos, nil
}

// match finds the requested purl for a returned package url, tolerating a different canonical form
func (s *Sonatype) match(requested map[string]model.Purl, packageURL string) (model.Purl, bool) {
	if p, ok := requested[strings.ToLower(packageURL)]; ok {
		return p, true
	}
	parsed, err := model.ParsePurl(packageURL)
	if err != nil {
		return model.Purl{}, false
	}
	p, ok := requested[strings.ToLower(parsed.String())]
	return p, ok
}

// Versions lists every known version of the package
func (s *Sonatype) Versions(ctx context.Context, purl model.Purl) ([]model.Purl, error) {
	body := sonatypeComponent{PackageURL: purl.String()}

	var versions []string
	if err := doJSON(ctx, s.client, s.Name(), "component-versions", http.MethodPost,
		s.baseURL+"/api/v2/components/versions", s.auth, body, &versions); err != nil {
		return nil, err
	}

	purls := make([]model.Purl, 0, len(versions))
	for _, v := range versions {
		purls = append(purls, purl.WithVersion(v))
	}
	return purls, nil
}
