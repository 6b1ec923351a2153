package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/ortelius/vulnlsp/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	log4j  = model.NewPurl("maven", "org.apache.logging.log4j", "log4j-core", "2.14.1", "jar")
	guava  = model.NewPurl("maven", "com.google.guava", "guava", "31.1-jre", "jar")
	chrono = model.NewPurl("cargo", "", "time", "0.1.45", "")
)

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "default", kind: "", want: KindDummy},
		{name: "dummy", kind: KindDummy, want: KindDummy},
		{name: "ossindex", kind: KindOSSIndex, want: KindOSSIndex},
		{name: "osv", kind: KindOSV, want: KindOSV},
		{name: "sonatype", kind: KindSonatype, url: "http://localhost:8070", want: KindSonatype},
		{name: "sonatype without url", kind: KindSonatype, wantErr: true},
		{name: "unknown", kind: "snyk", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(Settings{Kind: tt.kind, URL: tt.url}, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name())
		})
	}
}

func TestDummy(t *testing.T) {
	d := NewDummy()

	infos, err := d.Lookup(context.Background(), []model.Purl{log4j, chrono, model.NewPurl("cargo", "", "serde", "1.0.0", "")})
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, model.SeverityCritical, infos[0].Vulnerabilities[0].Severity)
	assert.Equal(t, model.SeverityMedium, infos[1].Vulnerabilities[0].Severity)
	assert.Empty(t, infos[2].Vulnerabilities)

	versions, err := d.Versions(context.Background(), log4j)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "2.0.0", versions[2].Version)
	assert.Equal(t, log4j.Unversioned(), versions[2].Unversioned())
}

func TestOSSIndexLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/component-report", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body ossIndexRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{
			"pkg:maven/org.apache.logging.log4j/log4j-core@2.14.1",
			"pkg:maven/com.google.guava/guava@31.1-jre",
		}, body.Coordinates)

		_, _ = w.Write([]byte(`[
			{
				"coordinates": "pkg:maven/org.apache.logging.log4j/log4j-core@2.14.1",
				"vulnerabilities": [
					{"id": "abc", "displayName": "CVE-2021-44228", "title": "Log4Shell", "description": "JNDI lookup", "cvssScore": 10.0, "cve": "CVE-2021-44228", "reference": "https://ossindex.sonatype.org/vulnerability/abc"},
					{"id": "def", "title": "Denial of service", "cvssScore": 5.9}
				]
			},
			{"coordinates": "pkg:maven/com.google.guava/guava@31.1-jre", "vulnerabilities": []},
			{"coordinates": "pkg:maven/unrequested/thing@1.0", "vulnerabilities": []}
		]`))
	}))
	defer server.Close()

	o := NewOSSIndex(server.Client(), server.URL, "", "", zap.NewNop())
	infos, err := o.Lookup(context.Background(), []model.Purl{log4j, guava})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, log4j, infos[0].Purl)
	require.Len(t, infos[0].Vulnerabilities, 2)
	assert.Equal(t, "CVE-2021-44228", infos[0].Vulnerabilities[0].ID)
	assert.Equal(t, model.SeverityCritical, infos[0].Vulnerabilities[0].Severity)
	assert.Equal(t, "def", infos[0].Vulnerabilities[1].ID)
	assert.Equal(t, model.SeverityMedium, infos[0].Vulnerabilities[1].Severity)

	assert.Equal(t, guava, infos[1].Purl)
	assert.Empty(t, infos[1].Vulnerabilities)
}

func TestOSSIndexStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	o := NewOSSIndex(server.Client(), server.URL, "", "", zap.NewNop())
	_, err := o.Lookup(context.Background(), []model.Purl{log4j})
	require.Error(t, err)

	var backendErr *Error
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, KindOSSIndex, backendErr.Backend)
	assert.Equal(t, http.StatusTooManyRequests, backendErr.StatusCode)
}

func TestSonatypeLookupAndVersions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		switch r.URL.Path {
		case "/api/v2/components/details":
			var body sonatypeDetailsRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Components, 1)
			assert.Equal(t, log4j.String(), body.Components[0].PackageURL)

			_, _ = w.Write([]byte(`{"componentDetails": [{
				"component": {"packageUrl": "pkg:maven/org.apache.logging.log4j/log4j-core@2.14.1?type=jar", "displayName": "log4j-core 2.14.1"},
				"matchState": "exact",
				"licenseData": {"declaredLicenses": [{"licenseId": "Apache-2.0", "licenseName": "Apache License 2.0"}]},
				"securityData": {"securityIssues": [
					{"source": "cve", "reference": "CVE-2021-44228", "severity": 10.0, "url": "http://localhost/CVE-2021-44228", "threatCategory": "critical"},
					{"source": "cve", "reference": "CVE-2021-45105", "severity": 5.9, "url": "http://localhost/CVE-2021-45105", "threatCategory": "severe"}
				]}
			}]}`))
		case "/api/v2/components/versions":
			var body sonatypeComponent
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, log4j.String(), body.PackageURL)
			_, _ = w.Write([]byte(`["2.14.1", "2.15.0", "2.17.1"]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	s := NewSonatype(server.Client(), server.URL, "admin", "secret", zap.NewNop())

	infos, err := s.Lookup(context.Background(), []model.Purl{log4j})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, log4j, infos[0].Purl)
	require.Len(t, infos[0].Vulnerabilities, 2)
	assert.Equal(t, model.SeverityCritical, infos[0].Vulnerabilities[0].Severity)
	assert.Equal(t, model.SeverityMedium, infos[0].Vulnerabilities[1].Severity)
	assert.Equal(t, []model.License{{ID: "Apache-2.0", Name: "Apache License 2.0"}}, infos[0].Vulnerabilities[0].Licenses)

	versions, err := s.Versions(context.Background(), log4j)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, log4j.WithVersion("2.17.1"), versions[2])
}

func TestOSVLookupCachesAdvisories(t *testing.T) {
	var detailCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/querybatch":
			var body osvBatchRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Queries, 2)
			assert.Equal(t, "pkg:cargo/time@0.1.45", body.Queries[0].Package.Purl)
			_, _ = w.Write([]byte(`{"results": [
				{"vulns": [{"id": "GHSA-wcg3-cvx6-7396", "modified": "2024-01-01T00:00:00Z"}, {"id": "RUSTSEC-2020-0159"}]},
				{}
			]}`))
		case "/v1/vulns/GHSA-wcg3-cvx6-7396":
			detailCalls.Add(1)
			_, _ = w.Write([]byte(`{
				"id": "GHSA-wcg3-cvx6-7396",
				"summary": "Segmentation fault in time",
				"details": "localtime_r may segfault",
				"database_specific": {"severity": "MODERATE"},
				"references": [{"type": "ADVISORY", "url": "https://github.com/advisories/GHSA-wcg3-cvx6-7396"}]
			}`))
		case "/v1/vulns/RUSTSEC-2020-0159":
			detailCalls.Add(1)
			_, _ = w.Write([]byte(`{"id": "RUSTSEC-2020-0159", "details": "chrono localtime_r"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	o := NewOSV(server.Client(), server.URL, zap.NewNop())
	purls := []model.Purl{chrono, model.NewPurl("cargo", "", "serde", "1.0.0", "")}

	infos, err := o.Lookup(context.Background(), purls)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, chrono, infos[0].Purl)
	require.Len(t, infos[0].Vulnerabilities, 2)
	assert.Equal(t, model.SeverityMedium, infos[0].Vulnerabilities[0].Severity)
	assert.Equal(t, "https://github.com/advisories/GHSA-wcg3-cvx6-7396", infos[0].Vulnerabilities[0].Reference)
	// unrated advisories are reported as Low
	assert.Equal(t, model.SeverityLow, infos[0].Vulnerabilities[1].Severity)
	assert.Equal(t, "RUSTSEC-2020-0159", infos[0].Vulnerabilities[1].Summary)
	assert.Empty(t, infos[1].Vulnerabilities)

	_, err = o.Lookup(context.Background(), purls)
	require.NoError(t, err)
	assert.Equal(t, int32(2), detailCalls.Load())
}

type fakeCVEStore struct {
	records map[string][]models.Vulnerability
	queries []string
	err     error
}

func (f *fakeCVEStore) FindByBasePurl(_ context.Context, basePurl string) ([]models.Vulnerability, error) {
	f.queries = append(f.queries, basePurl)
	return f.records[basePurl], f.err
}

func timeAdvisory() models.Vulnerability {
	return models.Vulnerability{
		ID:               "RUSTSEC-2020-0071",
		Summary:          "Potential segfault in the time crate",
		DatabaseSpecific: map[string]interface{}{"severity": "HIGH"},
		Affected: []models.Affected{{
			Package: models.Package{Ecosystem: "crates.io", Name: "time", Purl: "pkg:cargo/time"},
			Ranges: []models.Range{{
				Type:   models.RangeSemVer,
				Events: []models.Event{{Introduced: "0"}, {Fixed: "0.2.23"}},
			}},
		}},
	}
}

func TestArangoFiltersByAffectedVersion(t *testing.T) {
	store := &fakeCVEStore{records: map[string][]models.Vulnerability{"pkg:cargo/time": {timeAdvisory()}}}
	a := NewArango(store, zap.NewNop())

	patched := chrono.WithVersion("0.3.30")
	infos, err := a.Lookup(context.Background(), []model.Purl{chrono, patched})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	require.Len(t, infos[0].Vulnerabilities, 1)
	assert.Equal(t, "RUSTSEC-2020-0071", infos[0].Vulnerabilities[0].ID)
	assert.Equal(t, model.SeverityHigh, infos[0].Vulnerabilities[0].Severity)
	assert.Empty(t, infos[1].Vulnerabilities)

	// both versions share one query
	assert.Equal(t, []string{"pkg:cargo/time"}, store.queries)

	versions, err := a.Versions(context.Background(), chrono)
	require.NoError(t, err)
	assert.Equal(t, []model.Purl{chrono.WithVersion("0.2.23")}, versions)
}

func TestArangoQueryError(t *testing.T) {
	a := NewArango(&fakeCVEStore{err: errors.New("connection refused")}, zap.NewNop())

	_, err := a.Lookup(context.Background(), []model.Purl{chrono})
	var backendErr *Error
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, KindArango, backendErr.Backend)
}

func TestOSVSeverity(t *testing.T) {
	tests := []struct {
		name     string
		specific map[string]interface{}
		want     model.Severity
	}{
		{name: "unrated", specific: nil, want: model.SeverityLow},
		{name: "osv rating", specific: map[string]interface{}{"severity": "CRITICAL"}, want: model.SeverityCritical},
		{name: "sync rating", specific: map[string]interface{}{"severity_rating": "high"}, want: model.SeverityHigh},
		{name: "score only", specific: map[string]interface{}{"cvss_base_score": 5.3}, want: model.SeverityMedium},
		{name: "unknown rating falls back to score", specific: map[string]interface{}{"severity": "bogus", "cvss_base_score": 9.8}, want: model.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, osvSeverity(tt.specific))
		})
	}
}
