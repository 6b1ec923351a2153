package backend

import (
	"context"
	"strings"

	"github.com/ortelius/vulnlsp/model"
)

// Dummy serves canned advisories without any network access
type Dummy struct {
	advisories map[string][]model.VulnerabilityInformation
	versions   []string
}

// NewDummy creates the canned backend. Packages are matched by name.
func NewDummy() *Dummy {
	return &Dummy{
		advisories: map[string][]model.VulnerabilityInformation{
			"log4j-core": {{
				ID:       "CVE-2021-44228",
				Severity: model.SeverityCritical,
				Summary:  "Remote code execution through JNDI lookups",
				Detail:   "Apache Log4j2 JNDI features do not protect against attacker controlled LDAP and other JNDI endpoints.",
			}},
			"commons-text": {{
				ID:       "CVE-2022-42889",
				Severity: model.SeverityCritical,
				Summary:  "Arbitrary code execution through variable interpolation",
				Detail:   "StringSubstitutor interpolates script, dns and url lookups by default.",
			}},
			"openssl": {{
				ID:       "RUSTSEC-2023-0044",
				Severity: model.SeverityHigh,
				Summary:  "openssl X509VerifyParamRef::set_host buffer over-read",
				Detail:   "Passing a host name containing a NUL byte reads past the end of the buffer.",
			}},
			"time": {{
				ID:       "RUSTSEC-2020-0071",
				Severity: model.SeverityMedium,
				Summary:  "Potential segfault in the time crate",
				Detail:   "Calls to localtime_r may segfault when the environment is modified concurrently.",
			}},
			"guava": {{
				ID:       "CVE-2023-2976",
				Severity: model.SeverityMedium,
				Summary:  "Insecure temporary directory creation",
				Detail:   "FileBackedOutputStream creates its temporary file with default permissions.",
			}, {
				ID:       "CVE-2020-8908",
				Severity: model.SeverityLow,
				Summary:  "Files.createTempDir is world readable",
				Detail:   "The temporary directory is created with permissions readable by other users.",
			}},
		},
		versions: []string{"1.0.0", "1.1.0", "2.0.0"},
	}
}

// Name identifies the backend
func (d *Dummy) Name() string {
	return KindDummy
}

// Lookup returns the canned advisories of every known package; other packages are clean
func (d *Dummy) Lookup(_ context.Context, purls []model.Purl) ([]model.VulnerabilityVersionInfo, error) {
	infos := make([]model.VulnerabilityVersionInfo, 0, len(purls))
	for _, p := range purls {
		vulns := d.advisories[strings.ToLower(p.Name)]
		if vulns == nil {
			vulns = []model.VulnerabilityInformation{}
		}
		infos = append(infos, model.VulnerabilityVersionInfo{Purl: p, Vulnerabilities: vulns})
	}
	return infos, nil
}

// Versions returns a fixed set of versions for any package
func (d *Dummy) Versions(_ context.Context, purl model.Purl) ([]model.Purl, error) {
	versions := make([]model.Purl, 0, len(d.versions))
	for _, v := range d.versions {
		versions = append(versions, purl.WithVersion(v))
	}
	return versions, nil
}
