// Package backend implements the vulnerability lookup contract over the dummy, OSS Index,
// Sonatype lifecycle, OSV and ArangoDB CVE sources.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ortelius/vulnlsp/model"
	"go.uber.org/zap"
)

// Backend looks up vulnerabilities for purls and lists the available versions of a package
type Backend interface {
	Name() string
	Lookup(ctx context.Context, purls []model.Purl) ([]model.VulnerabilityVersionInfo, error)
	Versions(ctx context.Context, purl model.Purl) ([]model.Purl, error)
}

// Error reports a failed backend request
type Error struct {
	Backend    string
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Backend, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Settings selects and configures a backend
type Settings struct {
	Kind     string        `yaml:"kind"`
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Backend kinds
const (
	KindDummy    = "dummy"
	KindOSSIndex = "ossindex"
	KindSonatype = "sonatype"
	KindOSV      = "osv"
	KindArango   = "arango"
)

// New builds the HTTP based or in-memory backend named by settings. The arango backend needs
// a database connection and is built with NewArango.
func New(settings Settings, logger *zap.Logger) (Backend, error) {
	client := &http.Client{Timeout: settings.Timeout}
	if settings.Timeout == 0 {
		client.Timeout = 30 * time.Second
	}

	switch settings.Kind {
	case KindDummy, "":
		return NewDummy(), nil
	case KindOSSIndex:
		return NewOSSIndex(client, settings.URL, settings.Username, settings.Token, logger), nil
	case KindSonatype:
		if settings.URL == "" {
			return nil, fmt.Errorf("sonatype backend requires a url")
		}
		return NewSonatype(client, settings.URL, settings.Username, settings.Token, logger), nil
	case KindOSV:
		return NewOSV(client, settings.URL, logger), nil
	}
	return nil, fmt.Errorf("unknown backend %q", settings.Kind)
}

// basicAuth holds optional credentials
type basicAuth struct {
	username string
	password string
}

// doJSON sends body (when non-nil) as JSON and decodes the JSON reply into out
func doJSON(ctx context.Context, client *http.Client, backend, op, method, url string, auth basicAuth, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Backend: backend, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &Error{Backend: backend, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth.username != "" || auth.password != "" {
		req.SetBasicAuth(auth.username, auth.password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Backend: backend, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Backend: backend, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Backend: backend, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
