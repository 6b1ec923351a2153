// Package database - Handles all interaction with the ArangoDB CVE store
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/google/osv-scanner/pkg/models"
	"go.uber.org/zap"
)

// Settings locate and authenticate against the database
type Settings struct {
	URL             string        `yaml:"url"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

// DefaultDatabase holds the OSV records imported by the CVE sync jobs
const DefaultDatabase = "vulnmgt"

// CVEStore is a read-only view over the cve collection
type CVEStore struct {
	Database   arangodb.Database
	Collection arangodb.Collection
	logger     *zap.Logger
}

// Define a struct to hold the index definition
type indexConfig struct {
	IdxName  string
	IdxField string
}

var cveIndexes = []indexConfig{
	{IdxName: "package_name", IdxField: "affected[*].package.name"},
	{IdxName: "package_purl", IdxField: "affected[*].package.purl"},
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Connect opens the CVE store, retrying the connection with exponential backoff until
// settings.MaxElapsed passes. The cve collection and its purl indexes are created when missing.
func Connect(ctx context.Context, settings Settings, logger *zap.Logger) (*CVEStore, error) {
	if settings.Database == "" {
		settings.Database = DefaultDatabase
	}

	bo := backoff.NewExponentialBackOff()
	if settings.InitialInterval > 0 {
		bo.InitialInterval = settings.InitialInterval
	}
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = settings.MaxElapsed

	var client arangodb.Client

	err := backoff.RetryNotify(func() error {
		logger.Info("Attempting to connect to ArangoDB", zap.String("url", settings.URL))
		endpoint := connection.NewRoundRobinEndpoints([]string{settings.URL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, settings.User, settings.Password))

		client = arangodb.NewClient(conn)

		// Ask the version of the server
		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warn("Retrying connection to ArangoDB", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("connect to arangodb: %w", err)
	}

	db, err := client.GetDatabase(ctx, settings.Database, &arangodb.GetDatabaseOptions{})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", settings.Database, err)
	}

	var col arangodb.Collection
	exists, err := db.CollectionExists(ctx, "cve")
	if err != nil {
		return nil, fmt.Errorf("check cve collection: %w", err)
	}
	if exists {
		col, err = db.GetCollection(ctx, "cve", &arangodb.GetCollectionOptions{})
	} else {
		col, err = db.CreateCollectionV2(ctx, "cve", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open cve collection: %w", err)
	}

	if err := ensureIndexes(ctx, col); err != nil {
		return nil, err
	}

	return &CVEStore{Database: db, Collection: col, logger: logger}, nil
}

func ensureIndexes(ctx context.Context, col arangodb.Collection) error {
	False := false

	indexes, err := col.Indexes(ctx)
	if err != nil {
		return fmt.Errorf("list cve indexes: %w", err)
	}

	for _, idx := range cveIndexes {
		found := false
		for _, index := range indexes {
			if idx.IdxName == index.Name {
				found = true
				break
			}
		}
		if found {
			continue
		}

		indexOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &False,
			Sparse: &False,
			Name:   idx.IdxName,
		}
		if _, _, err := col.EnsurePersistentIndex(ctx, []string{idx.IdxField}, &indexOptions); err != nil {
			return fmt.Errorf("create index %s: %w", idx.IdxName, err)
		}
	}
	return nil
}

// FindByBasePurl returns every OSV record with an affected package whose purl is basePurl
func (s *CVEStore) FindByBasePurl(ctx context.Context, basePurl string) ([]models.Vulnerability, error) {
	query := `
		FOR cve IN cve
			FILTER @purl IN cve.affected[*].package.purl
			RETURN cve
	`
	bindVars := map[string]interface{}{
		"purl": basePurl,
	}

	cursor, err := s.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var records []models.Vulnerability
	for cursor.HasMore() {
		var record models.Vulnerability
		if _, err := cursor.ReadDocument(ctx, &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	s.logger.Debug("CVE lookup", zap.String("purl", basePurl), zap.Int("records", len(records)))
	return records, nil
}
