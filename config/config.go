// Package config loads the vulnlsp settings from an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/vulnlsp/backend"
	"github.com/ortelius/vulnlsp/cache"
	"github.com/ortelius/vulnlsp/database"
	"github.com/ortelius/vulnlsp/parser"
	"github.com/ortelius/vulnlsp/util"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

// Config holds every setting of the server, the API and the scan command
type Config struct {
	Backend              backend.Settings  `yaml:"backend"`
	Arango               database.Settings `yaml:"arango"`
	DirectOnly           bool              `yaml:"direct_only"`
	FallbackOnBuildError bool              `yaml:"fallback_on_build_error"`
	ChunkSize            int               `yaml:"chunk_size"`
	Retry                RetryConfig       `yaml:"retry"`
	Commands             CommandConfig     `yaml:"commands"`
	Log                  LogConfig         `yaml:"log"`
	API                  APIConfig         `yaml:"api"`
	VersionsCacheSize    int               `yaml:"versions_cache_size"`
}

// RetryConfig bounds the retries of one backend chunk
type RetryConfig struct {
	MaxRetries uint64 `yaml:"max_retries"`
}

// CommandConfig overrides the build tool invocations
type CommandConfig struct {
	Cargo []string `yaml:"cargo"`
	Maven []string `yaml:"maven"`
}

// LogConfig selects the log level and destination
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	Port string `yaml:"port"`
}

// Default returns the settings used when nothing is configured
func Default() Config {
	return Config{
		Backend: backend.Settings{
			Kind:    backend.KindDummy,
			Timeout: 30 * time.Second,
		},
		Arango: database.Settings{
			URL:             "http://localhost:8529",
			User:            "root",
			Database:        database.DefaultDatabase,
			InitialInterval: 10 * time.Second,
			MaxElapsed:      2 * time.Minute,
		},
		FallbackOnBuildError: true,
		ChunkSize:            cache.DefaultChunkSize,
		Retry:                RetryConfig{MaxRetries: 3},
		Commands: CommandConfig{
			Cargo: parser.DefaultCargoCommand,
			Maven: parser.DefaultMavenCommand,
		},
		Log:               LogConfig{Level: "info"},
		API:               APIConfig{Port: "3000"},
		VersionsCacheSize: 256,
	}
}

// Load reads path (when set) over the defaults, applies environment overrides and validates
func Load(path string) (Config, error) {
	cfg := Default()

	if util.IsNotEmpty(path) {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(content, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides settings from VULNLSP_* variables; the Arango connection uses the
// ARANGO_* variables shared with the CVE sync jobs
func (c *Config) applyEnv() error {
	c.Backend.Kind = util.GetEnvDefault("VULNLSP_BACKEND", c.Backend.Kind)
	c.Backend.URL = util.GetEnvDefault("VULNLSP_BACKEND_URL", c.Backend.URL)
	c.Backend.Username = util.GetEnvDefault("VULNLSP_BACKEND_USER", c.Backend.Username)
	c.Backend.Token = util.GetEnvDefault("VULNLSP_BACKEND_TOKEN", c.Backend.Token)
	c.Log.Level = util.GetEnvDefault("VULNLSP_LOG_LEVEL", c.Log.Level)
	c.Log.File = util.GetEnvDefault("VULNLSP_LOG_FILE", c.Log.File)
	c.API.Port = util.GetEnvDefault("VULNLSP_PORT", c.API.Port)

	dbhost := util.GetEnvDefault("ARANGO_HOST", "")
	dbport := util.GetEnvDefault("ARANGO_PORT", "8529")
	if dbhost != "" {
		c.Arango.URL = "http://" + dbhost + ":" + dbport
	}
	c.Arango.URL = util.GetEnvDefault("ARANGO_URL", c.Arango.URL)
	c.Arango.User = util.GetEnvDefault("ARANGO_USER", c.Arango.User)
	c.Arango.Password = util.GetEnvDefault("ARANGO_PASS", c.Arango.Password)

	var err error
	if c.DirectOnly, err = envBool("VULNLSP_DIRECT_ONLY", c.DirectOnly); err != nil {
		return err
	}
	if c.ChunkSize, err = envInt("VULNLSP_CHUNK_SIZE", c.ChunkSize); err != nil {
		return err
	}
	return nil
}

func envBool(key string, defVal bool) (bool, error) {
	raw := util.GetEnvDefault(key, "")
	if util.IsEmpty(raw) {
		return defVal, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defVal, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envInt(key string, defVal int) (int, error) {
	raw := util.GetEnvDefault(key, "")
	if util.IsEmpty(raw) {
		return defVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defVal, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	switch c.Backend.Kind {
	case backend.KindDummy, backend.KindOSSIndex, backend.KindOSV:
	case backend.KindSonatype:
		if util.IsEmpty(c.Backend.URL) {
			return fmt.Errorf("backend %s requires backend.url", c.Backend.Kind)
		}
	case backend.KindArango:
		if util.IsEmpty(c.Arango.URL) {
			return fmt.Errorf("backend %s requires arango.url", c.Backend.Kind)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend.Kind)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.VersionsCacheSize <= 0 {
		return fmt.Errorf("versions_cache_size must be positive, got %d", c.VersionsCacheSize)
	}
	if len(c.Commands.Cargo) == 0 || len(c.Commands.Maven) == 0 {
		return fmt.Errorf("build commands must not be empty")
	}
	if _, err := zapcore.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}
