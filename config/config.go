/*
Package config loads server configuration from the environment.

VARIABLES:
  HTTP_PORT                HTTP listen port                 (8080)
  MONGO_URI                Full connection string; overrides the parts below
  MONGO_HOST / MONGO_PORT  Document store address           (localhost / 27017)
  MONGO_USER / MONGO_PASSWORD
  MONGO_DATABASE                                            (aseguradora)
  NEO4J_HOST / NEO4J_BOLT_PORT                              (localhost / 7687)
  NEO4J_USER / NEO4J_PASSWORD                               (neo4j / admin123)
  NEO4J_DATABASE                                            (neo4j)
  SAGA_JOURNAL_PATH        SQLite journal file              (saga.db)
  SAGA_RETENTION           Age before finished intents go   (720h)
  SAGA_PRUNE_INTERVAL      Journal retention sweep period   (1h)
  ID_ALLOCATION_ATTEMPTS   Phase-1 reruns on ID collision   (3)
  LOG_LEVEL                zerolog level                    (info)
  LOG_FORMAT               json | console                   (json)

Command-line flags in cmd/server override HTTP_PORT and SAGA_JOURNAL_PATH.
*/
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

type Config struct {
	HTTPPort             int           `env:"HTTP_PORT" envDefault:"8080"`
	JournalPath          string        `env:"SAGA_JOURNAL_PATH" envDefault:"saga.db"`
	Retention            time.Duration `env:"SAGA_RETENTION" envDefault:"720h"`
	PruneInterval        time.Duration `env:"SAGA_PRUNE_INTERVAL" envDefault:"1h"`
	IDAllocationAttempts int           `env:"ID_ALLOCATION_ATTEMPTS" envDefault:"3"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`

	Mongo MongoConfig `envPrefix:"MONGO_"`
	Neo4j Neo4jConfig `envPrefix:"NEO4J_"`
}

type MongoConfig struct {
	URI      string `env:"URI"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"27017"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Database string `env:"DATABASE" envDefault:"aseguradora"`
}

// ConnectionURI returns URI when set, otherwise builds one from the parts.
// Credentials authenticate against the admin database.
func (m MongoConfig) ConnectionURI() string {
	if m.URI != "" {
		return m.URI
	}
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(m.Host, strconv.Itoa(m.Port)),
		Path:   "/",
	}
	if m.User != "" {
		u.User = url.UserPassword(m.User, m.Password)
		u.RawQuery = "authSource=admin"
	}
	return u.String()
}

type Neo4jConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	BoltPort int    `env:"BOLT_PORT" envDefault:"7687"`
	User     string `env:"USER" envDefault:"neo4j"`
	Password string `env:"PASSWORD" envDefault:"admin123"`
	Database string `env:"DATABASE" envDefault:"neo4j"`
}

func (n Neo4jConfig) URI() string {
	return "bolt://" + net.JoinHostPort(n.Host, strconv.Itoa(n.BoltPort))
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort))
	}
	if c.IDAllocationAttempts <= 0 {
		errs = append(errs, fmt.Errorf("ID_ALLOCATION_ATTEMPTS must be positive, got %d", c.IDAllocationAttempts))
	}
	if c.JournalPath == "" {
		errs = append(errs, errors.New("SAGA_JOURNAL_PATH must not be empty"))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("SAGA_RETENTION must be positive, got %s", c.Retention))
	}
	if c.PruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("SAGA_PRUNE_INTERVAL must be positive, got %s", c.PruneInterval))
	}
	if c.Mongo.URI == "" && c.Mongo.Host == "" {
		errs = append(errs, errors.New("MONGO_URI or MONGO_HOST is required"))
	}
	if c.Mongo.Database == "" {
		errs = append(errs, errors.New("MONGO_DATABASE must not be empty"))
	}
	if c.Neo4j.Host == "" {
		errs = append(errs, errors.New("NEO4J_HOST is required"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
