// Package config loads process settings from the environment and the site
// registry from sites.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendTimescale  = "timescale"
	BackendClickHouse = "clickhouse"
	BackendInflux     = "influx"
	BackendDuckDB     = "duckdb"

	defaultModel          = "claude-3-haiku-20240307"
	defaultBackend        = BackendTimescale
	defaultTemplatesDir   = "data/templates"
	defaultMaxIterations  = 10
	defaultBudget         = 90 * time.Second
	defaultClickHouseAddr = "localhost:9000"
	defaultClickHouseDB   = "default"
	defaultClickHouseUser = "default"
	defaultS3Region       = "us-east-1"
)

var Backends = []string{BackendTimescale, BackendClickHouse, BackendInflux, BackendDuckDB}

type ClickHouse struct {
	Addr     string
	Database string
	User     string
	Password string
	Table    string
	Secure   bool
}

type Influx struct {
	Host     string
	Token    string
	Database string
}

type S3 struct {
	Bucket    string
	Prefix    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Env holds the settings read from environment variables.
type Env struct {
	AnthropicAPIKey string
	Model           string
	MaxIterations   int
	Budget          time.Duration

	// SitesPath is the sites.yaml location; empty searches the usual places.
	SitesPath string

	// Backend selects the time-series store: timescale uses the per-site
	// databases from sites.yaml, the others serve every site from one store.
	Backend    string
	ClickHouse ClickHouse
	Influx     Influx
	DuckDBPath string

	TemplatesDir string
	TemplatesS3  S3
}

// AIEnabled reports whether an API key for the reasoning service is set.
func (e *Env) AIEnabled() bool { return e.AnthropicAPIKey != "" }

// LoadEnv reads the given .env files, or ./.env when none are given, and then
// the process environment. Variables already set win over file values. A
// missing default .env is not an error.
func LoadEnv(files ...string) (*Env, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	return envFrom(os.Getenv)
}

func envFrom(get func(string) string) (*Env, error) {
	e := &Env{
		AnthropicAPIKey: get("ANTHROPIC_API_KEY"),
		Model:           orDefault(get("ANALYTICS_MODEL"), defaultModel),
		SitesPath:       get("ALTO_CONFIG_PATH"),
		Backend:         strings.ToLower(orDefault(get("ANALYTICS_BACKEND"), defaultBackend)),
		ClickHouse: ClickHouse{
			Addr:     orDefault(get("CLICKHOUSE_ADDR"), defaultClickHouseAddr),
			Database: orDefault(get("CLICKHOUSE_DATABASE"), defaultClickHouseDB),
			User:     orDefault(get("CLICKHOUSE_USERNAME"), defaultClickHouseUser),
			Password: get("CLICKHOUSE_PASSWORD"),
			Table:    get("CLICKHOUSE_TABLE"),
		},
		Influx: Influx{
			Host:     get("INFLUX_HOST"),
			Token:    get("INFLUX_TOKEN"),
			Database: get("INFLUX_DATABASE"),
		},
		DuckDBPath:   get("DUCKDB_PATH"),
		TemplatesDir: orDefault(get("TEMPLATES_DIR"), defaultTemplatesDir),
		TemplatesS3: S3{
			Bucket:    get("TEMPLATES_S3_BUCKET"),
			Prefix:    get("TEMPLATES_S3_PREFIX"),
			Endpoint:  get("S3_ENDPOINT"),
			Region:    orDefault(get("S3_REGION"), defaultS3Region),
			AccessKey: get("S3_ACCESS_KEY_ID"),
			SecretKey: get("S3_SECRET_ACCESS_KEY"),
		},
	}

	var err error
	if e.ClickHouse.Secure, err = parseBool(get("CLICKHOUSE_SECURE")); err != nil {
		return nil, fmt.Errorf("CLICKHOUSE_SECURE: %w", err)
	}
	if e.MaxIterations, err = parseInt(get("ANALYTICS_MAX_ITERATIONS"), defaultMaxIterations); err != nil {
		return nil, fmt.Errorf("ANALYTICS_MAX_ITERATIONS: %w", err)
	}
	e.Budget = defaultBudget
	if v := get("ANALYTICS_BUDGET"); v != "" {
		if e.Budget, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("ANALYTICS_BUDGET: %w", err)
		}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Env) Validate() error {
	switch e.Backend {
	case BackendTimescale, BackendClickHouse:
	case BackendInflux:
		if e.Influx.Host == "" || e.Influx.Database == "" {
			return errors.New("influx backend needs INFLUX_HOST and INFLUX_DATABASE")
		}
	case BackendDuckDB:
		if e.DuckDBPath == "" {
			return errors.New("duckdb backend needs DUCKDB_PATH")
		}
	default:
		return fmt.Errorf("unknown backend %q, want one of %v", e.Backend, Backends)
	}
	if e.MaxIterations <= 0 {
		return errors.New("max iterations must be greater than 0")
	}
	if e.Budget <= 0 {
		return errors.New("budget must be greater than 0")
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
