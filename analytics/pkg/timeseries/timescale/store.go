// Package timescale reads site telemetry from TimescaleDB over read-only pgx
// pools, one pool per site.
package timescale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const (
	defaultPort             = 5432
	defaultDatabase         = "postgres"
	defaultUser             = "postgres"
	defaultSSLMode          = "disable"
	defaultMinConns         = 2
	defaultMaxConns         = 10
	defaultStatementTimeout = 30 * time.Second
	defaultConnectTimeout   = 5 * time.Second
	defaultConnectAttempts  = 3
)

// Config describes one site database. Zero fields take the defaults a stock
// Timescale install uses.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	MinConns         int32         `yaml:"-"`
	MaxConns         int32         `yaml:"-"`
	StatementTimeout time.Duration `yaml:"-"`
}

// Configured reports whether enough is set to attempt a connection.
func (c Config) Configured() bool {
	return c.Host != ""
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.User == "" {
		c.User = defaultUser
	}
	if c.SSLMode == "" {
		c.SSLMode = defaultSSLMode
	}
	if c.MinConns == 0 {
		c.MinConns = defaultMinConns
	}
	if c.MaxConns == 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = defaultStatementTimeout
	}
}

// ConnString renders the config as a postgres:// URL.
func (c Config) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Store issues read-only queries against the aggregated_data table.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// Connect opens a pool whose sessions default to read-only transactions and a
// bounded statement timeout, retrying the initial ping with backoff.
func Connect(ctx context.Context, log *slog.Logger, cfg Config) (*Store, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: host is required", timeseries.ErrUnavailable)
	}
	cfg.applyDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse timescale config: %w", err)
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout
	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)

	attempt := 0
	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		if attempt > 0 {
			log.Warn("timescale: connect failed, retrying", "host", cfg.Host, "attempt", attempt)
		}
		attempt++
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(defaultConnectAttempts))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s:%d: %w", timeseries.ErrUnavailable, cfg.Host, cfg.Port, err)
	}

	log.Info("timescale: connected (read-only)", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)
	return &Store{log: log, pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Fetch(ctx context.Context, q timeseries.FetchQuery) ([]timeseries.Row, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if interval := q.Resample.Interval(); interval != "" {
		// interval comes from the closed Resample set, never from callers.
		rows, err = s.pool.Query(ctx, fmt.Sprintf(`
			SELECT time_bucket(INTERVAL '%s', timestamp) AS bucket,
			       device_id, datapoint, AVG(value)
			FROM aggregated_data
			WHERE site_id = $1
			  AND device_id = $2
			  AND datapoint = ANY($3)
			  AND timestamp >= $4
			  AND timestamp < $5
			GROUP BY 1, 2, 3
			ORDER BY bucket`, interval),
			q.SiteID, q.DeviceID, q.Datapoints, q.Start, q.End)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT timestamp, device_id, datapoint, value
			FROM aggregated_data
			WHERE site_id = $1
			  AND device_id = $2
			  AND datapoint = ANY($3)
			  AND timestamp >= $4
			  AND timestamp < $5
			ORDER BY timestamp`,
			q.SiteID, q.DeviceID, q.Datapoints, q.Start, q.End)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query timeseries: %w", err)
	}
	return collect(rows)
}

func (s *Store) Latest(ctx context.Context, q timeseries.LatestQuery) ([]timeseries.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (device_id, datapoint)
		       timestamp, device_id, datapoint, value
		FROM aggregated_data
		WHERE site_id = $1
		  AND timestamp >= $2
		ORDER BY device_id, datapoint, timestamp DESC`,
		q.SiteID, q.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest values: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]timeseries.Row, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (timeseries.Row, error) {
		var r timeseries.Row
		err := row.Scan(&r.Timestamp, &r.DeviceID, &r.Datapoint, &r.Value)
		r.Timestamp = r.Timestamp.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return out, nil
}
