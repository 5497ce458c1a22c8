// Package clickhouse serves site telemetry replicated into ClickHouse.
package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const (
	defaultDialTimeout      = 5 * time.Second
	defaultMaxExecutionTime = 60
	defaultTable            = "aggregated_data"

	// readonly=2 rejects writes but still lets the client send settings such
	// as max_execution_time.
	readOnlyAllowSettings = 2
)

// Querier is the subset of driver.Conn the store needs.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

type Option func(*config)

type config struct {
	addr     string
	database string
	username string
	password string
	table    string
	secure   bool
}

func WithAddr(addr string) Option {
	return func(c *config) { c.addr = addr }
}

func WithDatabase(database string) Option {
	return func(c *config) { c.database = database }
}

func WithUser(username string) Option {
	return func(c *config) { c.username = username }
}

func WithPassword(password string) Option {
	return func(c *config) { c.password = password }
}

// WithTable overrides the source table, aggregated_data by default.
func WithTable(table string) Option {
	return func(c *config) { c.table = table }
}

// WithSecure enables TLS for the connection.
func WithSecure(secure bool) Option {
	return func(c *config) { c.secure = secure }
}

type Store struct {
	log   *slog.Logger
	conn  Querier
	table string
}

var _ timeseries.Store = (*Store)(nil)

// Open connects with a read-only session and pings the server.
func Open(ctx context.Context, log *slog.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg := &config{
		addr:     "localhost:9000",
		database: "default",
		username: "default",
		table:    defaultTable,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	chOpts := &clickhouse.Options{
		Addr: []string{cfg.addr},
		Auth: clickhouse.Auth{
			Database: cfg.database,
			Username: cfg.username,
			Password: cfg.password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": defaultMaxExecutionTime,
			"readonly":           readOnlyAllowSettings,
		},
		DialTimeout: defaultDialTimeout,
	}
	if cfg.secure {
		chOpts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to ping ClickHouse: %w", timeseries.ErrUnavailable, err)
	}

	log.Info("ClickHouse store initialized", "addr", cfg.addr, "database", cfg.database, "table", cfg.table)
	return NewStore(log, conn, cfg.table), nil
}

// NewStore wraps an existing connection.
func NewStore(log *slog.Logger, conn Querier, table string) *Store {
	if table == "" {
		table = defaultTable
	}
	return &Store{log: log, conn: conn, table: table}
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Fetch(ctx context.Context, q timeseries.FetchQuery) ([]timeseries.Row, error) {
	var query string
	if interval := q.Resample.Interval(); interval != "" {
		query = fmt.Sprintf(`
			SELECT toStartOfInterval(timestamp, INTERVAL %s) AS bucket,
			       device_id, datapoint, avg(value)
			FROM %s
			WHERE site_id = ?
			  AND device_id = ?
			  AND datapoint IN (?)
			  AND timestamp >= ?
			  AND timestamp < ?
			GROUP BY bucket, device_id, datapoint
			ORDER BY bucket`, interval, s.table)
	} else {
		query = fmt.Sprintf(`
			SELECT timestamp, device_id, datapoint, value
			FROM %s
			WHERE site_id = ?
			  AND device_id = ?
			  AND datapoint IN (?)
			  AND timestamp >= ?
			  AND timestamp < ?
			ORDER BY timestamp`, s.table)
	}

	rows, err := s.conn.Query(ctx, query, q.SiteID, q.DeviceID, q.Datapoints, q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeseries: %w", err)
	}
	return scanRows(rows)
}

func (s *Store) Latest(ctx context.Context, q timeseries.LatestQuery) ([]timeseries.Row, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT max(timestamp), device_id, datapoint, argMax(value, timestamp)
		FROM %s
		WHERE site_id = ?
		  AND timestamp >= ?
		GROUP BY device_id, datapoint
		ORDER BY device_id, datapoint`, s.table),
		q.SiteID, q.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest values: %w", err)
	}
	return scanRows(rows)
}

func scanRows(rows driver.Rows) ([]timeseries.Row, error) {
	defer rows.Close()

	var out []timeseries.Row
	for rows.Next() {
		var r timeseries.Row
		if err := rows.Scan(&r.Timestamp, &r.DeviceID, &r.Datapoint, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}
