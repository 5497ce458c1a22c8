// Package duck serves telemetry snapshots (CSV or Parquet exports of
// aggregated_data) from an embedded DuckDB database. It backs the offline CLI
// and tests; production sites use a server store.
package duck

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const (
	table           = "aggregated_data"
	timestampLayout = "2006-01-02 15:04:05.999999"
)

type Options struct {
	// Path is the database file; empty opens an in-memory database.
	Path string

	// ReadOnly opens Path in read-only access mode. Ignored for in-memory
	// databases, which would otherwise be empty.
	ReadOnly bool
}

type Store struct {
	log      *slog.Logger
	db       *sql.DB
	readOnly bool
}

var _ timeseries.Store = (*Store)(nil)

// Open opens the database and makes sure the telemetry table exists.
func Open(ctx context.Context, log *slog.Logger, opts Options) (*Store, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}

	dsn := opts.Path
	readOnly := opts.ReadOnly && opts.Path != ""
	if readOnly {
		dsn += "?access_mode=READ_ONLY"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !readOnly {
		if _, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS aggregated_data (
				site_id   VARCHAR NOT NULL,
				device_id VARCHAR NOT NULL,
				datapoint VARCHAR NOT NULL,
				value     DOUBLE,
				timestamp TIMESTAMP NOT NULL
			)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Debug("duck: store opened", "path", opts.Path, "read_only", readOnly)
	return &Store{log: log, db: db, readOnly: readOnly}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadFile appends a CSV or Parquet export whose columns match
// aggregated_data.
func (s *Store) LoadFile(ctx context.Context, path string) error {
	if s.readOnly {
		return errors.New("store is read-only")
	}
	var reader string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		reader = "read_parquet"
	case ".csv":
		reader = "read_csv_auto"
	default:
		return fmt.Errorf("unsupported snapshot format %q", filepath.Ext(path))
	}

	start := time.Now()
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s SELECT site_id, device_id, datapoint, value, CAST(timestamp AS TIMESTAMP) FROM %s('%s')`,
		table, reader, strings.ReplaceAll(path, "'", "''")))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	n, _ := res.RowsAffected()
	s.log.Info("duck: snapshot loaded", "path", path, "rows", n, "duration", time.Since(start).String())
	return nil
}

// Append stages rows through a temporary CSV file and copies them in one
// transaction.
func (s *Store) Append(ctx context.Context, siteID string, rows []timeseries.Row) error {
	if s.readOnly {
		return errors.New("store is read-only")
	}
	if len(rows) == 0 {
		return nil
	}

	tmpFile, err := os.CreateTemp("", "aggregated_data_*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	w := csv.NewWriter(tmpFile)
	for i, r := range rows {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during CSV writing: %w", ctx.Err())
		default:
		}
		value := ""
		if r.Value != nil {
			value = strconv.FormatFloat(*r.Value, 'f', -1, 64)
		}
		if err := w.Write([]string{siteID, r.DeviceID, r.Datapoint, value, r.Timestamp.UTC().Format(timestampLayout)}); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Error("duck: failed to rollback transaction", "error", err)
		}
	}()

	copySQL := fmt.Sprintf("COPY %s FROM '%s' (FORMAT CSV, HEADER false)", table, tmpFile.Name())
	if _, err := tx.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("failed to COPY FROM CSV: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, q timeseries.FetchQuery) ([]timeseries.Row, error) {
	if len(q.Datapoints) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Datapoints)), ", ")
	args := []any{q.SiteID, q.DeviceID}
	for _, dp := range q.Datapoints {
		args = append(args, dp)
	}
	args = append(args, q.Start.UTC(), q.End.UTC())

	var query string
	if interval := q.Resample.Interval(); interval != "" {
		query = fmt.Sprintf(`
			SELECT time_bucket(INTERVAL '%s', timestamp) AS bucket,
			       device_id, datapoint, avg(value)
			FROM %s
			WHERE site_id = ?
			  AND device_id = ?
			  AND datapoint IN (%s)
			  AND timestamp >= ?
			  AND timestamp < ?
			GROUP BY ALL
			ORDER BY bucket, datapoint`, interval, table, placeholders)
	} else {
		query = fmt.Sprintf(`
			SELECT timestamp, device_id, datapoint, value
			FROM %s
			WHERE site_id = ?
			  AND device_id = ?
			  AND datapoint IN (%s)
			  AND timestamp >= ?
			  AND timestamp < ?
			ORDER BY timestamp, datapoint`, table, placeholders)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeseries: %w", err)
	}
	return scanRows(rows)
}

func (s *Store) Latest(ctx context.Context, q timeseries.LatestQuery) ([]timeseries.Row, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT ON (device_id, datapoint)
		       timestamp, device_id, datapoint, value
		FROM %s
		WHERE site_id = ?
		  AND timestamp >= ?
		ORDER BY device_id, datapoint, timestamp DESC`, table),
		q.SiteID, q.Since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query latest values: %w", err)
	}
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]timeseries.Row, error) {
	defer rows.Close()

	var out []timeseries.Row
	for rows.Next() {
		var (
			r     timeseries.Row
			value sql.NullFloat64
		)
		if err := rows.Scan(&r.Timestamp, &r.DeviceID, &r.Datapoint, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		if value.Valid {
			r.Value = timeseries.Float(value.Float64)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}
