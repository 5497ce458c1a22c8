// Package influx serves site telemetry kept in InfluxDB 3, queried over SQL.
// Points live in the aggregated_data measurement with site_id, device_id and
// datapoint tags and a value field.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const measurement = "aggregated_data"

// Client runs a SQL query and returns the rows as column maps.
type Client interface {
	QuerySQL(ctx context.Context, sqlQuery string) ([]map[string]any, error)
	Close() error
}

// SDKClient implements Client with the official InfluxDB 3 SDK.
type SDKClient struct {
	client *influxdb3.Client
}

func NewSDKClient(host, token, database string) (*SDKClient, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     host,
		Token:    token,
		Database: database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}
	return &SDKClient{client: client}, nil
}

func (c *SDKClient) QuerySQL(ctx context.Context, sqlQuery string) ([]map[string]any, error) {
	iterator, err := c.client.Query(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	var results []map[string]any
	for iterator.Next() {
		row := make(map[string]any)
		for k, v := range iterator.Value() {
			row[k] = v
		}
		results = append(results, row)
	}
	if err := iterator.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

func (c *SDKClient) Close() error {
	return c.client.Close()
}

type StoreConfig struct {
	Logger *slog.Logger
	Client Client
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("influxdb client is required")
	}
	return nil
}

type Store struct {
	log    *slog.Logger
	client Client
}

var _ timeseries.Store = (*Store)(nil)

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, client: cfg.Client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Fetch(ctx context.Context, q timeseries.FetchQuery) ([]timeseries.Row, error) {
	if len(q.Datapoints) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(q.Datapoints))
	for i, dp := range q.Datapoints {
		quoted[i] = literal(dp)
	}
	where := fmt.Sprintf(`site_id = %s AND device_id = %s AND datapoint IN (%s) AND time >= '%s' AND time < '%s'`,
		literal(q.SiteID), literal(q.DeviceID), strings.Join(quoted, ", "),
		q.Start.UTC().Format(time.RFC3339Nano), q.End.UTC().Format(time.RFC3339Nano))

	var sqlQuery string
	if interval := q.Resample.Interval(); interval != "" {
		sqlQuery = fmt.Sprintf(`
			SELECT date_bin(INTERVAL '%s', time) AS time, device_id, datapoint, avg(value) AS value
			FROM %q
			WHERE %s
			GROUP BY 1, device_id, datapoint
			ORDER BY 1`, interval, measurement, where)
	} else {
		sqlQuery = fmt.Sprintf(`
			SELECT time, device_id, datapoint, value
			FROM %q
			WHERE %s
			ORDER BY time`, measurement, where)
	}

	start := time.Now()
	rows, err := s.client.QuerySQL(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeseries: %w", err)
	}
	s.log.Debug("influx: fetch completed", "device_id", q.DeviceID, "rows", len(rows), "duration", time.Since(start).String())
	return convert(rows), nil
}

func (s *Store) Latest(ctx context.Context, q timeseries.LatestQuery) ([]timeseries.Row, error) {
	sqlQuery := fmt.Sprintf(`
		SELECT max(time) AS time, device_id, datapoint, last_value(value ORDER BY time) AS value
		FROM %q
		WHERE site_id = %s AND time >= '%s'
		GROUP BY device_id, datapoint
		ORDER BY device_id, datapoint`,
		measurement, literal(q.SiteID), q.Since.UTC().Format(time.RFC3339Nano))

	rows, err := s.client.QuerySQL(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest values: %w", err)
	}
	return convert(rows), nil
}

// literal quotes s as a SQL string literal.
func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// convert skips rows without a parseable time.
func convert(rows []map[string]any) []timeseries.Row {
	out := make([]timeseries.Row, 0, len(rows))
	for _, row := range rows {
		ts, ok := parseTime(row["time"])
		if !ok {
			continue
		}
		r := timeseries.Row{
			Timestamp: ts,
			DeviceID:  stringValue(row["device_id"]),
			Datapoint: stringValue(row["datapoint"]),
		}
		if v, ok := floatValue(row["value"]); ok {
			r.Value = timeseries.Float(v)
		}
		out = append(out, r)
	}
	return out
}

var timeFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		for _, layout := range timeFormats {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
