package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/agent/react"
	"github.com/altocentral/backend/analytics/pkg/logger"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	if testing.Verbose() {
		return logger.NewWithWriter(os.Stderr, true)
	}
	return logger.Discard()
}

// fakeStore serves fixed rows on whatever grid they were written on; it does
// not resample.
type fakeStore struct {
	rows   []timeseries.Row
	latest []timeseries.Row

	mu      sync.Mutex
	queries []timeseries.FetchQuery
}

func (s *fakeStore) Fetch(_ context.Context, q timeseries.FetchQuery) ([]timeseries.Row, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()

	var out []timeseries.Row
	for _, r := range s.rows {
		if r.DeviceID != q.DeviceID || !slices.Contains(q.Datapoints, r.Datapoint) {
			continue
		}
		if r.Timestamp.Before(q.Start) || !r.Timestamp.Before(q.End) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) Latest(context.Context, timeseries.LatestQuery) ([]timeseries.Row, error) {
	return s.latest, nil
}

func (s *fakeStore) devicesQueried() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, q := range s.queries {
		if !slices.Contains(out, q.DeviceID) {
			out = append(out, q.DeviceID)
		}
	}
	return out
}

// hourly adds one row per hour over the n hours before testNow, valued by fn.
func (s *fakeStore) hourly(device, datapoint string, n int, fn func(i int, ts time.Time) float64) {
	for i := range n {
		ts := testNow.Add(-time.Duration(n-i) * time.Hour)
		v := fn(i, ts)
		s.rows = append(s.rows, timeseries.Row{Timestamp: ts, DeviceID: device, Datapoint: datapoint, Value: &v})
	}
}

func newTestAcquirer(t *testing.T, store timeseries.Store) *timeseries.Acquirer {
	t.Helper()
	a, err := timeseries.NewAcquirer(&timeseries.AcquirerConfig{
		Logger: testLogger(t),
		Stores: timeseries.Static(store),
		Clock:  clockwork.NewFakeClockAt(testNow),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

// call runs a tool and fails the test if it reports an error.
func call(t *testing.T, client react.ToolClient, name string, args map[string]any) string {
	t.Helper()
	out, isErr, err := client.CallToolText(t.Context(), name, args)
	require.NoError(t, err)
	require.False(t, isErr, out)
	return out
}

// callErr runs a tool that is expected to fail and returns its error text.
func callErr(t *testing.T, client react.ToolClient, name string, args map[string]any) string {
	t.Helper()
	out, isErr, err := client.CallToolText(t.Context(), name, args)
	require.NoError(t, err)
	require.True(t, isErr, out)
	return out
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}
