package timeseries

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/logger"
)

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	if testing.Verbose() {
		return logger.NewWithWriter(os.Stderr, true)
	}
	return logger.Discard()
}

// fakeStore serves fixed rows, filtering them the way a real store would.
type fakeStore struct {
	rows      []Row
	latest    []Row
	fetchErr  map[string]error
	latestErr error

	mu          sync.Mutex
	queries     []FetchQuery
	latestCalls atomic.Int32
}

func (s *fakeStore) Fetch(_ context.Context, q FetchQuery) ([]Row, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()

	if err := s.fetchErr[q.DeviceID]; err != nil {
		return nil, err
	}
	var out []Row
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

func (s *fakeStore) Latest(context.Context, LatestQuery) ([]Row, error) {
	s.latestCalls.Add(1)
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	return s.latest, nil
}

func (s *fakeStore) lastQuery() FetchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[len(s.queries)-1]
}

func newTestAcquirer(t *testing.T, store Store) *Acquirer {
	t.Helper()
	a, err := NewAcquirer(&AcquirerConfig{
		Logger: testLogger(t),
		Stores: Static(store),
		Clock:  clockwork.NewFakeClockAt(testNow),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

// series builds one row per value, an hour apart, ending an hour before testNow.
func series(device, datapoint string, values ...float64) []Row {
	start := testNow.Add(-time.Duration(len(values)) * time.Hour)
	rows := make([]Row, 0, len(values))
	for i, v := range values {
		rows = append(rows, Row{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			DeviceID:  device,
			Datapoint: datapoint,
			Value:     Float(v),
		})
	}
	return rows
}
