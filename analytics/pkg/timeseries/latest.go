package timeseries

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/altocentral/backend/analytics/pkg/metrics"
)

type LatestRequest struct {
	SiteID    string
	DeviceIDs []string

	// MaxAge limits how far back a value may be; defaults to one hour.
	MaxAge time.Duration
}

type LatestResult struct {
	Timestamp time.Time                      `json:"timestamp"`
	Devices   map[string]map[string]*float64 `json:"devices"`
	Err       error                          `json:"-"`
}

// Latest returns the most recent value of every datapoint per device. An empty
// DeviceIDs selects every device of the site.
func (a *Acquirer) Latest(ctx context.Context, req LatestRequest) LatestResult {
	now := a.Now()
	maxAge := req.MaxAge
	if maxAge <= 0 {
		maxAge = defaultLatestMaxAge
	}

	rows, err := a.latestRows(ctx, req.SiteID, now, maxAge)
	if err != nil {
		a.log.Warn("acquire: latest failed", "site_id", req.SiteID, "error", err)
		return LatestResult{Timestamp: now, Err: err}
	}

	devices := make(map[string]map[string]*float64)
	for _, row := range rows {
		if len(req.DeviceIDs) > 0 && !slices.Contains(req.DeviceIDs, row.DeviceID) {
			continue
		}
		if devices[row.DeviceID] == nil {
			devices[row.DeviceID] = make(map[string]*float64)
		}
		devices[row.DeviceID][row.Datapoint] = row.Value
	}
	return LatestResult{Timestamp: now, Devices: devices}
}

func (a *Acquirer) latestRows(ctx context.Context, siteID string, now time.Time, maxAge time.Duration) ([]Row, error) {
	key := latestCacheKey(siteID, maxAge)
	if a.latestCache != nil {
		if val, ok := a.latestCache.Get(key); ok {
			return val.([]Row), nil
		}
	}

	store, err := a.cfg.Stores.Store(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", siteID, err)
	}
	started := time.Now()
	rows, err := store.Latest(ctx, LatestQuery{SiteID: siteID, Since: now.Add(-maxAge)})
	metrics.StoreQueryDuration.WithLabelValues("latest").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.StoreQueriesTotal.WithLabelValues("latest", "error").Inc()
		return nil, fmt.Errorf("latest: %w", err)
	}
	metrics.StoreQueriesTotal.WithLabelValues("latest", "success").Inc()

	if a.latestCache != nil {
		a.latestCache.SetWithTTL(key, rows, 1, a.cfg.LatestCacheTTL)
		a.latestCache.Wait()
	}
	return rows, nil
}

func latestCacheKey(siteID string, maxAge time.Duration) string {
	return fmt.Sprintf("latest:%s:%d", siteID, int(maxAge.Minutes()))
}
