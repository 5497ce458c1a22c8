package timeseries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/jonboulle/clockwork"

	"github.com/altocentral/backend/analytics/pkg/bounds"
	"github.com/altocentral/backend/analytics/pkg/metrics"
)

const (
	defaultMaxConcurrency = 8
	defaultLatestCacheTTL = 30 * time.Second
	defaultLatestMaxAge   = 60 * time.Minute
	defaultBatchResample  = Resample15Minute

	loadMetric = "cooling_rate"
)

type AcquirerConfig struct {
	Logger *slog.Logger
	Stores StoreProvider
	Clock  clockwork.Clock

	// MaxConcurrency bounds the per-device fan-out of batch queries.
	MaxConcurrency int

	// LatestCacheTTL is how long realtime snapshots are reused. Negative
	// disables the cache.
	LatestCacheTTL time.Duration
}

func (cfg *AcquirerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Stores == nil {
		return errors.New("store provider is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.MaxConcurrency < 0 {
		return errors.New("max concurrency must be greater than 0")
	}
	if cfg.LatestCacheTTL == 0 {
		cfg.LatestCacheTTL = defaultLatestCacheTTL
	}
	return nil
}

// Acquirer runs queries against the site stores and cleans the results.
type Acquirer struct {
	log         *slog.Logger
	cfg         *AcquirerConfig
	batchPool   pond.ResultPool[Result]
	latestCache *ristretto.Cache
}

func NewAcquirer(cfg *AcquirerConfig) (*Acquirer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Acquirer{
		log:       cfg.Logger,
		cfg:       cfg,
		batchPool: pond.NewResultPool[Result](cfg.MaxConcurrency),
	}
	if cfg.LatestCacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        10_000,
			MaxCost:            1_000,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create latest cache: %w", err)
		}
		a.latestCache = cache
	}
	return a, nil
}

// Close stops the batch worker pool.
func (a *Acquirer) Close() {
	a.batchPool.StopAndWait()
	if a.latestCache != nil {
		a.latestCache.Close()
	}
}

func (a *Acquirer) Now() time.Time {
	return a.cfg.Clock.Now().UTC()
}

// QueryRequest describes one device query. Start and End accept the forms
// understood by ParseTime and default to "7d" and "now".
type QueryRequest struct {
	SiteID     string
	DeviceID   string
	Datapoints []string
	Start      string
	End        string
	Resample   Resample

	// MinLoad drops records whose cooling_rate is below the floor. It only
	// applies when cooling_rate is requested and runs before outlier filtering.
	MinLoad *float64

	SkipOutlierFilter bool
	Method            bounds.Method
	IQRMultiplier     float64
}

type FilterStats struct {
	MinLoad          *float64 `json:"min_load_filter,omitempty"`
	RemovedByMinLoad *int     `json:"removed_by_min_load,omitempty"`
	*bounds.Stats
}

// Result is the outcome of a query. When Err is set the remaining fields other
// than DeviceID and Datapoints are zero.
type Result struct {
	DeviceID    string       `json:"device_id"`
	Datapoints  []string     `json:"datapoints"`
	Start       time.Time    `json:"start_time"`
	End         time.Time    `json:"end_time"`
	RowCount    int          `json:"row_count"`
	Records     []Record     `json:"data"`
	FilterStats *FilterStats `json:"filter_stats,omitempty"`
	Err         error        `json:"-"`
}

// Query fetches, pivots and cleans one device series. Failures are reported in
// Result.Err rather than returned.
func (a *Acquirer) Query(ctx context.Context, req QueryRequest) Result {
	res := Result{DeviceID: req.DeviceID, Datapoints: req.Datapoints}

	start, end, err := ParseWindow(req.Start, req.End, a.Now())
	if err != nil {
		res.Err = err
		return res
	}
	if len(req.Datapoints) == 0 {
		res.Err = errors.New("at least one datapoint is required")
		return res
	}

	rows, err := a.fetch(ctx, FetchQuery{
		SiteID:     req.SiteID,
		DeviceID:   req.DeviceID,
		Datapoints: req.Datapoints,
		Start:      start,
		End:        end,
		Resample:   req.Resample,
	})
	if err != nil {
		a.log.Warn("acquire: query failed", "site_id", req.SiteID, "device_id", req.DeviceID, "error", err)
		res.Err = err
		return res
	}

	records := Pivot(rows)
	var stats *FilterStats

	if req.MinLoad != nil && slices.Contains(req.Datapoints, loadMetric) {
		before := len(records)
		records = slices.DeleteFunc(records, func(r Record) bool {
			v, _ := r.Value(loadMetric)
			return v < *req.MinLoad
		})
		removed := before - len(records)
		stats = &FilterStats{MinLoad: req.MinLoad, RemovedByMinLoad: &removed}
	}

	if !req.SkipOutlierFilter && len(records) > 0 {
		kept, outlierStats := bounds.Filter(records, req.Datapoints, bounds.Options{
			Method:        req.Method,
			IQRMultiplier: req.IQRMultiplier,
		})
		records = kept
		if stats == nil {
			stats = &FilterStats{}
		}
		stats.Stats = &outlierStats
	}

	res.Start = start
	res.End = end
	res.Records = records
	res.RowCount = len(records)
	res.FilterStats = stats
	return res
}

func (a *Acquirer) fetch(ctx context.Context, q FetchQuery) ([]Row, error) {
	store, err := a.cfg.Stores.Store(ctx, q.SiteID)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", q.SiteID, err)
	}
	started := time.Now()
	rows, err := store.Fetch(ctx, q)
	metrics.StoreQueryDuration.WithLabelValues("fetch").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.StoreQueriesTotal.WithLabelValues("fetch", "error").Inc()
		return nil, fmt.Errorf("fetch %s: %w", q.DeviceID, err)
	}
	metrics.StoreQueriesTotal.WithLabelValues("fetch", "success").Inc()
	return rows, nil
}
