package timeseries

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks a store that could not be reached or is not configured
// for a site.
var ErrUnavailable = errors.New("time-series store unavailable")

// Row is one flat observation as returned by a store.
type Row struct {
	Timestamp time.Time
	DeviceID  string
	Datapoint string
	Value     *float64
}

// FetchQuery selects datapoints of one device over [Start, End). A non-empty
// Resample averages values into buckets of that width.
type FetchQuery struct {
	SiteID     string
	DeviceID   string
	Datapoints []string
	Start      time.Time
	End        time.Time
	Resample   Resample
}

// LatestQuery selects the most recent value of every device/datapoint observed
// at or after Since.
type LatestQuery struct {
	SiteID string
	Since  time.Time
}

// Store is a read-only time-series backend. Implementations must guarantee
// that no statement they issue can write.
type Store interface {
	Fetch(ctx context.Context, q FetchQuery) ([]Row, error)
	Latest(ctx context.Context, q LatestQuery) ([]Row, error)
}

// StoreProvider resolves the store holding a site's data.
type StoreProvider interface {
	Store(ctx context.Context, siteID string) (Store, error)
}

type staticProvider struct {
	store Store
}

// Static serves the same store for every site.
func Static(store Store) StoreProvider {
	return staticProvider{store: store}
}

func (p staticProvider) Store(context.Context, string) (Store, error) {
	if p.store == nil {
		return nil, ErrUnavailable
	}
	return p.store, nil
}

// Resample is a bucket width. The zero value means raw samples.
type Resample string

const (
	ResampleNone     Resample = ""
	Resample1Minute  Resample = "1m"
	Resample5Minute  Resample = "5m"
	Resample15Minute Resample = "15m"
	Resample30Minute Resample = "30m"
	Resample1Hour    Resample = "1h"
	Resample1Day     Resample = "1d"
)

var resampleDurations = map[Resample]time.Duration{
	Resample1Minute:  time.Minute,
	Resample5Minute:  5 * time.Minute,
	Resample15Minute: 15 * time.Minute,
	Resample30Minute: 30 * time.Minute,
	Resample1Hour:    time.Hour,
	Resample1Day:     24 * time.Hour,
}

func ParseResample(s string) (Resample, error) {
	if s == "" {
		return ResampleNone, nil
	}
	r := Resample(s)
	if _, ok := resampleDurations[r]; !ok {
		return "", fmt.Errorf("unsupported resample interval %q", s)
	}
	return r, nil
}

// Duration returns the bucket width, or 0 for raw samples.
func (r Resample) Duration() time.Duration {
	return resampleDurations[r]
}

// Interval renders the bucket width as a SQL interval literal body, e.g.
// "15 minutes".
func (r Resample) Interval() string {
	d := r.Duration()
	switch {
	case d == 0:
		return ""
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d day", int(d/(24*time.Hour)))
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hour", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d minute", int(d/time.Minute))
	}
}
