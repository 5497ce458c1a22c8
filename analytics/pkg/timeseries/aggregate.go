package timeseries

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"
)

type GroupBy string

const (
	GroupByHour      GroupBy = "hour"
	GroupByHourOfDay GroupBy = "hour_of_day"
	GroupByDay       GroupBy = "day"
	GroupByWeek      GroupBy = "week"
	GroupByMonth     GroupBy = "month"
)

type Aggregation string

const (
	AggregationAvg   Aggregation = "avg"
	AggregationSum   Aggregation = "sum"
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
	AggregationCount Aggregation = "count"
)

type AggregateRequest struct {
	SiteID      string
	DeviceID    string
	Datapoint   string
	Start       string
	End         string
	Aggregation Aggregation
	GroupBy     GroupBy
}

type AggregateResult struct {
	DeviceID    string           `json:"device_id"`
	Datapoint   string           `json:"datapoint"`
	Aggregation Aggregation      `json:"aggregation"`
	GroupBy     GroupBy          `json:"group_by"`
	RowCount    int              `json:"row_count"`
	Data        []map[string]any `json:"data"`
	Err         error            `json:"-"`
}

// bucket is a sortable group key; fields unused by a grouping stay zero.
type bucket struct {
	unix  int64
	year  int
	month int
	week  int
	hour  int
}

func (b bucket) compare(o bucket) int {
	return cmp.Or(
		cmp.Compare(b.unix, o.unix),
		cmp.Compare(b.year, o.year),
		cmp.Compare(b.month, o.month),
		cmp.Compare(b.week, o.week),
		cmp.Compare(b.hour, o.hour),
	)
}

// Aggregate groups one datapoint into calendar buckets and reduces each bucket.
// Hourly and daily groupings read hourly averages; coarser groupings read raw
// samples. Unknown aggregations fall back to avg.
func (a *Acquirer) Aggregate(ctx context.Context, req AggregateRequest) AggregateResult {
	res := AggregateResult{
		DeviceID:    req.DeviceID,
		Datapoint:   req.Datapoint,
		Aggregation: req.Aggregation,
		GroupBy:     req.GroupBy,
		Data:        []map[string]any{},
	}

	keyOf, err := bucketFunc(req.GroupBy)
	if err != nil {
		res.Err = err
		return res
	}

	start, end, err := ParseWindow(req.Start, req.End, a.Now())
	if err != nil {
		res.Err = err
		return res
	}

	resample := ResampleNone
	switch req.GroupBy {
	case GroupByHour, GroupByHourOfDay, GroupByDay:
		resample = Resample1Hour
	}

	rows, err := a.fetch(ctx, FetchQuery{
		SiteID:     req.SiteID,
		DeviceID:   req.DeviceID,
		Datapoints: []string{req.Datapoint},
		Start:      start,
		End:        end,
		Resample:   resample,
	})
	if err != nil {
		res.Err = err
		return res
	}

	groups := make(map[bucket][]float64)
	for _, row := range rows {
		if row.Value == nil {
			continue
		}
		k := keyOf(row.Timestamp.UTC())
		groups[k] = append(groups[k], *row.Value)
	}

	keys := make([]bucket, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, bucket.compare)

	reduce := reducer(req.Aggregation)
	for _, k := range keys {
		value := roundTo(reduce(groups[k]), 2)
		res.Data = append(res.Data, bucketRow(req.GroupBy, k, value))
	}
	res.RowCount = len(res.Data)
	return res
}

func bucketFunc(g GroupBy) (func(time.Time) bucket, error) {
	switch g {
	case GroupByHourOfDay:
		return func(t time.Time) bucket { return bucket{hour: t.Hour()} }, nil
	case GroupByHour:
		return func(t time.Time) bucket { return bucket{unix: t.Truncate(time.Hour).Unix()} }, nil
	case GroupByDay:
		return func(t time.Time) bucket {
			return bucket{unix: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()}
		}, nil
	case GroupByWeek:
		return func(t time.Time) bucket {
			y, w := t.ISOWeek()
			return bucket{year: y, week: w}
		}, nil
	case GroupByMonth:
		return func(t time.Time) bucket { return bucket{year: t.Year(), month: int(t.Month())} }, nil
	}
	return nil, fmt.Errorf("unsupported group_by %q", g)
}

func bucketRow(g GroupBy, k bucket, value float64) map[string]any {
	switch g {
	case GroupByHourOfDay:
		return map[string]any{"hour": k.hour, "value": value}
	case GroupByHour:
		return map[string]any{"timestamp": time.Unix(k.unix, 0).UTC().Format(time.RFC3339), "value": value}
	case GroupByDay:
		return map[string]any{"date": time.Unix(k.unix, 0).UTC().Format(time.DateOnly), "value": value}
	case GroupByWeek:
		return map[string]any{"year": k.year, "week": k.week, "value": value}
	default:
		return map[string]any{"year": k.year, "month": k.month, "value": value}
	}
}

func reducer(agg Aggregation) func([]float64) float64 {
	switch agg {
	case AggregationSum:
		return sum
	case AggregationMin:
		return slices.Min[[]float64]
	case AggregationMax:
		return slices.Max[[]float64]
	case AggregationCount:
		return func(v []float64) float64 { return float64(len(v)) }
	default:
		return func(v []float64) float64 { return sum(v) / float64(len(v)) }
	}
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
