package grouping

import (
	"maps"
	"slices"
	"strconv"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// Join merges series by timestamp into one record per instant, ascending. A
// metric name carried by more than one series is stored under
// "<device>_<metric>" for every series that carries it; series without a
// device id are named s0, s1 and so on by position.
func Join(series ...[]timeseries.Record) []timeseries.Record {
	owners := map[string]int{}
	for _, recs := range series {
		seen := map[string]bool{}
		for _, r := range recs {
			for k := range r.Values {
				if !seen[k] {
					seen[k] = true
					owners[k]++
				}
			}
		}
	}

	byTS := map[int64]*timeseries.Record{}
	for i, recs := range series {
		for _, r := range recs {
			name := r.DeviceID
			if name == "" {
				name = "s" + strconv.Itoa(i)
			}
			key := r.Timestamp.UnixNano()
			merged, ok := byTS[key]
			if !ok {
				merged = &timeseries.Record{Timestamp: r.Timestamp.UTC(), Values: map[string]*float64{}}
				byTS[key] = merged
			}
			for k, v := range r.Values {
				if owners[k] > 1 {
					k = name + "_" + k
				}
				merged.Values[k] = v
			}
		}
	}

	out := make([]timeseries.Record, 0, len(byTS))
	for _, key := range slices.Sorted(maps.Keys(byTS)) {
		out = append(out, *byTS[key])
	}
	return out
}

// Concat appends the series and orders the result by timestamp, keeping the
// device tag of each record. Records at the same instant keep input order.
func Concat(series ...[]timeseries.Record) []timeseries.Record {
	var out []timeseries.Record
	for _, recs := range series {
		out = append(out, recs...)
	}
	slices.SortStableFunc(out, func(a, b timeseries.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}
