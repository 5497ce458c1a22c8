package chart

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// Row is one flat data record: a timestamp string, an optional device_id and
// metric values, as exchanged with tools and templates.
type Row map[string]any

// Rows flattens records for charting. Timestamps are rendered in loc (UTC when
// nil) and unavailable values become nulls.
func Rows(records []timeseries.Record, loc *time.Location) []Row {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]Row, len(records))
	for i, r := range records {
		row := make(Row, len(r.Values)+2)
		for k, v := range r.Values {
			if v == nil {
				row[k] = nil
			} else {
				row[k] = *v
			}
		}
		row["timestamp"] = r.Timestamp.In(loc).Format(time.RFC3339)
		if r.DeviceID != "" {
			row["device_id"] = r.DeviceID
		}
		out[i] = row
	}
	return out
}

func column(rows []Row, field string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[field]
	}
	return out
}

// Number converts a JSON or Go numeric value. Strings holding numbers are
// accepted since models sometimes quote them.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
