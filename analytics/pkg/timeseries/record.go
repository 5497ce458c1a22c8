// Package timeseries acquires HVAC sensor series from a time-series store and
// turns flat (timestamp, device, datapoint, value) rows into cleaned
// per-timestamp records.
package timeseries

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Record holds every requested datapoint observed at one instant. A key mapped
// to nil is present but unavailable; an absent key was not observed.
type Record struct {
	Timestamp time.Time
	DeviceID  string
	Values    map[string]*float64
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func (r Record) Value(metric string) (float64, bool) {
	v, ok := r.Values[metric]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

func (r Record) Has(metric string) bool {
	_, ok := r.Values[metric]
	return ok
}

// With returns a copy of r with name set to v. The receiver is not modified.
func (r Record) With(name string, v *float64) Record {
	values := make(map[string]*float64, len(r.Values)+1)
	maps.Copy(values, r.Values)
	values[name] = v
	r.Values = values
	return r
}

// Metrics returns the datapoint names present in r, sorted.
func (r Record) Metrics() []string {
	return slices.Sorted(maps.Keys(r.Values))
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Values)+2)
	for k, v := range r.Values {
		out[k] = v
	}
	out["timestamp"] = r.Timestamp.Format(time.RFC3339)
	if r.DeviceID != "" {
		out["device_id"] = r.DeviceID
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := Record{Values: make(map[string]*float64, len(raw))}
	for k, v := range raw {
		switch k {
		case "timestamp":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return err
			}
			rec.Timestamp = ts
		case "device_id":
			if err := json.Unmarshal(v, &rec.DeviceID); err != nil {
				return err
			}
		default:
			var f *float64
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			rec.Values[k] = f
		}
	}
	*r = rec
	return nil
}

// Pivot folds flat rows into one record per timestamp, ascending. Rows for a
// datapoint not present at a timestamp leave the record partial.
func Pivot(rows []Row) []Record {
	byTS := make(map[int64]*Record)
	for _, row := range rows {
		key := row.Timestamp.UnixNano()
		rec, ok := byTS[key]
		if !ok {
			rec = &Record{Timestamp: row.Timestamp.UTC(), Values: map[string]*float64{}}
			byTS[key] = rec
		}
		rec.Values[row.Datapoint] = row.Value
	}

	out := make([]Record, 0, len(byTS))
	for _, key := range slices.Sorted(maps.Keys(byTS)) {
		out = append(out, *byTS[key])
	}
	return out
}
