package bounds

import (
	"math"
)

// Valuer is the minimal view of a record the filter needs. ok is false when the
// metric is absent or null in the record.
type Valuer interface {
	Value(metric string) (float64, bool)
}

type Options struct {
	Method        Method
	IQRMultiplier float64
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = MethodBoth
	}
	if o.IQRMultiplier == 0 {
		o.IQRMultiplier = DefaultIQRMultiplier
	}
	return o
}

// Stats reports what a filter pass did.
type Stats struct {
	OriginalCount int              `json:"original_count"`
	FilteredCount int              `json:"filtered_count"`
	RemovedCount  int              `json:"removed_count"`
	Bounds        map[string]Bound `json:"bounds"`
}

// Compute derives the combined bound of every requested metric that has at
// least one value in records.
func Compute[R Valuer](records []R, metrics []string, opts Options) map[string]Bound {
	opts = opts.withDefaults()
	out := make(map[string]Bound, len(metrics))
	for _, m := range metrics {
		values := make([]float64, 0, len(records))
		for _, r := range records {
			if v, ok := r.Value(m); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		if b, ok := Combine(m, values, opts.Method, opts.IQRMultiplier); ok {
			out[m] = b
		}
	}
	return out
}

// Apply keeps the records whose every bounded metric lies inside its bound.
// Metrics missing from a record are not checked; a record is never partially
// trimmed.
func Apply[R Valuer](records []R, bounds map[string]Bound) []R {
	kept := make([]R, 0, len(records))
	for _, r := range records {
		if within(r, bounds) {
			kept = append(kept, r)
		}
	}
	return kept
}

func within[R Valuer](r R, bounds map[string]Bound) bool {
	for m, b := range bounds {
		v, ok := r.Value(m)
		if !ok {
			continue
		}
		if !b.Contains(v) {
			return false
		}
	}
	return true
}

// Filter computes bounds over records and applies them.
func Filter[R Valuer](records []R, metrics []string, opts Options) ([]R, Stats) {
	stats := Stats{
		OriginalCount: len(records),
		Bounds:        map[string]Bound{},
	}
	if len(records) == 0 {
		return records, stats
	}

	computed := Compute(records, metrics, opts)
	kept := Apply(records, computed)

	for m, b := range computed {
		stats.Bounds[m] = Bound{Lower: round(b.Lower, 2), Upper: round(b.Upper, 2)}
	}
	stats.FilteredCount = len(kept)
	stats.RemovedCount = len(records) - len(kept)
	return kept, stats
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
