package grouping

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// maxChillers is how many chiller_N devices are checked for
// num_chillers_running.
const maxChillers = 8

// HourWindow keeps instants whose local hour h satisfies Start <= h < End.
type HourWindow struct {
	Start *int `json:"start,omitempty" yaml:"start,omitempty"`
	End   *int `json:"end,omitempty" yaml:"end,omitempty"`
}

func (w HourWindow) bounds() (int, int) {
	start, end := 0, 24
	if w.Start != nil {
		start = *w.Start
	}
	if w.End != nil {
		end = *w.End
	}
	return start, end
}

// Filters gate records on equipment state, load and time of day. Every set
// clause must hold for a record to be kept.
type Filters struct {
	OnlyRunning        []string    `json:"only_running,omitempty" yaml:"only_running,omitempty"`
	NotRunning         []string    `json:"not_running,omitempty" yaml:"not_running,omitempty"`
	NumChillersRunning *int        `json:"num_chillers_running,omitempty" yaml:"num_chillers_running,omitempty"`
	MinCoolingLoad     *float64    `json:"min_cooling_load,omitempty" yaml:"min_cooling_load,omitempty"`
	TimeOfDay          *HourWindow `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`
}

func (f Filters) Empty() bool {
	return len(f.OnlyRunning) == 0 && len(f.NotRunning) == 0 &&
		f.NumChillersRunning == nil && f.MinCoolingLoad == nil && f.TimeOfDay == nil
}

// StatusDevices lists the devices whose status the filters read, sorted.
func (f Filters) StatusDevices() []string {
	set := map[string]bool{}
	for _, d := range f.OnlyRunning {
		set[d] = true
	}
	for _, d := range f.NotRunning {
		set[d] = true
	}
	if f.NumChillersRunning != nil {
		for i := 1; i <= maxChillers; i++ {
			set[chillerPrefix+strconv.Itoa(i)] = true
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Apply returns the records passing every clause. Hours are taken in loc; a
// nil loc means UTC.
func (f Filters) Apply(records []timeseries.Record, status StatusMap, loc *time.Location) []timeseries.Record {
	if f.Empty() {
		return records
	}
	if loc == nil {
		loc = time.UTC
	}
	out := make([]timeseries.Record, 0, len(records))
	for _, r := range records {
		if f.keep(r, status, loc) {
			out = append(out, r)
		}
	}
	return out
}

func (f Filters) keep(r timeseries.Record, status StatusMap, loc *time.Location) bool {
	for _, d := range f.OnlyRunning {
		if !status.IsRunning(r.Timestamp, d) {
			return false
		}
	}
	for _, d := range f.NotRunning {
		if status.IsRunning(r.Timestamp, d) {
			return false
		}
	}
	if f.NumChillersRunning != nil && status.RunningChillers(r.Timestamp) != *f.NumChillersRunning {
		return false
	}
	if f.MinCoolingLoad != nil {
		load, _ := r.Value("cooling_rate")
		if load < *f.MinCoolingLoad {
			return false
		}
	}
	if f.TimeOfDay != nil {
		start, end := f.TimeOfDay.bounds()
		if h := r.Timestamp.In(loc).Hour(); h < start || h >= end {
			return false
		}
	}
	return true
}

// Op is a template data filter comparison.
type Op string

const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
)

// Condition compares one record field against a value. in and not_in take a
// list of numbers; the other operators take one number.
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator Op     `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

func (c Condition) Validate() error {
	if c.Field == "" {
		return errors.New("filter field is required")
	}
	switch c.Operator {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if _, ok := toFloat(c.Value); !ok {
			return fmt.Errorf("filter %s %s: value must be a number", c.Field, c.Operator)
		}
	case OpIn, OpNotIn:
		if _, ok := toFloats(c.Value); !ok {
			return fmt.Errorf("filter %s %s: value must be a list of numbers", c.Field, c.Operator)
		}
	default:
		return fmt.Errorf("filter %s: unsupported operator %q", c.Field, c.Operator)
	}
	return nil
}

// Match reports whether r satisfies c. A missing or unavailable field never
// matches.
func (c Condition) Match(r timeseries.Record) bool {
	v, ok := r.Value(c.Field)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpIn, OpNotIn:
		list, _ := toFloats(c.Value)
		return slices.Contains(list, v) == (c.Operator == OpIn)
	}
	want, ok := toFloat(c.Value)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpEq:
		return v == want
	case OpNe:
		return v != want
	case OpGt:
		return v > want
	case OpGte:
		return v >= want
	case OpLt:
		return v < want
	case OpLte:
		return v <= want
	}
	return false
}

// ApplyConditions keeps the records matching every condition.
func ApplyConditions(records []timeseries.Record, conds []Condition) ([]timeseries.Record, error) {
	if len(conds) == 0 {
		return records, nil
	}
	for _, c := range conds {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	out := make([]timeseries.Record, 0, len(records))
	for _, r := range records {
		if matchAll(r, conds) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchAll(r timeseries.Record, conds []Condition) bool {
	for _, c := range conds {
		if !c.Match(r) {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toFloats(v any) ([]float64, bool) {
	var items []any
	switch l := v.(type) {
	case []any:
		items = l
	case []float64:
		return l, true
	case []int:
		out := make([]float64, len(l))
		for i, n := range l {
			out[i] = float64(n)
		}
		return out, true
	default:
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
