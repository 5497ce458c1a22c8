package chart

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/altocentral/backend/analytics/pkg/grouping"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// Series is one named set of points. Color is optional.
type Series struct {
	Name  string `json:"name"`
	X     []any  `json:"x"`
	Y     []any  `json:"y"`
	Color string `json:"color,omitempty"`
}

// SeriesFromGroups keeps group order and point order.
func SeriesFromGroups(groups []grouping.Group) []Series {
	out := make([]Series, len(groups))
	for i, g := range groups {
		s := Series{Name: g.Label, X: make([]any, len(g.Points)), Y: make([]any, len(g.Points))}
		for j, p := range g.Points {
			s.X[j] = p.X
			s.Y[j] = p.Y
		}
		out[i] = s
	}
	return out
}

func checkSeries(kind string, series []Series) error {
	if len(series) == 0 {
		return fmt.Errorf("%s: %w: traces", kind, ErrMissingField)
	}
	seen := map[string]bool{}
	for i, s := range series {
		if s.Name == "" {
			return fmt.Errorf("%s: %w: name of trace %d", kind, ErrMissingField, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%s: duplicate trace name %q", kind, s.Name)
		}
		seen[s.Name] = true
		if len(s.X) != len(s.Y) {
			return fmt.Errorf("%s: trace %q has %d x values and %d y values", kind, s.Name, len(s.X), len(s.Y))
		}
	}
	return nil
}

type MultiTraceOptions struct {
	Title  string
	XLabel string
	YLabel string

	// Zero values select size 6 and opacity 0.7.
	MarkerSize    int
	MarkerOpacity float64
}

// MultiTrace plots each series as its own labeled point cloud on shared axes.
// Series without a color take the categorical palette by index.
func MultiTrace(series []Series, opts MultiTraceOptions) (*Spec, error) {
	if err := checkSeries("multi-trace scatter", series); err != nil {
		return nil, err
	}
	size := opts.MarkerSize
	if size <= 0 {
		size = 6
	}
	opacity := opts.MarkerOpacity
	if opacity <= 0 {
		opacity = 0.7
	}
	traces := make([]Trace, len(series))
	for i, s := range series {
		traces[i] = Trace{
			Type:   "scatter",
			Mode:   "markers",
			Name:   s.Name,
			X:      s.X,
			Y:      s.Y,
			Marker: &Marker{Size: size, Opacity: opacity, Color: orDefault(s.Color, color(Categorical, i))},
		}
	}
	return &Spec{Data: traces, Layout: groupLayout(opts.Title, opts.XLabel, opts.YLabel)}, nil
}

// MultiLine plots each series as a line over a shared date axis.
func MultiLine(series []Series, title, yLabel string) (*Spec, error) {
	if err := checkSeries("multi-line chart", series); err != nil {
		return nil, err
	}
	traces := make([]Trace, len(series))
	for i, s := range series {
		traces[i] = Trace{
			Type: "scatter",
			Mode: "lines",
			Name: s.Name,
			X:    s.X,
			Y:    s.Y,
			Line: &LineStyle{Color: orDefault(s.Color, color(Palette, i)), Width: 2},
		}
	}
	layout := groupLayout(title, "Time", yLabel)
	layout.XAxis.Type = "date"
	layout.HoverMode = "x unified"
	return &Spec{Data: traces, Layout: layout}, nil
}

// Period is the hour-of-day profile of one comparison period.
type Period struct {
	Label  string
	Hours  []int
	Values []float64
}

// HourlyProfile averages metric per local hour of day across records, rounded
// to three decimals. Hours without values are omitted.
func HourlyProfile(label string, records []timeseries.Record, metric string, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	sums := map[int]float64{}
	counts := map[int]int{}
	for _, r := range records {
		v, ok := r.Value(metric)
		if !ok {
			continue
		}
		h := r.Timestamp.In(loc).Hour()
		sums[h] += v
		counts[h]++
	}
	p := Period{Label: label}
	for _, h := range slices.Sorted(maps.Keys(sums)) {
		p.Hours = append(p.Hours, h)
		p.Values = append(p.Values, math.Round(sums[h]/float64(counts[h])*1000)/1000)
	}
	return p
}

// PeriodComparison overlays hour-of-day profiles, one line per period.
func PeriodComparison(periods []Period, title, yLabel string) (*Spec, error) {
	if len(periods) == 0 {
		return nil, fmt.Errorf("period comparison: %w: periods", ErrMissingField)
	}
	traces := make([]Trace, len(periods))
	for i, p := range periods {
		if len(p.Hours) != len(p.Values) {
			return nil, fmt.Errorf("period comparison: period %q has %d hours and %d values", p.Label, len(p.Hours), len(p.Values))
		}
		t := Trace{
			Type:   "scatter",
			Mode:   "lines+markers",
			Name:   p.Label,
			X:      make([]any, len(p.Hours)),
			Y:      make([]any, len(p.Values)),
			Line:   &LineStyle{Width: 2, Color: color(Categorical[:5], i)},
			Marker: &Marker{Size: 6},
		}
		for j := range p.Hours {
			t.X[j] = p.Hours[j]
			t.Y[j] = p.Values[j]
		}
		traces[i] = t
	}
	return &Spec{
		Data: traces,
		Layout: Layout{
			Title: &Title{Text: title, X: 0.5},
			XAxis: &Axis{
				Title:    "Hour of Day",
				TickMode: "linear",
				Tick0:    ptr(0.0),
				DTick:    ptr(2.0),
				Range:    []float64{-0.5, 23.5},
			},
			YAxis:     &Axis{Title: yLabel},
			HoverMode: "x unified",
			Legend:    &Legend{Orientation: "h", Y: -0.15},
		},
	}, nil
}

// Point is one plotted (label, x, y) tuple.
type Point struct {
	Label string
	X, Y  any
}

// Flatten lists every point of spec as (trace name, x, y), trace by trace in
// order.
func Flatten(spec *Spec) []Point {
	var out []Point
	for _, t := range spec.Data {
		n := min(len(t.X), len(t.Y))
		for i := range n {
			out = append(out, Point{Label: t.Name, X: t.X[i], Y: t.Y[i]})
		}
	}
	return out
}
