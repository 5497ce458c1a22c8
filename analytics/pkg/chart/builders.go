package chart

import (
	"fmt"
)

// LineStyle overrides the default look of one line series.
type LineStyle struct {
	Color string `json:"color,omitempty"`
	Width int    `json:"width,omitempty"`
	Dash  string `json:"dash,omitempty"`
}

type LineOptions struct {
	XField      string
	YFields     []string
	Title       string
	XLabel      string
	YLabel      string
	SeriesNames []string
	Styles      []LineStyle
}

// Line plots one series per y field against a shared x axis.
func Line(rows []Row, opts LineOptions) (*Spec, error) {
	if opts.XField == "" {
		return nil, fmt.Errorf("line chart: %w: x_field", ErrMissingField)
	}
	if len(opts.YFields) == 0 {
		return nil, fmt.Errorf("line chart: %w: y_fields", ErrMissingField)
	}
	xLabel, yLabel := orDefault(opts.XLabel, "Time"), orDefault(opts.YLabel, "Value")

	x := column(rows, opts.XField)
	traces := make([]Trace, 0, len(opts.YFields))
	for i, field := range opts.YFields {
		line := &LineStyle{Color: color(Palette, i), Width: 2}
		if i < len(opts.Styles) {
			s := opts.Styles[i]
			if s.Color != "" {
				line.Color = s.Color
			}
			if s.Width > 0 {
				line.Width = s.Width
			}
			line.Dash = s.Dash
		}
		traces = append(traces, Trace{
			Type: "scatter",
			Mode: "lines",
			Name: nameAt(opts.SeriesNames, i, field),
			X:    x,
			Y:    column(rows, field),
			Line: line,
		})
	}

	layout := defaultLayout(opts.Title, xLabel, yLabel)
	layout.XAxis.Type = axisType(opts.XField)
	return &Spec{Data: traces, Layout: layout}, nil
}

type ScatterOptions struct {
	XField     string
	YField     string
	Title      string
	XLabel     string
	YLabel     string
	ColorField string
	ColorLabel string
	SizeField  string

	// Zero values select size 6, opacity 0.7 and the Viridis colorscale.
	MarkerSize    int
	MarkerOpacity float64
	Colorscale    string

	Trendline bool
}

// Scatter plots a single point cloud, optionally colored or sized by further
// fields and with a least-squares trend line.
func Scatter(rows []Row, opts ScatterOptions) (*Spec, error) {
	if opts.XField == "" || opts.YField == "" {
		return nil, fmt.Errorf("scatter chart: %w: x_field and y_field", ErrMissingField)
	}
	size := opts.MarkerSize
	if size <= 0 {
		size = 6
	}
	opacity := opts.MarkerOpacity
	if opacity <= 0 {
		opacity = 0.7
	}

	x, y := column(rows, opts.XField), column(rows, opts.YField)
	marker := &Marker{Size: size, Opacity: opacity, Color: Palette[0]}
	if opts.ColorField != "" {
		marker.Color = column(rows, opts.ColorField)
		marker.Colorscale = orDefault(opts.Colorscale, "Viridis")
		marker.Colorbar = &Colorbar{Title: orDefault(opts.ColorLabel, Humanize(opts.ColorField))}
	}
	if opts.SizeField != "" {
		sizes := make([]any, len(rows))
		maxSize := 0.0
		for i, r := range rows {
			v, ok := r[opts.SizeField]
			if !ok {
				v = size
			}
			sizes[i] = v
			if f, ok := Number(v); ok && f > maxSize {
				maxSize = f
			}
		}
		marker.Size = sizes
		marker.SizeMode = "diameter"
		marker.SizeRef = 1
		if maxSize > 0 {
			marker.SizeRef = maxSize / 20
		}
	}

	traces := []Trace{{
		Type:   "scatter",
		Mode:   "markers",
		Name:   "Data Points",
		X:      x,
		Y:      y,
		Marker: marker,
	}}
	if opts.Trendline {
		if t, ok := trend(x, y); ok {
			traces = append(traces, t)
		}
	}
	layout := defaultLayout(opts.Title, opts.XLabel, opts.YLabel)
	if isDateAxis(opts.XField, x) {
		layout.XAxis.Type = "date"
	}
	return &Spec{Data: traces, Layout: layout}, nil
}

// trend fits y = a·x + b over the complete numeric pairs. It needs at least
// two pairs with distinct x values.
func trend(x, y []any) (Trace, bool) {
	var xs, ys []float64
	for i := range x {
		xv, okX := Number(x[i])
		yv, okY := Number(y[i])
		if okX && okY {
			xs = append(xs, xv)
			ys = append(ys, yv)
		}
	}
	n := float64(len(xs))
	if len(xs) < 2 {
		return Trace{}, false
	}
	var sx, sy, sxx, sxy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		sxy += xs[i] * ys[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return Trace{}, false
	}
	slope := (n*sxy - sx*sy) / den
	intercept := (sy - slope*sx) / n

	tx := make([]any, len(xs))
	ty := make([]any, len(xs))
	for i, v := range xs {
		tx[i] = v
		ty[i] = slope*v + intercept
	}
	return Trace{
		Type: "scatter",
		Mode: "lines",
		Name: "Trend",
		X:    tx,
		Y:    ty,
		Line: &LineStyle{Color: trendColor, Width: 2, Dash: "dash"},
	}, true
}

type BarOptions struct {
	XField string
	YField string
	Title  string
	XLabel string
	YLabel string

	// Orientation is "v" (default) or "h".
	Orientation string
	Color       string
	BarWidth    float64
}

// Bar plots one value per category.
func Bar(rows []Row, opts BarOptions) (*Spec, error) {
	if opts.XField == "" || opts.YField == "" {
		return nil, fmt.Errorf("bar chart: %w: x_field and y_field", ErrMissingField)
	}
	orientation := orDefault(opts.Orientation, "v")
	if orientation != "v" && orientation != "h" {
		return nil, fmt.Errorf("bar chart: orientation must be v or h, got %q", orientation)
	}
	width := opts.BarWidth
	if width <= 0 {
		width = 0.8
	}

	x, y := column(rows, opts.XField), column(rows, opts.YField)
	xLabel, yLabel := opts.XLabel, opts.YLabel
	if orientation == "h" {
		x, y = y, x
		xLabel, yLabel = yLabel, xLabel
	}

	layout := defaultLayout(opts.Title, xLabel, yLabel)
	layout.XAxis.Type = "-"
	if orientation == "v" {
		layout.XAxis.Type = "category"
	}
	layout.BarGap = ptr(0.1)

	return &Spec{
		Data: []Trace{{
			Type:   "bar",
			Name:   opts.YField,
			X:      x,
			Y:      y,
			Marker: &Marker{Color: orDefault(opts.Color, Palette[2])},
			Width:  ptr(width),
		}},
		Layout: layout,
	}, nil
}

type GroupedBarOptions struct {
	XField      string
	YFields     []string
	Title       string
	XLabel      string
	YLabel      string
	SeriesNames []string
}

// GroupedBar plots one bar series per y field side by side per category.
func GroupedBar(rows []Row, opts GroupedBarOptions) (*Spec, error) {
	if opts.XField == "" || len(opts.YFields) == 0 {
		return nil, fmt.Errorf("grouped bar chart: %w: x_field and y_fields", ErrMissingField)
	}
	x := column(rows, opts.XField)
	traces := make([]Trace, 0, len(opts.YFields))
	for i, field := range opts.YFields {
		traces = append(traces, Trace{
			Type:   "bar",
			Name:   nameAt(opts.SeriesNames, i, field),
			X:      x,
			Y:      column(rows, field),
			Marker: &Marker{Color: color(Palette, i)},
		})
	}

	layout := defaultLayout(opts.Title, opts.XLabel, opts.YLabel)
	layout.XAxis.Type = "category"
	layout.BarMode = "group"
	layout.BarGap = ptr(0.15)
	layout.BarGroupGap = ptr(0.1)
	return &Spec{Data: traces, Layout: layout}, nil
}

type MultiAxisOptions struct {
	XField   string
	Y1Fields []string
	Y2Fields []string
	Title    string
	XLabel   string
	Y1Label  string
	Y2Label  string
	Y1Names  []string
	Y2Names  []string

	// Y1Type and Y2Type are "line" (default) or "bar".
	Y1Type string
	Y2Type string
}

// MultiAxis plots y1 fields against the left axis and y2 fields against an
// overlaid right axis. Right-axis lines are dotted.
func MultiAxis(rows []Row, opts MultiAxisOptions) (*Spec, error) {
	if opts.XField == "" {
		return nil, fmt.Errorf("multi-axis chart: %w: x_field", ErrMissingField)
	}
	if len(opts.Y1Fields) == 0 && len(opts.Y2Fields) == 0 {
		return nil, fmt.Errorf("multi-axis chart: %w: y1_fields or y2_fields", ErrMissingField)
	}
	for _, t := range []string{opts.Y1Type, opts.Y2Type} {
		if t != "" && t != "line" && t != "bar" {
			return nil, fmt.Errorf("multi-axis chart: %w %q", ErrUnknownChartType, t)
		}
	}

	x := column(rows, opts.XField)
	var traces []Trace
	add := func(fields, names []string, kind, axis string, offset int) {
		for i, field := range fields {
			c := color(Palette, offset+i)
			t := Trace{Name: nameAt(names, i, field), X: x, Y: column(rows, field), YAxis: axis}
			if kind == "bar" {
				t.Type = "bar"
				t.Marker = &Marker{Color: c, Opacity: 0.8}
			} else {
				t.Type = "scatter"
				t.Mode = "lines"
				t.Line = &LineStyle{Color: c, Width: 2}
				if axis == "y2" {
					t.Line.Dash = "dot"
				}
			}
			traces = append(traces, t)
		}
	}
	add(opts.Y1Fields, opts.Y1Names, opts.Y1Type, "y", 0)
	add(opts.Y2Fields, opts.Y2Names, opts.Y2Type, "y2", len(opts.Y1Fields))

	layout := defaultLayout(opts.Title, opts.XLabel, opts.Y1Label)
	layout.XAxis.Type = axisType(opts.XField)
	layout.YAxis.Side = "left"
	layout.YAxis2 = &Axis{
		Title:      orDefault(opts.Y2Label, "Value"),
		Side:       "right",
		Overlaying: "y",
		ShowGrid:   ptr(false),
	}
	layout.Legend = &Legend{X: 0.5, Y: -0.15, Orientation: "h", XAnchor: "center"}
	return &Spec{Data: traces, Layout: layout}, nil
}

type Scatter3DOptions struct {
	XField     string
	YField     string
	ZField     string
	Title      string
	XLabel     string
	YLabel     string
	ZLabel     string
	ColorField string
	ColorLabel string
}

// Scatter3D plots points in a 3-D scene, optionally colored by a fourth field.
func Scatter3D(rows []Row, opts Scatter3DOptions) (*Spec, error) {
	if opts.XField == "" || opts.YField == "" || opts.ZField == "" {
		return nil, fmt.Errorf("3d scatter chart: %w: x_field, y_field and z_field", ErrMissingField)
	}
	marker := &Marker{Size: 5, Opacity: 0.8, Color: Palette[0]}
	if opts.ColorField != "" {
		marker.Color = column(rows, opts.ColorField)
		marker.Colorscale = "Viridis"
		marker.Colorbar = &Colorbar{Title: orDefault(opts.ColorLabel, Humanize(opts.ColorField))}
	}
	return &Spec{
		Data: []Trace{{
			Type:   "scatter3d",
			Mode:   "markers",
			Name:   "Data Points",
			X:      column(rows, opts.XField),
			Y:      column(rows, opts.YField),
			Z:      column(rows, opts.ZField),
			Marker: marker,
		}},
		Layout: Layout{
			Title: &Title{Text: opts.Title, X: 0.5},
			Scene: &Scene{
				XAxis: Axis{Title: opts.XLabel},
				YAxis: Axis{Title: opts.YLabel},
				ZAxis: Axis{Title: opts.ZLabel},
			},
			Margin:       &Margin{L: 0, R: 0, T: 50, B: 0},
			PaperBGColor: transparent,
		},
	}, nil
}

func nameAt(names []string, i int, fallback string) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fallback
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
