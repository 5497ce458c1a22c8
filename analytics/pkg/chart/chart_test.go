package chart

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/grouping"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func sampleRows() []Row {
	return []Row{
		{"timestamp": "2025-06-01T00:00:00Z", "power": 500.0, "cooling_rate": 800.0, "wetbulb": 78.0},
		{"timestamp": "2025-06-01T01:00:00Z", "power": 600.0, "cooling_rate": 1000.0, "wetbulb": 80.0},
		{"timestamp": "2025-06-01T02:00:00Z", "power": nil, "cooling_rate": 1200.0, "wetbulb": 79.0},
		{"timestamp": "2025-06-01T03:00:00Z", "power": 800.0, "cooling_rate": 1400.0},
	}
}

func TestChart_Line(t *testing.T) {
	t.Parallel()

	spec, err := Line(sampleRows(), LineOptions{
		XField:      "timestamp",
		YFields:     []string{"power", "cooling_rate"},
		Title:       "Plant",
		SeriesNames: []string{"Power"},
		Styles:      []LineStyle{{}, {Dash: "dot", Width: 3}},
	})
	require.NoError(t, err)
	require.Len(t, spec.Data, 2)

	require.Equal(t, "Power", spec.Data[0].Name)
	require.Equal(t, "cooling_rate", spec.Data[1].Name)
	require.Equal(t, &LineStyle{Color: "#3498db", Width: 2}, spec.Data[0].Line)
	require.Equal(t, &LineStyle{Color: "#e74c3c", Width: 3, Dash: "dot"}, spec.Data[1].Line)
	require.Equal(t, []any{500.0, 600.0, nil, 800.0}, spec.Data[0].Y)

	require.Equal(t, "date", spec.Layout.XAxis.Type)
	require.Equal(t, "Time", spec.Layout.XAxis.Title)
	require.Equal(t, "Value", spec.Layout.YAxis.Title)
	require.Equal(t, &Title{Text: "Plant", X: 0.5}, spec.Layout.Title)
	require.Equal(t, &Margin{L: 60, R: 30, T: 50, B: 60}, spec.Layout.Margin)
	require.Equal(t, "Inter, sans-serif", spec.Layout.Font.Family)

	numeric, err := Line(sampleRows(), LineOptions{XField: "cooling_rate", YFields: []string{"power"}})
	require.NoError(t, err)
	require.Equal(t, "-", numeric.Layout.XAxis.Type)

	_, err = Line(sampleRows(), LineOptions{XField: "timestamp"})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestChart_Line_PaletteCycles(t *testing.T) {
	t.Parallel()

	fields := make([]string, 10)
	for i := range fields {
		fields[i] = "f"
	}
	spec, err := Line(nil, LineOptions{XField: "timestamp", YFields: fields})
	require.NoError(t, err)
	require.Equal(t, Palette[0], spec.Data[8].Line.Color)
	require.Equal(t, Palette[1], spec.Data[9].Line.Color)

	again, err := Line(nil, LineOptions{XField: "timestamp", YFields: fields})
	require.NoError(t, err)
	require.Equal(t, spec, again)
}

func TestChart_Scatter(t *testing.T) {
	t.Parallel()

	t.Run("plain cloud", func(t *testing.T) {
		t.Parallel()
		spec, err := Scatter(sampleRows(), ScatterOptions{XField: "cooling_rate", YField: "power", Title: "t", XLabel: "Load", YLabel: "kW"})
		require.NoError(t, err)
		require.Len(t, spec.Data, 1)
		require.Equal(t, &Marker{Size: 6, Opacity: 0.7, Color: "#3498db"}, spec.Data[0].Marker)
		require.Equal(t, "markers", spec.Data[0].Mode)
	})

	t.Run("color field and trend", func(t *testing.T) {
		t.Parallel()
		spec, err := Scatter(sampleRows(), ScatterOptions{
			XField:     "cooling_rate",
			YField:     "power",
			ColorField: "wetbulb",
			Trendline:  true,
		})
		require.NoError(t, err)
		require.Len(t, spec.Data, 2)

		m := spec.Data[0].Marker
		require.Equal(t, []any{78.0, 80.0, 79.0, nil}, m.Color)
		require.Equal(t, "Viridis", m.Colorscale)
		require.Equal(t, "Wetbulb", m.Colorbar.Title)

		tr := spec.Data[1]
		require.Equal(t, "Trend", tr.Name)
		require.Equal(t, &LineStyle{Color: "#e74c3c", Width: 2, Dash: "dash"}, tr.Line)
		require.Equal(t, []any{800.0, 1000.0, 1400.0}, tr.X)
		// power = 0.5·load + 100 exactly.
		for i, x := range tr.X {
			require.InDelta(t, 0.5*x.(float64)+100, tr.Y[i].(float64), 1e-9)
		}
	})

	t.Run("time x gets a date axis", func(t *testing.T) {
		t.Parallel()
		spec, err := Scatter(sampleRows(), ScatterOptions{XField: "timestamp", YField: "power"})
		require.NoError(t, err)
		require.Equal(t, "date", spec.Layout.XAxis.Type)

		rows := []Row{{"read_at": nil, "y": 1.0}, {"read_at": "2025-06-01T00:00:00+07:00", "y": 2.0}}
		spec, err = Scatter(rows, ScatterOptions{XField: "read_at", YField: "y"})
		require.NoError(t, err)
		require.Equal(t, "date", spec.Layout.XAxis.Type)

		spec, err = Scatter([]Row{{"at": time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), "y": 1.0}}, ScatterOptions{XField: "at", YField: "y"})
		require.NoError(t, err)
		require.Equal(t, "date", spec.Layout.XAxis.Type)

		spec, err = Scatter(sampleRows(), ScatterOptions{XField: "cooling_rate", YField: "power"})
		require.NoError(t, err)
		require.Empty(t, spec.Layout.XAxis.Type)
	})

	t.Run("trend needs two distinct x", func(t *testing.T) {
		t.Parallel()
		spec, err := Scatter([]Row{{"x": 1.0, "y": 2.0}, {"x": 1.0, "y": 3.0}}, ScatterOptions{XField: "x", YField: "y", Trendline: true})
		require.NoError(t, err)
		require.Len(t, spec.Data, 1)
	})

	t.Run("size field", func(t *testing.T) {
		t.Parallel()
		spec, err := Scatter(sampleRows(), ScatterOptions{XField: "cooling_rate", YField: "power", SizeField: "wetbulb"})
		require.NoError(t, err)
		m := spec.Data[0].Marker
		require.Equal(t, []any{78.0, 80.0, 79.0, 6}, m.Size)
		require.Equal(t, "diameter", m.SizeMode)
		require.InDelta(t, 4.0, m.SizeRef, 1e-9)
	})

	_, err := Scatter(nil, ScatterOptions{XField: "x"})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestChart_Bar(t *testing.T) {
	t.Parallel()

	rows := []Row{{"device": "Chiller 1", "value": 0.62}, {"device": "Chiller 2", "value": 0.71}}

	spec, err := Bar(rows, BarOptions{XField: "device", YField: "value", XLabel: "Device", YLabel: "kW/RT"})
	require.NoError(t, err)
	require.Equal(t, "category", spec.Layout.XAxis.Type)
	require.Equal(t, 0.1, *spec.Layout.BarGap)
	require.Equal(t, "#2ecc71", spec.Data[0].Marker.Color)
	require.Equal(t, 0.8, *spec.Data[0].Width)

	h, err := Bar(rows, BarOptions{XField: "device", YField: "value", XLabel: "Device", YLabel: "kW/RT", Orientation: "h", Color: "red"})
	require.NoError(t, err)
	require.Equal(t, []any{0.62, 0.71}, h.Data[0].X)
	require.Equal(t, "kW/RT", h.Layout.XAxis.Title)
	require.Equal(t, "-", h.Layout.XAxis.Type)
	require.Equal(t, "red", h.Data[0].Marker.Color)

	_, err = Bar(rows, BarOptions{XField: "device", YField: "value", Orientation: "diagonal"})
	require.Error(t, err)
}

func TestChart_GroupedBar(t *testing.T) {
	t.Parallel()

	rows := []Row{{"month": "Jan", "ch1": 10.0, "ch2": 12.0}, {"month": "Feb", "ch1": 11.0, "ch2": 9.0}}
	spec, err := GroupedBar(rows, GroupedBarOptions{XField: "month", YFields: []string{"ch1", "ch2"}, SeriesNames: []string{"CH-1", "CH-2"}})
	require.NoError(t, err)
	require.Equal(t, "group", spec.Layout.BarMode)
	require.Equal(t, 0.15, *spec.Layout.BarGap)
	require.Equal(t, 0.1, *spec.Layout.BarGroupGap)
	require.Equal(t, "CH-2", spec.Data[1].Name)
	require.Equal(t, "#e74c3c", spec.Data[1].Marker.Color)
}

func TestChart_MultiAxis(t *testing.T) {
	t.Parallel()

	spec, err := MultiAxis(sampleRows(), MultiAxisOptions{
		XField:   "timestamp",
		Y1Fields: []string{"power"},
		Y2Fields: []string{"wetbulb"},
		Y1Label:  "kW",
	})
	require.NoError(t, err)
	require.Len(t, spec.Data, 2)
	require.Equal(t, "y", spec.Data[0].YAxis)
	require.Equal(t, "y2", spec.Data[1].YAxis)
	require.Equal(t, &LineStyle{Color: "#e74c3c", Width: 2, Dash: "dot"}, spec.Data[1].Line)
	require.Equal(t, "y", spec.Layout.YAxis2.Overlaying)
	require.Equal(t, "right", spec.Layout.YAxis2.Side)
	require.Equal(t, "Value", spec.Layout.YAxis2.Title)
	require.False(t, *spec.Layout.YAxis2.ShowGrid)

	bars, err := MultiAxis(sampleRows(), MultiAxisOptions{XField: "timestamp", Y1Fields: []string{"power"}, Y1Type: "bar"})
	require.NoError(t, err)
	require.Equal(t, "bar", bars.Data[0].Type)
	require.Equal(t, 0.8, bars.Data[0].Marker.Opacity)

	_, err = MultiAxis(sampleRows(), MultiAxisOptions{XField: "timestamp", Y1Fields: []string{"power"}, Y2Type: "pie"})
	require.ErrorIs(t, err, ErrUnknownChartType)
}

func TestChart_Scatter3D(t *testing.T) {
	t.Parallel()

	spec, err := Scatter3D(sampleRows(), Scatter3DOptions{
		XField: "wetbulb", YField: "cooling_rate", ZField: "power",
		XLabel: "WB", YLabel: "Load", ZLabel: "kW",
		ColorField: "power",
	})
	require.NoError(t, err)
	tr := spec.Data[0]
	require.Equal(t, "scatter3d", tr.Type)
	require.Len(t, tr.Z, 4)
	require.Equal(t, 5, tr.Marker.Size)
	require.Equal(t, 0.8, tr.Marker.Opacity)
	require.Equal(t, "kW", spec.Layout.Scene.ZAxis.Title)
	require.Nil(t, spec.Layout.XAxis)

	_, err = Scatter3D(nil, Scatter3DOptions{XField: "x", YField: "y"})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestChart_MultiTrace_RoundTrip(t *testing.T) {
	t.Parallel()

	chillers := []string{"chiller_1", "chiller_2"}
	var primary, statuses []timeseries.Record
	for h, running := range [][]string{{"chiller_2"}, {"chiller_1", "chiller_2"}, {"chiller_1"}, {}, {"chiller_1"}} {
		ts := t0.Add(time.Duration(h) * time.Hour)
		primary = append(primary, timeseries.Record{Timestamp: ts, Values: map[string]*float64{
			"cooling_rate": timeseries.Float(float64(100 * (h + 1))),
			"efficiency":   timeseries.Float(0.6 + float64(h)*0.01),
		}})
		for _, d := range running {
			statuses = append(statuses, timeseries.Record{Timestamp: ts, DeviceID: d, Values: map[string]*float64{
				grouping.StatusMetric: timeseries.Float(1),
			}})
		}
	}
	groups := grouping.GroupBy(primary, grouping.BuildStatusMap(statuses), chillers, grouping.LabelCombination(), "cooling_rate", "efficiency")

	var want []Point
	for _, g := range groups {
		for _, p := range g.Points {
			want = append(want, Point{Label: g.Label, X: p.X, Y: p.Y})
		}
	}

	spec, err := MultiTrace(SeriesFromGroups(groups), MultiTraceOptions{Title: "Efficiency", XLabel: "Load", YLabel: "kW/RT"})
	require.NoError(t, err)
	if diff := cmp.Diff(want, Flatten(spec)); diff != "" {
		t.Fatalf("flattened points mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"CH-1", "CH-1+CH-2", "CH-2"}, []string{spec.Data[0].Name, spec.Data[1].Name, spec.Data[2].Name})
	require.Equal(t, "#1f77b4", spec.Data[0].Marker.Color)
	require.Equal(t, "#2ca02c", spec.Data[2].Marker.Color)

	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	var decoded Spec
	require.NoError(t, json.Unmarshal(raw, &decoded))
	if diff := cmp.Diff(want, Flatten(&decoded)); diff != "" {
		t.Fatalf("decoded points mismatch (-want +got):\n%s", diff)
	}
}

func TestChart_MultiTrace_Invalid(t *testing.T) {
	t.Parallel()

	_, err := MultiTrace(nil, MultiTraceOptions{})
	require.ErrorIs(t, err, ErrMissingField)
	_, err = MultiTrace([]Series{{Name: "a", X: []any{1.0}, Y: []any{}}}, MultiTraceOptions{})
	require.ErrorContains(t, err, "1 x values and 0 y values")
	_, err = MultiTrace([]Series{{Name: "a"}, {Name: "a"}}, MultiTraceOptions{})
	require.ErrorContains(t, err, `duplicate trace name "a"`)

	spec, err := MultiTrace([]Series{{Name: "a", Color: "#000000"}}, MultiTraceOptions{MarkerOpacity: 0.6})
	require.NoError(t, err)
	require.Equal(t, &Marker{Size: 6, Opacity: 0.6, Color: "#000000"}, spec.Data[0].Marker)
}

func TestChart_PeriodComparison(t *testing.T) {
	t.Parallel()

	ict := time.FixedZone("ICT", 7*3600)
	var records []timeseries.Record
	for _, m := range []int{0, 30, 60, 120} {
		records = append(records, timeseries.Record{
			Timestamp: t0.Add(time.Duration(m) * time.Minute),
			Values:    map[string]*float64{"efficiency": timeseries.Float(0.6 + float64(m)/600)},
		})
	}
	records = append(records, timeseries.Record{Timestamp: t0.Add(3 * time.Hour), Values: map[string]*float64{"efficiency": nil}})

	today := HourlyProfile("Today", records, "efficiency", ict)
	require.Equal(t, []int{7, 8, 9}, today.Hours)
	require.Equal(t, []float64{0.625, 0.7, 0.8}, today.Values)

	spec, err := PeriodComparison([]Period{today, {Label: "Yesterday", Hours: []int{7}, Values: []float64{0.5}}}, "Today vs Yesterday", "Efficiency (kW/RT)")
	require.NoError(t, err)
	require.Len(t, spec.Data, 2)
	require.Equal(t, "lines+markers", spec.Data[0].Mode)
	require.Equal(t, "#ff7f0e", spec.Data[1].Line.Color)
	require.Equal(t, []any{7, 8, 9}, spec.Data[0].X)
	require.Equal(t, []float64{-0.5, 23.5}, spec.Layout.XAxis.Range)
	require.Equal(t, 2.0, *spec.Layout.XAxis.DTick)

	_, err = PeriodComparison(nil, "", "")
	require.True(t, errors.Is(err, ErrMissingField))
}

func TestChart_Rows(t *testing.T) {
	t.Parallel()

	rows := Rows([]timeseries.Record{{
		Timestamp: t0,
		DeviceID:  "chiller_1",
		Values:    map[string]*float64{"power": timeseries.Float(300), "status_read": nil},
	}}, time.FixedZone("ICT", 7*3600))
	want := []Row{{
		"timestamp":   "2025-06-01T07:00:00+07:00",
		"device_id":   "chiller_1",
		"power":       300.0,
		"status_read": nil,
	}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "Chiller 1", Humanize("chiller_1"))
	require.Equal(t, "Wetbulb Temperature", Humanize("WETBULB_temperature"))
}
