package service

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/agent/react"
	"github.com/altocentral/backend/analytics/pkg/chart"
	"github.com/altocentral/backend/analytics/pkg/templates"
)

func TestService_Substitute(t *testing.T) {
	t.Parallel()

	got, err := substitute("{device}", map[string]any{"device": "chiller_3"})
	require.NoError(t, err)
	assert.Equal(t, "chiller_3", got)

	got, err = substitute("ahu_{floor}_{zone}", map[string]any{"floor": 2, "zone": "east"})
	require.NoError(t, err)
	assert.Equal(t, "ahu_2_east", got)

	got, err = substitute("plant", nil)
	require.NoError(t, err)
	assert.Equal(t, "plant", got)

	_, err = substitute("{device}", map[string]any{"floor": 2})
	require.ErrorContains(t, err, `unresolved parameter in "{device}"`)
}

func TestService_ResolveParams(t *testing.T) {
	t.Parallel()

	tmpl := &templates.Template{Parameters: []templates.Parameter{
		{Name: "device", Type: "device", Default: "chiller_1", Required: true},
		{Name: "date_range", Type: "date_range", Default: "7d"},
		{Name: "floor", Type: "number"},
	}}
	got, err := resolveParams(tmpl, map[string]any{"date_range": "24h"})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"device": "chiller_1", "date_range": "24h"}, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	tmpl.Parameters[0].Default = nil
	_, err = resolveParams(tmpl, nil)
	require.EqualError(t, err, `parameter "device" is required`)
}

func TestService_BuildTemplateChart(t *testing.T) {
	t.Parallel()

	rows := []chart.Row{
		{"timestamp": "2025-06-02T00:00:00Z", "supply": 44.1, "return": 54.0, "flow": 1200.0},
		{"timestamp": "2025-06-02T01:00:00Z", "supply": 44.3, "return": 54.6, "flow": 1250.0},
	}

	t.Run("multi splits traces by axis", func(t *testing.T) {
		t.Parallel()
		spec, err := buildTemplateChart(templates.ChartConfig{
			Type: "multi",
			Layout: templates.ChartLayout{
				Title:  "Chilled water",
				XAxis:  templates.AxisConfig{Title: "Time", Field: "timestamp"},
				YAxis:  templates.AxisConfig{Title: "Temperature"},
				YAxis2: &templates.AxisConfig{Title: "Flow (GPM)"},
			},
			Traces: []templates.TraceConfig{
				{Name: "Supply", Type: "line", XField: "timestamp", YField: "supply"},
				{Name: "Return", Type: "line", XField: "timestamp", YField: "return"},
				{Name: "Flow", Type: "line", XField: "timestamp", YField: "flow", YAxis: "y2"},
			},
		}, rows)
		require.NoError(t, err)
		require.Len(t, spec.Data, 3)
		assert.Equal(t, "Supply", spec.Data[0].Name)
		assert.Equal(t, "y2", spec.Data[2].YAxis)
		require.NotNil(t, spec.Layout.YAxis2)
		assert.Equal(t, "Flow (GPM)", spec.Layout.YAxis2.Title)
	})

	t.Run("line keeps trace names and styles", func(t *testing.T) {
		t.Parallel()
		spec, err := buildTemplateChart(templates.ChartConfig{
			Type:   "line",
			Layout: templates.ChartLayout{Title: "Supply"},
			Traces: []templates.TraceConfig{
				{Name: "Supply", Type: "line", XField: "timestamp", YField: "supply", Line: &templates.LineConfig{Dash: "dot", Width: 3}},
			},
		}, rows)
		require.NoError(t, err)
		require.Len(t, spec.Data, 1)
		assert.Equal(t, "Supply", spec.Data[0].Name)
		assert.Equal(t, "dot", spec.Data[0].Line.Dash)
		assert.Equal(t, 3, spec.Data[0].Line.Width)
		assert.Equal(t, []any{"2025-06-02T00:00:00Z", "2025-06-02T01:00:00Z"}, spec.Data[0].X)
	})

	t.Run("scatter uses the first trace", func(t *testing.T) {
		t.Parallel()
		spec, err := buildTemplateChart(templates.ChartConfig{
			Type: "scatter",
			Traces: []templates.TraceConfig{
				{Name: "Plant", Type: "scatter", XField: "flow", YField: "supply", Marker: &templates.MarkerConfig{Size: 9}},
			},
		}, rows)
		require.NoError(t, err)
		assert.Equal(t, []any{1200.0, 1250.0}, spec.Data[0].X)
		assert.Equal(t, 9, spec.Data[0].Marker.Size)
	})

	t.Run("unsupported family", func(t *testing.T) {
		t.Parallel()
		_, err := buildTemplateChart(templates.ChartConfig{Type: "heatmap"}, rows)
		require.ErrorIs(t, err, chart.ErrUnknownChartType)
	})
}

func TestService_Extract(t *testing.T) {
	t.Parallel()

	calls := []react.ToolCallRecord{
		{
			Tool:    "batch_query_timeseries",
			Input:   map[string]any{"device_ids": []any{"chiller_1", "chiller_2"}},
			Result:  `{"total_rows": 96}`,
			Success: true,
		},
		{
			Tool:    "create_line_chart",
			Result:  `{"success": true, "chart_type": "line", "plotly_spec": {"data": [{"type": "scatter", "x": [], "y": []}], "layout": {}}}`,
			Success: true,
		},
		{
			Tool:    "labeled_scatter_chart",
			Input:   map[string]any{"chiller_ids": []string{"chiller_1", "chiller_3"}},
			Result:  `{"success": true, "chart_type": "labeled_scatter", "plotly_spec": {"data": [{"type": "scatter", "x": [1], "y": [2]}], "layout": {}}, "data_summary": {"label_by": "chiller_count", "total_points": 40}}`,
			Success: true,
		},
		{
			Tool:  "create_bar_chart",
			Error: "bar chart: missing required field",
		},
		{
			Tool:    "query_realtime",
			Input:   map[string]any{"device_ids": []any{"ahu_1"}},
			Result:  `{"timestamp": "2025-06-02T12:00:00Z", "devices": {}}`,
			Success: true,
		},
	}

	out := extract(calls)
	require.NotNil(t, out.spec)
	assert.Equal(t, []any{1.0}, out.spec.Data[0].X)
	assert.Equal(t, []string{
		"timescale:chiller_1",
		"timescale:chiller_2",
		"timescale:plant",
		"timescale:chiller_3",
		"timescale:ahu_1",
	}, out.sources)
	assert.Equal(t, "chiller_1, chiller_2: 96 rows, chiller_count: 40 points, ahu_1: 0 rows", out.summary)

	empty := extract(nil)
	assert.Nil(t, empty.spec)
	assert.Equal(t, []string{}, empty.sources)
	assert.Empty(t, empty.summary)
}
