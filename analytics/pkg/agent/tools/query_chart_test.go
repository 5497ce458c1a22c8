package tools

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSiteStore holds 48 hours of plant and chiller data. chiller_1 always
// runs; chiller_2 runs on even hours.
func newSiteStore() *fakeStore {
	s := &fakeStore{}
	s.hourly("plant", "power", 48, func(i int, _ time.Time) float64 { return 500 + float64(i%5)*5 })
	s.hourly("plant", "cooling_rate", 48, func(i int, _ time.Time) float64 { return 1000 + float64(i%5)*10 })
	s.hourly("chiller_1", "status_read", 48, func(int, time.Time) float64 { return 1 })
	s.hourly("chiller_2", "status_read", 48, func(_ int, ts time.Time) float64 {
		if ts.Hour()%2 == 0 {
			return 1
		}
		return 0
	})
	return s
}

func TestTools_QueryAndChart(t *testing.T) {
	t.Parallel()

	set, _ := newChartClient(t, newSiteStore())
	client := set.ForSession(Session{SiteID: "site-a"})

	efficiencyArgs := func(chartType string) map[string]any {
		return map[string]any{
			"device_ids":           []any{"plant"},
			"metrics":              []any{"power", "cooling_rate"},
			"chart_type":           chartType,
			"title":                "Plant efficiency",
			"time_range":           "24h",
			"calculate_efficiency": true,
		}
	}

	t.Run("efficiency line", func(t *testing.T) {
		t.Parallel()
		out := decode[ChartOutput](t, call(t, client, "query_and_chart", efficiencyArgs("line")))
		assert.Equal(t, "line", out.ChartType)
		assert.Equal(t, []string{"Power", "Cooling Rate", "Efficiency"}, traceNames(out.PlotlySpec))
		require.NotNil(t, out.DataSummary)
		assert.Equal(t, []string{"plant"}, out.DataSummary.Devices)
		assert.Equal(t, 24, out.DataSummary.TotalPoints)
		assert.Equal(t, "24h", out.DataSummary.TimeRange)

		for _, v := range out.PlotlySpec.Data[2].Y {
			eff, ok := v.(float64)
			require.True(t, ok)
			assert.InDelta(t, 0.5, eff, 0.01)
			assert.Equal(t, eff, math.Round(eff*1000)/1000)
		}
	})

	t.Run("efficiency scatter uses load on x", func(t *testing.T) {
		t.Parallel()
		out := decode[ChartOutput](t, call(t, client, "query_and_chart", efficiencyArgs("scatter")))
		assert.Equal(t, "scatter", out.ChartType)
		assert.Equal(t, "Cooling Rate", out.PlotlySpec.Layout.XAxis.Title)
		assert.Equal(t, "Efficiency (kW/RT)", out.PlotlySpec.Layout.YAxis.Title)
		assert.Len(t, out.PlotlySpec.Data[0].X, 24)
	})

	t.Run("only running filter", func(t *testing.T) {
		t.Parallel()
		args := efficiencyArgs("line")
		args["filters"] = map[string]any{"only_running": []any{"chiller_2"}}
		out := decode[ChartOutput](t, call(t, client, "query_and_chart", args))
		assert.Equal(t, 12, out.DataSummary.TotalPoints)
	})

	t.Run("time of day filter", func(t *testing.T) {
		t.Parallel()
		args := efficiencyArgs("line")
		args["filters"] = map[string]any{"time_of_day": map[string]any{"start": 8, "end": 12}}
		out := decode[ChartOutput](t, call(t, client, "query_and_chart", args))
		assert.Equal(t, 4, out.DataSummary.TotalPoints)
	})

	t.Run("filters that exclude everything", func(t *testing.T) {
		t.Parallel()
		args := efficiencyArgs("line")
		args["filters"] = map[string]any{"not_running": []any{"chiller_1"}}
		assert.Equal(t, "no data after applying filters", callErr(t, client, "query_and_chart", args))
	})

	t.Run("bar averages per device and skips devices without data", func(t *testing.T) {
		t.Parallel()
		out := decode[ChartOutput](t, call(t, client, "query_and_chart", map[string]any{
			"device_ids": []any{"plant", "chiller_9"},
			"metrics":    []any{"cooling_rate"},
			"chart_type": "bar",
			"title":      "Load",
			"time_range": "5h",
		}))
		require.Len(t, out.PlotlySpec.Data, 1)
		assert.Equal(t, []any{"Plant"}, out.PlotlySpec.Data[0].X)
		assert.Equal(t, []any{1020.0}, out.PlotlySpec.Data[0].Y)
		assert.Equal(t, []string{"plant"}, out.DataSummary.Devices)
	})

	t.Run("multi-device line", func(t *testing.T) {
		t.Parallel()
		out := decode[ChartOutput](t, call(t, client, "query_and_chart", map[string]any{
			"device_ids": []any{"chiller_1", "chiller_2"},
			"metrics":    []any{"status_read"},
			"chart_type": "line",
			"title":      "Status",
			"time_range": "6h",
		}))
		assert.Equal(t, []string{"Chiller 1", "Chiller 2"}, traceNames(out.PlotlySpec))
		assert.Equal(t, 12, out.DataSummary.TotalPoints)
	})

	t.Run("no data", func(t *testing.T) {
		t.Parallel()
		msg := callErr(t, client, "query_and_chart", map[string]any{
			"device_ids": []any{"chiller_9"},
			"metrics":    []any{"power"},
			"chart_type": "line",
			"title":      "Nothing",
		})
		assert.Equal(t, "no data returned from queries", msg)
	})
}

func TestTools_QueryAndChart_ComparePeriods(t *testing.T) {
	t.Parallel()

	set, _ := newChartClient(t, newSiteStore())
	client := set.ForSession(Session{SiteID: "site-a", Location: time.FixedZone("ICT", 7*60*60)})

	out := decode[ChartOutput](t, call(t, client, "query_and_chart", map[string]any{
		"device_ids":           []any{"plant"},
		"metrics":              []any{"power", "cooling_rate"},
		"chart_type":           "line",
		"title":                "Today vs yesterday",
		"compare_periods":      []any{"today", "yesterday"},
		"calculate_efficiency": true,
	}))
	assert.Equal(t, "period_comparison", out.ChartType)
	assert.Equal(t, []string{"Today", "Yesterday"}, traceNames(out.PlotlySpec))
	// Local time is 19:00, so today covers hours 0 through 18.
	assert.Len(t, out.PlotlySpec.Data[0].X, 19)
	assert.Len(t, out.PlotlySpec.Data[1].X, 24)
	assert.Equal(t, "efficiency", out.DataSummary.Metric)
	assert.Equal(t, []string{"Today", "Yesterday"}, out.DataSummary.Periods)
	assert.Equal(t, "Efficiency (kW/RT)", out.PlotlySpec.Layout.YAxis.Title)

	msg := callErr(t, client, "query_and_chart", map[string]any{
		"device_ids":      []any{"plant"},
		"metrics":         []any{"power"},
		"chart_type":      "line",
		"title":           "Old",
		"compare_periods": []any{"2024-01-01", "2024-01-02"},
	})
	assert.Equal(t, "no data returned for any period", msg)
}

func TestTools_ParsePeriod(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("ICT", 7*60*60)
	now := testNow.In(loc)
	midnight := time.Date(2025, 6, 2, 0, 0, 0, 0, loc)

	tests := []struct {
		period     string
		start, end time.Time
		label      string
	}{
		{"today", midnight, now, "Today"},
		{"Yesterday", midnight.AddDate(0, 0, -1), midnight, "Yesterday"},
		{"last week", midnight.AddDate(0, 0, -7), midnight.AddDate(0, 0, -6), "Last Week"},
		{"week ago", midnight.AddDate(0, 0, -7), midnight.AddDate(0, 0, -6), "Last Week"},
		{"2025-05-20", time.Date(2025, 5, 20, 0, 0, 0, 0, loc), time.Date(2025, 5, 21, 0, 0, 0, 0, loc), "May 20"},
		{"3d", now.Add(-72 * time.Hour), now, "3d"},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			t.Parallel()
			start, end, label, err := parsePeriod(tt.period, now)
			require.NoError(t, err)
			assert.True(t, tt.start.Equal(start), "start %s, want %s", start, tt.start)
			assert.True(t, tt.end.Equal(end), "end %s, want %s", end, tt.end)
			assert.Equal(t, tt.label, label)
		})
	}

	_, _, _, err := parsePeriod("sometime", now)
	require.ErrorContains(t, err, `invalid period "sometime"`)
}

func TestTools_LabeledScatterChart(t *testing.T) {
	t.Parallel()

	set, _ := newChartClient(t, newSiteStore())
	client := set.ForSession(Session{SiteID: "site-a"})

	t.Run("by chiller count", func(t *testing.T) {
		t.Parallel()
		out := decode[ChartOutput](t, call(t, client, "labeled_scatter_chart", map[string]any{
			"title":       "Efficiency by running chillers",
			"label_by":    "chiller_count",
			"chiller_ids": []any{"chiller_1", "chiller_2"},
			"time_range":  "24h",
		}))
		assert.Equal(t, "labeled_scatter", out.ChartType)
		assert.Equal(t, []string{"1 Chiller", "2 Chillers"}, traceNames(out.PlotlySpec))
		assert.Len(t, out.PlotlySpec.Data[0].X, 12)
		assert.Len(t, out.PlotlySpec.Data[1].X, 12)
		assert.Equal(t, "Cooling Load (RT)", out.PlotlySpec.Layout.XAxis.Title)
		assert.Equal(t, "Efficiency (kW/RT)", out.PlotlySpec.Layout.YAxis.Title)
		require.NotNil(t, out.DataSummary)
		assert.Equal(t, "chiller_count", out.DataSummary.LabelBy)
		assert.Equal(t, 24, out.DataSummary.TotalPoints)
	})

	t.Run("fixed count combination", func(t *testing.T) {
		t.Parallel()
		out := decode[ChartOutput](t, call(t, client, "labeled_scatter_chart", map[string]any{
			"title":               "Two-chiller combinations",
			"label_by":            "chiller_combination_fixed_count",
			"fixed_chiller_count": 2,
			"chiller_ids":         []any{"chiller_1", "chiller_2"},
			"time_range":          "24h",
			"y_metric":            "power",
		}))
		assert.Equal(t, []string{"CH-1+CH-2"}, out.DataSummary.Groups)
		assert.Equal(t, 12, out.DataSummary.TotalPoints)
		assert.Equal(t, "Power (kW)", out.PlotlySpec.Layout.YAxis.Title)
	})

	t.Run("load floor removes everything", func(t *testing.T) {
		t.Parallel()
		msg := callErr(t, client, "labeled_scatter_chart", map[string]any{
			"title":            "Nothing",
			"label_by":         "chiller_count",
			"chiller_ids":      []any{"chiller_1"},
			"min_cooling_load": 5000,
		})
		assert.Equal(t, "no plant data returned", msg)
	})

	t.Run("no chiller running", func(t *testing.T) {
		t.Parallel()
		msg := callErr(t, client, "labeled_scatter_chart", map[string]any{
			"title":       "Nothing",
			"label_by":    "chiller_count",
			"chiller_ids": []any{"chiller_7"},
		})
		assert.Equal(t, "no data after grouping", msg)
	})

	t.Run("unknown label policy", func(t *testing.T) {
		t.Parallel()
		msg := callErr(t, client, "labeled_scatter_chart", map[string]any{
			"title":       "Nothing",
			"label_by":    "by_color",
			"chiller_ids": []any{"chiller_1"},
		})
		assert.Contains(t, msg, "invalid arguments")
	})
}
