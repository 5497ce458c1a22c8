package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/altocentral/backend/analytics/pkg/chart"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

type ChartConfig struct {
	Logger *slog.Logger

	// Acquirer backs query_and_chart and labeled_scatter_chart.
	Acquirer *timeseries.Acquirer
}

func (cfg *ChartConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Acquirer == nil {
		return errors.New("acquirer is required")
	}
	return nil
}

// ChartOutput is the result of every chart-producing tool.
type ChartOutput struct {
	Success     bool         `json:"success"`
	ChartType   string       `json:"chart_type"`
	PlotlySpec  *chart.Spec  `json:"plotly_spec"`
	DataSummary *DataSummary `json:"data_summary,omitempty"`
}

// DataSummary describes the data behind a chart built from queries.
type DataSummary struct {
	Devices     []string `json:"devices,omitempty"`
	Periods     []string `json:"periods,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	LabelBy     string   `json:"label_by,omitempty"`
	Groups      []string `json:"groups,omitempty"`
	TotalPoints int      `json:"total_points"`
	TimeRange   string   `json:"time_range,omitempty"`
}

type LineChartInput struct {
	Data        []chart.Row       `json:"data" jsonschema:"Rows of data, each a JSON object"`
	XField      string            `json:"x_field,omitempty" jsonschema:"Field for the x axis, usually timestamp"`
	YFields     []string          `json:"y_fields" jsonschema:"Fields to plot, one line each"`
	Title       string            `json:"title" jsonschema:"Chart title"`
	XLabel      string            `json:"x_label,omitempty" jsonschema:"X axis label"`
	YLabel      string            `json:"y_label,omitempty" jsonschema:"Y axis label"`
	SeriesNames []string          `json:"series_names,omitempty" jsonschema:"Legend names, one per y field"`
	Styles      []chart.LineStyle `json:"styles,omitempty" jsonschema:"Per-series color, width and dash overrides"`
}

type ScatterChartInput struct {
	Data       []chart.Row `json:"data" jsonschema:"Rows of data, each a JSON object"`
	XField     string      `json:"x_field" jsonschema:"Field for the x axis"`
	YField     string      `json:"y_field" jsonschema:"Field for the y axis"`
	Title      string      `json:"title" jsonschema:"Chart title"`
	XLabel     string      `json:"x_label,omitempty" jsonschema:"X axis label"`
	YLabel     string      `json:"y_label,omitempty" jsonschema:"Y axis label"`
	ColorField string      `json:"color_field,omitempty" jsonschema:"Field that colors the points"`
	SizeField  string      `json:"size_field,omitempty" jsonschema:"Field that sizes the points"`
	Trendline  bool        `json:"trendline,omitempty" jsonschema:"Add a least-squares trend line"`
}

type BarChartInput struct {
	Data        []chart.Row `json:"data" jsonschema:"Rows of data, each a JSON object"`
	XField      string      `json:"x_field" jsonschema:"Category field"`
	YField      string      `json:"y_field" jsonschema:"Value field"`
	Title       string      `json:"title" jsonschema:"Chart title"`
	XLabel      string      `json:"x_label,omitempty" jsonschema:"X axis label"`
	YLabel      string      `json:"y_label,omitempty" jsonschema:"Y axis label"`
	Orientation string      `json:"orientation,omitempty" jsonschema:"v for vertical bars or h for horizontal"`
	Color       string      `json:"color,omitempty" jsonschema:"Bar color"`
}

type GroupedBarChartInput struct {
	Data        []chart.Row `json:"data" jsonschema:"Rows of data, each a JSON object"`
	XField      string      `json:"x_field" jsonschema:"Category field"`
	YFields     []string    `json:"y_fields" jsonschema:"Value fields, one bar per field in each group"`
	Title       string      `json:"title" jsonschema:"Chart title"`
	XLabel      string      `json:"x_label,omitempty" jsonschema:"X axis label"`
	YLabel      string      `json:"y_label,omitempty" jsonschema:"Y axis label"`
	SeriesNames []string    `json:"series_names,omitempty" jsonschema:"Legend names, one per y field"`
}

type MultiAxisChartInput struct {
	Data     []chart.Row `json:"data" jsonschema:"Rows of data, each a JSON object"`
	XField   string      `json:"x_field,omitempty" jsonschema:"Field for the shared x axis"`
	Y1Fields []string    `json:"y1_fields,omitempty" jsonschema:"Fields plotted against the left axis"`
	Y2Fields []string    `json:"y2_fields,omitempty" jsonschema:"Fields plotted against the right axis"`
	Title    string      `json:"title" jsonschema:"Chart title"`
	XLabel   string      `json:"x_label,omitempty" jsonschema:"X axis label"`
	Y1Label  string      `json:"y1_label,omitempty" jsonschema:"Left axis label"`
	Y2Label  string      `json:"y2_label,omitempty" jsonschema:"Right axis label"`
	Y1Type   string      `json:"y1_type,omitempty" jsonschema:"Trace type for left axis fields"`
	Y2Type   string      `json:"y2_type,omitempty" jsonschema:"Trace type for right axis fields"`
}

type Scatter3DChartInput struct {
	Data       []chart.Row `json:"data" jsonschema:"Rows of data, each a JSON object"`
	XField     string      `json:"x_field" jsonschema:"Field for the x axis"`
	YField     string      `json:"y_field" jsonschema:"Field for the y axis"`
	ZField     string      `json:"z_field" jsonschema:"Field for the z axis"`
	Title      string      `json:"title" jsonschema:"Chart title"`
	XLabel     string      `json:"x_label,omitempty" jsonschema:"X axis label"`
	YLabel     string      `json:"y_label,omitempty" jsonschema:"Y axis label"`
	ZLabel     string      `json:"z_label,omitempty" jsonschema:"Z axis label"`
	ColorField string      `json:"color_field,omitempty" jsonschema:"Field that colors the points"`
}

type MultiTraceScatterInput struct {
	Traces        []chart.Series `json:"traces" jsonschema:"Point groups, each with a unique name and equal-length x and y"`
	Title         string         `json:"title" jsonschema:"Chart title"`
	XLabel        string         `json:"x_label,omitempty" jsonschema:"X axis label"`
	YLabel        string         `json:"y_label,omitempty" jsonschema:"Y axis label"`
	MarkerSize    int            `json:"marker_size,omitempty" jsonschema:"Marker size in pixels"`
	MarkerOpacity float64        `json:"marker_opacity,omitempty" jsonschema:"Marker opacity between 0 and 1"`
}

func chartResult(chartType string, spec *chart.Spec, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return ChartOutput{Success: true, ChartType: chartType, PlotlySpec: spec}, nil
}

// NewChartTools builds the chart tools. The create_* tools render rows the
// model already holds; query_and_chart and labeled_scatter_chart fetch their
// own data.
func NewChartTools(cfg *ChartConfig) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := newSet("chart", cfg.Logger)

	add(s, "create_line_chart", "Line chart for time series trends. Use timestamp as x_field for trends over time.",
		func(_ context.Context, _ Session, in LineChartInput) (any, error) {
			spec, err := chart.Line(in.Data, chart.LineOptions{
				XField:      in.XField,
				YFields:     in.YFields,
				Title:       in.Title,
				XLabel:      in.XLabel,
				YLabel:      in.YLabel,
				SeriesNames: in.SeriesNames,
				Styles:      in.Styles,
			})
			return chartResult("line", spec, err)
		},
		defaultValue("x_field", "timestamp"),
	)

	add(s, "create_scatter_chart", "Scatter chart for correlations, e.g. efficiency against cooling load.",
		func(_ context.Context, _ Session, in ScatterChartInput) (any, error) {
			spec, err := chart.Scatter(in.Data, chart.ScatterOptions{
				XField:     in.XField,
				YField:     in.YField,
				Title:      in.Title,
				XLabel:     in.XLabel,
				YLabel:     in.YLabel,
				ColorField: in.ColorField,
				SizeField:  in.SizeField,
				Trendline:  in.Trendline,
			})
			return chartResult("scatter", spec, err)
		},
	)

	add(s, "create_bar_chart", "Bar chart comparing one value across categories.",
		func(_ context.Context, _ Session, in BarChartInput) (any, error) {
			spec, err := chart.Bar(in.Data, chart.BarOptions{
				XField:      in.XField,
				YField:      in.YField,
				Title:       in.Title,
				XLabel:      in.XLabel,
				YLabel:      in.YLabel,
				Orientation: in.Orientation,
				Color:       in.Color,
			})
			return chartResult("bar", spec, err)
		},
		enum("orientation", "v", "h"),
		defaultValue("orientation", "v"),
	)

	add(s, "create_grouped_bar_chart", "Grouped bar chart comparing several values per category.",
		func(_ context.Context, _ Session, in GroupedBarChartInput) (any, error) {
			spec, err := chart.GroupedBar(in.Data, chart.GroupedBarOptions{
				XField:      in.XField,
				YFields:     in.YFields,
				Title:       in.Title,
				XLabel:      in.XLabel,
				YLabel:      in.YLabel,
				SeriesNames: in.SeriesNames,
			})
			return chartResult("grouped_bar", spec, err)
		},
	)

	add(s, "create_multi_axis_chart", "Chart with two y axes for metrics on different scales, e.g. power and temperature.",
		func(_ context.Context, _ Session, in MultiAxisChartInput) (any, error) {
			spec, err := chart.MultiAxis(in.Data, chart.MultiAxisOptions{
				XField:   in.XField,
				Y1Fields: in.Y1Fields,
				Y2Fields: in.Y2Fields,
				Title:    in.Title,
				XLabel:   in.XLabel,
				Y1Label:  in.Y1Label,
				Y2Label:  in.Y2Label,
				Y1Type:   in.Y1Type,
				Y2Type:   in.Y2Type,
			})
			return chartResult("multi_axis", spec, err)
		},
		defaultValue("x_field", "timestamp"),
		enum("y1_type", "line", "bar"),
		enum("y2_type", "line", "bar"),
	)

	add(s, "create_3d_scatter_chart", "3-D scatter chart relating three variables.",
		func(_ context.Context, _ Session, in Scatter3DChartInput) (any, error) {
			spec, err := chart.Scatter3D(in.Data, chart.Scatter3DOptions{
				XField:     in.XField,
				YField:     in.YField,
				ZField:     in.ZField,
				Title:      in.Title,
				XLabel:     in.XLabel,
				YLabel:     in.YLabel,
				ZLabel:     in.ZLabel,
				ColorField: in.ColorField,
			})
			return chartResult("scatter3d", spec, err)
		},
	)

	add(s, "create_multi_trace_scatter", `Scatter chart with one labeled point group per trace.
Use it after grouping data yourself; prefer labeled_scatter_chart for chiller combinations.`,
		func(_ context.Context, _ Session, in MultiTraceScatterInput) (any, error) {
			spec, err := chart.MultiTrace(in.Traces, chart.MultiTraceOptions{
				Title:         in.Title,
				XLabel:        in.XLabel,
				YLabel:        in.YLabel,
				MarkerSize:    in.MarkerSize,
				MarkerOpacity: in.MarkerOpacity,
			})
			return chartResult("multi_trace_scatter", spec, err)
		},
	)

	addQueryAndChart(s, cfg.Acquirer)
	addLabeledScatter(s, cfg.Acquirer)

	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}
