package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/altocentral/backend/analytics/pkg/bounds"
	"github.com/altocentral/backend/analytics/pkg/chart"
	"github.com/altocentral/backend/analytics/pkg/grouping"
	"github.com/altocentral/backend/analytics/pkg/templates"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const (
	dateRangeParam = "date_range"
	sourcePrefix   = "timescale:"
)

var errNoTemplateData = errors.New("no data returned for template queries")

// templateOutcome is the result of running a template. A non-nil err sends
// the request on to the agent.
type templateOutcome struct {
	spec    *chart.Spec
	sources []string
	points  int
	err     error
}

func (s *Service) runTemplate(ctx context.Context, t *templates.Template, site string, given map[string]any) templateOutcome {
	params, err := resolveParams(t, given)
	if err != nil {
		return templateOutcome{err: err}
	}

	window := t.Data.DefaultTimeRange.Value
	if v, ok := given[dateRangeParam]; ok {
		window = fmt.Sprint(v)
	}
	start, end, err := timeseries.ParseInterval(window, s.cfg.Acquirer.Now())
	if err != nil {
		return templateOutcome{err: fmt.Errorf("invalid time range %q: %w", window, err)}
	}
	resample, err := timeseries.ParseResample(t.Data.Resampling)
	if err != nil {
		return templateOutcome{err: err}
	}

	out := templateOutcome{sources: []string{}}
	var series [][]timeseries.Record
	of := t.Data.OutlierFilter
	for _, q := range t.Data.Queries {
		device, err := substitute(q.DeviceID, params)
		if err != nil {
			return templateOutcome{err: err}
		}
		fields, err := q.DerivedFields()
		if err != nil {
			return templateOutcome{err: err}
		}

		res := s.cfg.Acquirer.Query(ctx, timeseries.QueryRequest{
			SiteID:            site,
			DeviceID:          device,
			Datapoints:        q.Datapoints,
			Start:             start.Format(time.RFC3339Nano),
			End:               end.Format(time.RFC3339Nano),
			Resample:          resample,
			MinLoad:           of.MinLoad,
			SkipOutlierFilter: !of.On(),
			Method:            bounds.Method(of.Method),
			IQRMultiplier:     of.IQRMultiplier,
		})
		if res.Err != nil {
			s.log.Warn("service: template query failed", "template_id", t.ID, "device_id", device, "error", res.Err)
			continue
		}
		out.sources = append(out.sources, sourcePrefix+device)
		series = append(series, grouping.Derive(res.Records, fields...))
	}

	records := grouping.Concat(series...)
	records, err = grouping.ApplyConditions(records, t.Data.Filters)
	if err != nil {
		return templateOutcome{err: err}
	}
	if len(records) == 0 {
		return templateOutcome{err: errNoTemplateData}
	}

	var loc *time.Location
	if s.cfg.Sites != nil {
		loc = s.cfg.Sites.Location(site)
	}
	out.spec, err = buildTemplateChart(t.Chart, chart.Rows(records, loc))
	if err != nil {
		return templateOutcome{err: err}
	}
	out.points = len(records)
	return out
}

// resolveParams layers the given values over the declared defaults.
func resolveParams(t *templates.Template, given map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(t.Parameters)+len(given))
	for _, p := range t.Parameters {
		if p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	maps.Copy(out, given)
	for _, p := range t.Parameters {
		if _, ok := out[p.Name]; p.Required && !ok {
			return nil, fmt.Errorf("parameter %q is required", p.Name)
		}
	}
	return out, nil
}

// substitute replaces {name} placeholders in s with parameter values.
func substitute(s string, params map[string]any) (string, error) {
	if !strings.Contains(s, "{") {
		return s, nil
	}
	for name, v := range params {
		s = strings.ReplaceAll(s, "{"+name+"}", fmt.Sprint(v))
	}
	if strings.ContainsAny(s, "{}") {
		return "", fmt.Errorf("unresolved parameter in %q", s)
	}
	return s, nil
}

func buildTemplateChart(cfg templates.ChartConfig, rows []chart.Row) (*chart.Spec, error) {
	layout := cfg.Layout
	xField := layout.XAxis.Field
	if xField == "" {
		xField = "timestamp"
	}

	switch cfg.Type {
	case "scatter":
		opts := chart.ScatterOptions{
			XField: xField,
			YField: layout.YAxis.Field,
			Title:  layout.Title,
			XLabel: layout.XAxis.Title,
			YLabel: layout.YAxis.Title,
		}
		if len(cfg.Traces) > 0 {
			tr := cfg.Traces[0]
			opts.XField, opts.YField = tr.XField, tr.YField
			if m := tr.Marker; m != nil {
				opts.MarkerSize = m.Size
				opts.MarkerOpacity = m.Opacity
				opts.ColorField = m.ColorField
				opts.Colorscale = m.Colorscale
			}
		}
		return chart.Scatter(rows, opts)

	case "line":
		opts := chart.LineOptions{
			XField: xField,
			Title:  layout.Title,
			XLabel: layout.XAxis.Title,
			YLabel: layout.YAxis.Title,
		}
		for _, tr := range cfg.Traces {
			opts.YFields = append(opts.YFields, tr.YField)
			opts.SeriesNames = append(opts.SeriesNames, tr.Name)
			var style chart.LineStyle
			if tr.Line != nil {
				style = chart.LineStyle{Color: tr.Line.Color, Width: tr.Line.Width, Dash: tr.Line.Dash}
			}
			opts.Styles = append(opts.Styles, style)
		}
		if len(opts.YFields) == 0 && layout.YAxis.Field != "" {
			opts.YFields = []string{layout.YAxis.Field}
		}
		return chart.Line(rows, opts)

	case "bar":
		opts := chart.BarOptions{
			XField: xField,
			YField: layout.YAxis.Field,
			Title:  layout.Title,
			XLabel: layout.XAxis.Title,
			YLabel: layout.YAxis.Title,
		}
		if len(cfg.Traces) > 0 {
			tr := cfg.Traces[0]
			opts.XField, opts.YField = tr.XField, tr.YField
			if tr.Marker != nil {
				opts.Color = tr.Marker.Color
			}
		}
		return chart.Bar(rows, opts)

	case "multi":
		opts := chart.MultiAxisOptions{
			XField:  xField,
			Title:   layout.Title,
			XLabel:  layout.XAxis.Title,
			Y1Label: layout.YAxis.Title,
		}
		if layout.YAxis2 != nil {
			opts.Y2Label = layout.YAxis2.Title
		}
		for _, tr := range cfg.Traces {
			kind := "line"
			if tr.Type == "bar" {
				kind = "bar"
			}
			if tr.YAxis == "y2" {
				opts.Y2Fields = append(opts.Y2Fields, tr.YField)
				opts.Y2Names = append(opts.Y2Names, tr.Name)
				opts.Y2Type = kind
			} else {
				opts.Y1Fields = append(opts.Y1Fields, tr.YField)
				opts.Y1Names = append(opts.Y1Names, tr.Name)
				opts.Y1Type = kind
			}
		}
		return chart.MultiAxis(rows, opts)
	}
	return nil, fmt.Errorf("template chart: %w %q", chart.ErrUnknownChartType, cfg.Type)
}
