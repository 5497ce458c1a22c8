package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/altocentral/backend/analytics/pkg/chart"
	"github.com/altocentral/backend/analytics/pkg/grouping"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// efficiencyMinLoad is the cooling_rate floor, in RT, applied whenever
// efficiency is computed.
const efficiencyMinLoad = 50.0

const (
	efficiencyYLabel = "Efficiency (kW/RT)"
	defaultTimeRange = "7d"
)

var (
	errNoData       = errors.New("no data returned from queries")
	errFilteredOut  = errors.New("no data after applying filters")
	errNoPeriodData = errors.New("no data returned for any period")

	efficiencyField = grouping.Field{Name: "efficiency", Expr: grouping.Efficiency.Expr, Round: 3}
)

type QueryAndChartInput struct {
	DeviceIDs           []string          `json:"device_ids" jsonschema:"Device IDs to query, e.g. plant or chiller_1"`
	Metrics             []string          `json:"metrics" jsonschema:"Datapoints to fetch, e.g. power and cooling_rate"`
	ChartType           string            `json:"chart_type" jsonschema:"Kind of chart to build"`
	Title               string            `json:"title" jsonschema:"Chart title"`
	TimeRange           string            `json:"time_range,omitempty" jsonschema:"Relative range like 24h or 7d, or an ISO interval start/end"`
	ComparePeriods      []string          `json:"compare_periods,omitempty" jsonschema:"Two or more periods to overlay by hour of day, e.g. today, yesterday, last week or 2025-01-15"`
	Filters             *grouping.Filters `json:"filters,omitempty" jsonschema:"Keep only instants matching equipment state, load and time of day"`
	XMetric             string            `json:"x_metric,omitempty" jsonschema:"Scatter x axis metric; defaults to cooling_rate when fetched"`
	YMetric             string            `json:"y_metric,omitempty" jsonschema:"Y axis metric; defaults to efficiency when calculated"`
	CalculateEfficiency bool              `json:"calculate_efficiency,omitempty" jsonschema:"Derive efficiency as power / cooling_rate in kW/RT; needs both metrics"`
	Resolution          string            `json:"resolution,omitempty" jsonschema:"Resampling interval"`
}

const queryAndChartDescription = `Query data and build a chart in one step. Preferred for most requests.

Handles efficiency (kW/RT) calculation, equipment-state and time-of-day
filters, and period comparisons. Examples:
- Plant efficiency over a week: device_ids [plant], metrics [power, cooling_rate],
  calculate_efficiency true, chart_type line.
- Efficiency vs load: same, with chart_type scatter.
- Today vs yesterday: compare_periods [today, yesterday].
- Only while chiller_1 runs: filters {only_running: [chiller_1]}.`

func addQueryAndChart(s *Set, acq *timeseries.Acquirer) {
	add(s, "query_and_chart", queryAndChartDescription,
		func(ctx context.Context, sess Session, in QueryAndChartInput) (any, error) {
			if len(in.DeviceIDs) == 0 {
				return nil, errors.New("at least one device id is required")
			}
			if len(in.Metrics) == 0 {
				return nil, errors.New("at least one metric is required")
			}
			resample, err := timeseries.ParseResample(in.Resolution)
			if err != nil {
				return nil, err
			}
			q := &chartQuery{log: s.log, acq: acq, sess: sess, in: in, resample: resample}
			if len(in.ComparePeriods) >= 2 {
				return q.comparePeriods(ctx)
			}
			return q.run(ctx)
		},
		enum("chart_type", "line", "scatter", "bar"),
		defaultValue("time_range", defaultTimeRange),
		enum("resolution", "15m", "1h", "1d"),
		defaultValue("resolution", "1h"),
	)
}

type chartQuery struct {
	log      *slog.Logger
	acq      *timeseries.Acquirer
	sess     Session
	in       QueryAndChartInput
	resample timeseries.Resample
}

func (q *chartQuery) efficiency() bool {
	return q.in.CalculateEfficiency && slices.Contains(q.in.Metrics, "power") && slices.Contains(q.in.Metrics, "cooling_rate")
}

// query fetches one device over [start, end) and adds efficiency when
// requested.
func (q *chartQuery) query(ctx context.Context, device string, datapoints []string, start, end time.Time) ([]timeseries.Record, error) {
	req := timeseries.QueryRequest{
		SiteID:     q.sess.SiteID,
		DeviceID:   device,
		Datapoints: datapoints,
		Start:      start.Format(time.RFC3339Nano),
		End:        end.Format(time.RFC3339Nano),
		Resample:   q.resample,
	}
	if q.in.CalculateEfficiency {
		req.MinLoad = ptr(efficiencyMinLoad)
	}
	res := q.acq.Query(ctx, req)
	if res.Err != nil {
		return nil, res.Err
	}
	records := res.Records
	for i := range records {
		records[i].DeviceID = device
	}
	if q.efficiency() {
		records = grouping.Derive(records, efficiencyField)
	}
	return records, nil
}

func (q *chartQuery) run(ctx context.Context) (any, error) {
	start, end, err := timeseries.ParseInterval(q.in.TimeRange, q.acq.Now())
	if err != nil {
		return nil, err
	}

	byDevice := map[string][]timeseries.Record{}
	var devices []string
	for _, device := range q.in.DeviceIDs {
		records, err := q.query(ctx, device, q.in.Metrics, start, end)
		if err != nil {
			q.log.Warn("tools: device query failed", "site_id", q.sess.SiteID, "device_id", device, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		byDevice[device] = records
		devices = append(devices, device)
	}
	if len(devices) == 0 {
		return nil, errNoData
	}

	if q.in.Filters != nil && !q.in.Filters.Empty() {
		status, err := q.statusMap(ctx, q.in.Filters.StatusDevices(), start, end)
		if err != nil {
			return nil, err
		}
		kept := devices[:0]
		for _, device := range devices {
			records := q.in.Filters.Apply(byDevice[device], status, q.sess.location())
			if len(records) == 0 {
				delete(byDevice, device)
				continue
			}
			byDevice[device] = records
			kept = append(kept, device)
		}
		devices = kept
		if len(devices) == 0 {
			return nil, errFilteredOut
		}
	}

	var (
		spec      *chart.Spec
		chartType = q.in.ChartType
	)
	switch chartType {
	case "line":
		spec, err = q.line(devices, byDevice)
	case "scatter":
		spec, err = q.scatter(devices, byDevice)
	case "bar":
		spec, err = q.bar(devices, byDevice)
	default:
		err = fmt.Errorf("%w: %q", chart.ErrUnknownChartType, chartType)
	}
	if err != nil {
		return nil, err
	}

	total := 0
	for _, device := range devices {
		total += len(byDevice[device])
	}
	return ChartOutput{
		Success:    true,
		ChartType:  chartType,
		PlotlySpec: spec,
		DataSummary: &DataSummary{
			Devices:     devices,
			TotalPoints: total,
			TimeRange:   q.in.TimeRange,
		},
	}, nil
}

// statusMap reads status_read of devices without outlier filtering, on the
// same grid as the charted data.
func (q *chartQuery) statusMap(ctx context.Context, devices []string, start, end time.Time) (grouping.StatusMap, error) {
	if len(devices) == 0 {
		return grouping.StatusMap{}, nil
	}
	res := q.acq.BatchQuery(ctx, timeseries.BatchRequest{
		SiteID:     q.sess.SiteID,
		DeviceIDs:  devices,
		Datapoints: []string{grouping.StatusMetric},
		Start:      start.Format(time.RFC3339Nano),
		End:        end.Format(time.RFC3339Nano),
		Resample:   q.resample,
	})
	if len(res.Records) == 0 && len(res.Errors) > 0 {
		return nil, fmt.Errorf("failed to read equipment status: %s", strings.Join(res.Errors, "; "))
	}
	return grouping.BuildStatusMap(res.Records), nil
}

// yMetric is the primary plotted metric.
func (q *chartQuery) yMetric() string {
	switch {
	case q.in.YMetric != "":
		return q.in.YMetric
	case q.efficiency():
		return efficiencyField.Name
	default:
		return q.in.Metrics[len(q.in.Metrics)-1]
	}
}

func (q *chartQuery) xMetric() string {
	switch {
	case q.in.XMetric != "":
		return q.in.XMetric
	case slices.Contains(q.in.Metrics, "cooling_rate"):
		return "cooling_rate"
	default:
		return q.in.Metrics[0]
	}
}

func (q *chartQuery) yLabel(metric string) string {
	if metric == efficiencyField.Name {
		return efficiencyYLabel
	}
	return chart.Humanize(metric)
}

func (q *chartQuery) line(devices []string, byDevice map[string][]timeseries.Record) (*chart.Spec, error) {
	loc := q.sess.location()
	if len(devices) == 1 {
		rows := chart.Rows(byDevice[devices[0]], loc)
		fields := slices.Clone(q.in.Metrics)
		if q.efficiency() {
			fields = append(fields, efficiencyField.Name)
		}
		fields = slices.DeleteFunc(fields, func(f string) bool {
			return !slices.ContainsFunc(rows, func(r chart.Row) bool { return r[f] != nil })
		})
		if len(fields) == 0 {
			return nil, errNoData
		}
		yLabel := "Value"
		if len(fields) == 1 {
			yLabel = q.yLabel(fields[0])
		}
		return chart.Line(rows, chart.LineOptions{
			XField:      "timestamp",
			YFields:     fields,
			Title:       q.in.Title,
			YLabel:      yLabel,
			SeriesNames: humanizeAll(fields),
		})
	}

	metric := q.in.YMetric
	if metric == "" {
		if q.efficiency() {
			metric = efficiencyField.Name
		} else {
			metric = q.in.Metrics[0]
		}
	}
	series := make([]chart.Series, 0, len(devices))
	for _, device := range devices {
		s := chart.Series{Name: chart.Humanize(device)}
		for _, r := range byDevice[device] {
			v, ok := r.Value(metric)
			if !ok {
				continue
			}
			s.X = append(s.X, r.Timestamp.In(loc).Format(time.RFC3339))
			s.Y = append(s.Y, v)
		}
		series = append(series, s)
	}
	return chart.MultiLine(series, q.in.Title, q.yLabel(metric))
}

func (q *chartQuery) scatter(devices []string, byDevice map[string][]timeseries.Record) (*chart.Spec, error) {
	x, y := q.xMetric(), q.yMetric()
	if len(devices) == 1 {
		return chart.Scatter(chart.Rows(byDevice[devices[0]], q.sess.location()), chart.ScatterOptions{
			XField: x,
			YField: y,
			Title:  q.in.Title,
			XLabel: q.yLabel(x),
			YLabel: q.yLabel(y),
		})
	}

	series := make([]chart.Series, 0, len(devices))
	for _, device := range devices {
		s := chart.Series{Name: chart.Humanize(device)}
		for _, r := range byDevice[device] {
			xv, okX := r.Value(x)
			yv, okY := r.Value(y)
			if !okX || !okY {
				continue
			}
			s.X = append(s.X, xv)
			s.Y = append(s.Y, yv)
		}
		series = append(series, s)
	}
	return chart.MultiTrace(series, chart.MultiTraceOptions{
		Title:         q.in.Title,
		XLabel:        q.yLabel(x),
		YLabel:        q.yLabel(y),
		MarkerOpacity: 0.6,
	})
}

// bar plots the mean of the primary metric per device.
func (q *chartQuery) bar(devices []string, byDevice map[string][]timeseries.Record) (*chart.Spec, error) {
	y := q.yMetric()
	rows := make([]chart.Row, 0, len(devices))
	for _, device := range devices {
		sum, n := 0.0, 0
		for _, r := range byDevice[device] {
			if v, ok := r.Value(y); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		rows = append(rows, chart.Row{
			"device": chart.Humanize(device),
			"value":  math.Round(sum/float64(n)*100) / 100,
		})
	}
	if len(rows) == 0 {
		return nil, errNoData
	}
	return chart.Bar(rows, chart.BarOptions{
		XField: "device",
		YField: "value",
		Title:  q.in.Title,
		XLabel: "Device",
		YLabel: q.yLabel(y),
	})
}

// comparePeriods overlays the hour-of-day profile of each period.
func (q *chartQuery) comparePeriods(ctx context.Context) (any, error) {
	metric := q.in.Metrics[0]
	datapoints := slices.DeleteFunc(slices.Clone(q.in.Metrics), func(m string) bool { return m == efficiencyField.Name })
	if q.in.CalculateEfficiency || len(datapoints) < len(q.in.Metrics) {
		metric = efficiencyField.Name
		q.in.CalculateEfficiency = true
		for _, m := range []string{"power", "cooling_rate"} {
			if !slices.Contains(datapoints, m) {
				datapoints = append(datapoints, m)
			}
		}
	}
	q.in.Metrics = datapoints

	loc := q.sess.location()
	now := q.acq.Now().In(loc)
	var (
		periods []chart.Period
		labels  []string
		total   int
	)
	for _, raw := range q.in.ComparePeriods {
		start, end, label, err := parsePeriod(raw, now)
		if err != nil {
			return nil, err
		}
		var records []timeseries.Record
		for _, device := range q.in.DeviceIDs {
			recs, err := q.query(ctx, device, datapoints, start, end)
			if err != nil {
				q.log.Warn("tools: period query failed", "period", raw, "device_id", device, "error", err)
				continue
			}
			records = append(records, recs...)
		}
		p := chart.HourlyProfile(label, records, metric, loc)
		if len(p.Hours) == 0 {
			continue
		}
		periods = append(periods, p)
		labels = append(labels, label)
		total += len(records)
	}
	if len(periods) == 0 {
		return nil, errNoPeriodData
	}

	spec, err := chart.PeriodComparison(periods, q.in.Title, q.yLabel(metric))
	if err != nil {
		return nil, err
	}
	return ChartOutput{
		Success:    true,
		ChartType:  "period_comparison",
		PlotlySpec: spec,
		DataSummary: &DataSummary{
			Devices:     q.in.DeviceIDs,
			Periods:     labels,
			Metric:      metric,
			TotalPoints: total,
		},
	}, nil
}

// parsePeriod resolves a comparison period against now, which carries the
// site's time zone. Day boundaries are local midnights.
func parsePeriod(period string, now time.Time) (time.Time, time.Time, string, error) {
	loc := now.Location()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch p := strings.ToLower(strings.TrimSpace(period)); p {
	case "today":
		return midnight, now, "Today", nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), midnight, "Yesterday", nil
	case "last week", "week ago":
		return midnight.AddDate(0, 0, -7), midnight.AddDate(0, 0, -6), "Last Week", nil
	}
	if day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(period), loc); err == nil {
		return day, day.AddDate(0, 0, 1), day.Format("Jan 02"), nil
	}
	start, err := timeseries.ParseTime(period, now)
	if err != nil {
		return time.Time{}, time.Time{}, "", fmt.Errorf("invalid period %q: %w", period, err)
	}
	return start, now, period, nil
}

func humanizeAll(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = chart.Humanize(f)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
