package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/altocentral/backend/analytics/pkg/chart"
	"github.com/altocentral/backend/analytics/pkg/grouping"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

var plantAxisLabels = map[string]string{
	"cooling_rate": "Cooling Load (RT)",
	"power":        "Power (kW)",
	"efficiency":   efficiencyYLabel,
}

type LabeledScatterInput struct {
	Title             string   `json:"title" jsonschema:"Chart title"`
	LabelBy           string   `json:"label_by" jsonschema:"How points are grouped: by number of running chillers, by the exact combination, or by combination among instants with a fixed count"`
	ChillerIDs        []string `json:"chiller_ids" jsonschema:"Chillers whose status_read drives the grouping, e.g. chiller_1, chiller_2, chiller_3"`
	TimeRange         string   `json:"time_range,omitempty" jsonschema:"Relative range like 7d, or an ISO interval start/end"`
	XMetric           string   `json:"x_metric,omitempty" jsonschema:"Plant metric for the x axis"`
	YMetric           string   `json:"y_metric,omitempty" jsonschema:"Plant metric for the y axis"`
	FixedChillerCount *int     `json:"fixed_chiller_count,omitempty" jsonschema:"Running chiller count kept for chiller_combination_fixed_count"`
	MinCoolingLoad    float64  `json:"min_cooling_load,omitempty" jsonschema:"Minimum plant cooling_rate in RT"`
	Resolution        string   `json:"resolution,omitempty" jsonschema:"Resampling interval"`
}

const labeledScatterDescription = `Scatter chart of plant data grouped by which chillers were running.
Fetches plant power and cooling_rate, derives efficiency, reads every chiller's
status_read and colors each point by its group. Use it for questions like
"efficiency vs load by number of running chillers" or "compare chiller
combinations".`

func addLabeledScatter(s *Set, acq *timeseries.Acquirer) {
	add(s, "labeled_scatter_chart", labeledScatterDescription,
		func(ctx context.Context, sess Session, in LabeledScatterInput) (any, error) {
			labeler, err := grouping.ParseLabeler(in.LabelBy, in.FixedChillerCount)
			if err != nil {
				return nil, err
			}
			if len(in.ChillerIDs) == 0 {
				return nil, errors.New("at least one chiller id is required")
			}
			resample, err := timeseries.ParseResample(in.Resolution)
			if err != nil {
				return nil, err
			}
			start, end, err := timeseries.ParseInterval(in.TimeRange, acq.Now())
			if err != nil {
				return nil, err
			}
			startStr, endStr := start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano)

			plant := acq.Query(ctx, timeseries.QueryRequest{
				SiteID:     sess.SiteID,
				DeviceID:   "plant",
				Datapoints: []string{"power", "cooling_rate"},
				Start:      startStr,
				End:        endStr,
				Resample:   resample,
				MinLoad:    ptr(in.MinCoolingLoad),
			})
			if plant.Err != nil {
				return nil, fmt.Errorf("failed to query plant data: %w", plant.Err)
			}
			if len(plant.Records) == 0 {
				return nil, errors.New("no plant data returned")
			}
			records := grouping.Derive(plant.Records, grouping.Efficiency)

			status := acq.BatchQuery(ctx, timeseries.BatchRequest{
				SiteID:     sess.SiteID,
				DeviceIDs:  in.ChillerIDs,
				Datapoints: []string{grouping.StatusMetric},
				Start:      startStr,
				End:        endStr,
				Resample:   resample,
			})
			for _, e := range status.Errors {
				s.log.Warn("tools: chiller status query failed", "site_id", sess.SiteID, "error", e)
			}

			groups := grouping.GroupBy(records, grouping.BuildStatusMap(status.Records), in.ChillerIDs, labeler, in.XMetric, in.YMetric)
			if len(groups) == 0 {
				return nil, errors.New("no data after grouping")
			}

			spec, err := chart.MultiTrace(chart.SeriesFromGroups(groups), chart.MultiTraceOptions{
				Title:  in.Title,
				XLabel: plantAxisLabels[in.XMetric],
				YLabel: plantAxisLabels[in.YMetric],
			})
			if err != nil {
				return nil, err
			}
			return ChartOutput{
				Success:    true,
				ChartType:  "labeled_scatter",
				PlotlySpec: spec,
				DataSummary: &DataSummary{
					LabelBy:     in.LabelBy,
					Groups:      grouping.Labels(groups),
					TotalPoints: grouping.PointCount(groups),
					TimeRange:   in.TimeRange,
				},
			}, nil
		},
		enum("label_by", grouping.LabelByCount, grouping.LabelByCombination, grouping.LabelByCombinationFixedCount),
		defaultValue("time_range", defaultTimeRange),
		enum("x_metric", "cooling_rate", "power"),
		defaultValue("x_metric", "cooling_rate"),
		enum("y_metric", "efficiency", "power", "cooling_rate"),
		defaultValue("y_metric", "efficiency"),
		defaultValue("min_cooling_load", efficiencyMinLoad),
		enum("resolution", "15m", "1h"),
		defaultValue("resolution", "15m"),
	)
}
