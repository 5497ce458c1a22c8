package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

var resampleEnum = []any{"1m", "5m", "15m", "1h", "1d"}

type DataConfig struct {
	Logger   *slog.Logger
	Acquirer *timeseries.Acquirer
}

func (cfg *DataConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Acquirer == nil {
		return errors.New("acquirer is required")
	}
	return nil
}

type QueryTimeseriesInput struct {
	DeviceID       string   `json:"device_id" jsonschema:"Device ID such as plant, chiller_1 or chilled_water_loop"`
	Datapoints     []string `json:"datapoints" jsonschema:"Datapoint names such as power and cooling_rate"`
	StartTime      string   `json:"start_time" jsonschema:"Start as an ISO 8601 timestamp or a relative offset like 7d, 24h or 1h"`
	EndTime        string   `json:"end_time" jsonschema:"End as an ISO 8601 timestamp or now"`
	Resample       string   `json:"resample,omitempty" jsonschema:"Resampling interval"`
	FilterOutliers bool     `json:"filter_outliers,omitempty" jsonschema:"Remove outliers using IQR and HVAC bounds"`
	MinLoad        *float64 `json:"min_load,omitempty" jsonschema:"Minimum cooling_rate in RT to keep; use 50 for efficiency charts"`
}

type QueryRealtimeInput struct {
	DeviceIDs []string `json:"device_ids,omitempty" jsonschema:"Device IDs to read; empty reads every device"`
}

type AggregateDataInput struct {
	DeviceID    string `json:"device_id" jsonschema:"Device ID"`
	Datapoint   string `json:"datapoint" jsonschema:"Single datapoint to aggregate"`
	StartTime   string `json:"start_time" jsonschema:"Start time"`
	EndTime     string `json:"end_time" jsonschema:"End time"`
	Aggregation string `json:"aggregation" jsonschema:"Aggregation function"`
	GroupBy     string `json:"group_by" jsonschema:"Time bucket; hour_of_day groups by hour across all days"`
}

type BatchQueryInput struct {
	DeviceIDs  []string `json:"device_ids" jsonschema:"Device IDs to query, e.g. chiller_1, chiller_2, chiller_3"`
	Datapoints []string `json:"datapoints" jsonschema:"Datapoints to fetch from every device, e.g. status_read"`
	StartTime  string   `json:"start_time" jsonschema:"Start as an ISO 8601 timestamp or a relative offset like 7d or 24h"`
	EndTime    string   `json:"end_time" jsonschema:"End as an ISO 8601 timestamp or now"`
	Resample   string   `json:"resample,omitempty" jsonschema:"Resampling interval"`
}

type ListDatapointsInput struct {
	DeviceType string `json:"device_type,omitempty" jsonschema:"Device type to describe"`
}

type ListDatapointsOutput struct {
	DeviceTypes map[string]timeseries.DeviceType `json:"device_types"`
}

const queryTimeseriesDescription = `Query historical timeseries data for one device.
Returns timestamped records for trend analysis and charts.

Use the exact device IDs from the user's prompt. Device ID patterns:
- plant: aggregate plant data
- chiller_{N}: individual chillers
- cooling_tower_{N}: cooling towers
- chilled_water_loop, condenser_water_loop: water loops
- outdoor_weather_station: weather data
- pchp_{N}, schp_{N}, cdwp_{N}: pumps`

const batchQueryDescription = `Query the same datapoints from several devices in one call.
Devices are queried in parallel; every record carries its device_id.
Prefer this over repeated query_timeseries calls, e.g. status_read of every chiller.`

// NewDataTools builds query_timeseries, query_realtime, aggregate_data,
// batch_query_timeseries and list_available_datapoints.
func NewDataTools(cfg *DataConfig) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	acq := cfg.Acquirer
	s := newSet("data", cfg.Logger)

	add(s, "query_timeseries", queryTimeseriesDescription,
		func(ctx context.Context, sess Session, in QueryTimeseriesInput) (any, error) {
			resample, err := timeseries.ParseResample(in.Resample)
			if err != nil {
				return nil, err
			}
			res := acq.Query(ctx, timeseries.QueryRequest{
				SiteID:            sess.SiteID,
				DeviceID:          in.DeviceID,
				Datapoints:        in.Datapoints,
				Start:             in.StartTime,
				End:               in.EndTime,
				Resample:          resample,
				MinLoad:           in.MinLoad,
				SkipOutlierFilter: !in.FilterOutliers,
			})
			if res.Err != nil {
				return nil, res.Err
			}
			return res, nil
		},
		enum("resample", resampleEnum...),
		defaultValue("filter_outliers", true),
	)

	add(s, "query_realtime", "Read the latest value of every datapoint, per device. Use for current equipment status.",
		func(ctx context.Context, sess Session, in QueryRealtimeInput) (any, error) {
			res := acq.Latest(ctx, timeseries.LatestRequest{SiteID: sess.SiteID, DeviceIDs: in.DeviceIDs})
			if res.Err != nil {
				return nil, fmt.Errorf("no data source available for site %s: %w", sess.SiteID, res.Err)
			}
			return res, nil
		},
	)

	add(s, "aggregate_data", "Aggregate one datapoint into time buckets, e.g. hourly averages, daily totals or peaks.",
		func(ctx context.Context, sess Session, in AggregateDataInput) (any, error) {
			res := acq.Aggregate(ctx, timeseries.AggregateRequest{
				SiteID:      sess.SiteID,
				DeviceID:    in.DeviceID,
				Datapoint:   in.Datapoint,
				Start:       in.StartTime,
				End:         in.EndTime,
				Aggregation: timeseries.Aggregation(in.Aggregation),
				GroupBy:     timeseries.GroupBy(in.GroupBy),
			})
			if res.Err != nil {
				return nil, res.Err
			}
			return res, nil
		},
		enum("aggregation", "avg", "sum", "min", "max", "count"),
		enum("group_by", "hour", "day", "week", "month", "hour_of_day"),
	)

	add(s, "batch_query_timeseries", batchQueryDescription,
		func(ctx context.Context, sess Session, in BatchQueryInput) (any, error) {
			resample, err := timeseries.ParseResample(in.Resample)
			if err != nil {
				return nil, err
			}
			return acq.BatchQuery(ctx, timeseries.BatchRequest{
				SiteID:     sess.SiteID,
				DeviceIDs:  in.DeviceIDs,
				Datapoints: in.Datapoints,
				Start:      in.StartTime,
				End:        in.EndTime,
				Resample:   resample,
			}), nil
		},
		enum("resample", resampleEnum...),
		defaultValue("resample", "15m"),
	)

	deviceTypes := []any{timeseries.AllDeviceTypes}
	for _, name := range timeseries.DeviceTypeNames() {
		deviceTypes = append(deviceTypes, name)
	}
	add(s, "list_available_datapoints", `List device types, their naming patterns and datapoints.
chiller_{N} means chiller_1, chiller_2 and so on; use the exact device IDs from the user's prompt.`,
		func(_ context.Context, _ Session, in ListDatapointsInput) (any, error) {
			types, err := timeseries.ListDatapoints(in.DeviceType)
			if err != nil {
				return nil, err
			}
			return ListDatapointsOutput{DeviceTypes: types}, nil
		},
		enum("device_type", deviceTypes...),
	)

	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}
