package timeseries

import (
	"context"
	"fmt"
)

type BatchRequest struct {
	SiteID     string
	DeviceIDs  []string
	Datapoints []string
	Start      string
	End        string

	// Resample defaults to 15m.
	Resample       Resample
	FilterOutliers bool
}

type BatchResult struct {
	DeviceIDs  []string `json:"device_ids"`
	Datapoints []string `json:"datapoints"`
	Start      string   `json:"start_time"`
	End        string   `json:"end_time"`
	TotalRows  int      `json:"total_rows"`
	Records    []Record `json:"data"`
	Errors     []string `json:"errors"`
}

// BatchQuery runs the same query for every device concurrently and joins the
// results once all of them have completed. Records carry their device id;
// order is ascending by timestamp within a device only. A failing device is
// reported in Errors and does not fail the batch.
func (a *Acquirer) BatchQuery(ctx context.Context, req BatchRequest) BatchResult {
	resample := req.Resample
	if resample == ResampleNone {
		resample = defaultBatchResample
	}

	a.log.Debug("acquire: batch query", "site_id", req.SiteID, "devices", len(req.DeviceIDs), "datapoints", req.Datapoints)

	group := a.batchPool.NewGroupContext(ctx)
	for _, deviceID := range req.DeviceIDs {
		group.Submit(func() Result {
			return a.Query(ctx, QueryRequest{
				SiteID:            req.SiteID,
				DeviceID:          deviceID,
				Datapoints:        req.Datapoints,
				Start:             req.Start,
				End:               req.End,
				Resample:          resample,
				SkipOutlierFilter: !req.FilterOutliers,
			})
		})
	}
	results, err := group.Wait()

	out := BatchResult{
		DeviceIDs:  req.DeviceIDs,
		Datapoints: req.Datapoints,
		Start:      req.Start,
		End:        req.End,
		Records:    []Record{},
	}
	if err != nil {
		for _, deviceID := range req.DeviceIDs {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", deviceID, err))
		}
		return out
	}

	for i, res := range results {
		deviceID := req.DeviceIDs[i]
		if res.Err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", deviceID, res.Err))
			continue
		}
		for _, rec := range res.Records {
			rec.DeviceID = deviceID
			out.Records = append(out.Records, rec)
		}
		out.TotalRows += len(res.Records)
	}

	a.log.Debug("acquire: batch query done", "total_rows", out.TotalRows, "errors", len(out.Errors))
	return out
}
