package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/altocentral/backend/analytics/pkg/agent/react"
	"github.com/altocentral/backend/analytics/pkg/agent/tools"
	"github.com/altocentral/backend/analytics/pkg/chart"
)

const (
	toolQueryAndChart  = "query_and_chart"
	toolLabeledScatter = "labeled_scatter_chart"
	plantDevice        = "plant"
)

// agentOutcome is the result of an agent run. err is set only when the run
// itself failed; a run without a chart is not an error.
type agentOutcome struct {
	spec       *chart.Spec
	sources    []string
	summary    string
	message    string
	stopReason react.StopReason
	err        error
}

func (s *Service) runAgent(ctx context.Context, req Request) agentOutcome {
	sess := s.session(req.SiteID)
	client, err := s.toolClient(ctx, sess)
	if err != nil {
		return agentOutcome{err: err}
	}
	system := s.cfg.Prompts.BuildSystemPrompt(s.siteName(req.SiteID), "")

	res, err := s.agent.ForSession(system, client).Run(ctx, req.Prompt)
	if err != nil {
		return agentOutcome{err: err}
	}
	out := extract(res.ToolCalls)
	out.message = res.FinalText
	out.stopReason = res.StopReason
	return out
}

// queryResult holds the counters the query tools report.
type queryResult struct {
	RowCount  int `json:"row_count"`
	TotalRows int `json:"total_rows"`
}

// extract takes the chart from the last chart-producing call and collects
// the devices queried along the way.
func extract(calls []react.ToolCallRecord) agentOutcome {
	out := agentOutcome{sources: []string{}}
	var parts []string
	addSource := func(device string) {
		src := sourcePrefix + device
		if !slices.Contains(out.sources, src) {
			out.sources = append(out.sources, src)
		}
	}

	for _, call := range calls {
		if !call.Success {
			continue
		}
		switch {
		case isChartTool(call.Tool):
			var res tools.ChartOutput
			if err := json.Unmarshal([]byte(call.Result), &res); err != nil {
				continue
			}
			if res.PlotlySpec != nil {
				out.spec = res.PlotlySpec
			}
			sum := res.DataSummary
			if sum == nil {
				continue
			}
			switch call.Tool {
			case toolQueryAndChart:
				for _, d := range sum.Devices {
					addSource(d)
				}
				parts = append(parts, fmt.Sprintf("%s: %d points", strings.Join(sum.Devices, ", "), sum.TotalPoints))
			case toolLabeledScatter:
				addSource(plantDevice)
				for _, d := range stringList(call.Input["chiller_ids"]) {
					addSource(d)
				}
				parts = append(parts, fmt.Sprintf("%s: %d points", sum.LabelBy, sum.TotalPoints))
			}

		case strings.HasPrefix(call.Tool, "query_"), strings.HasPrefix(call.Tool, "batch_"), strings.HasPrefix(call.Tool, "aggregate_"):
			devices := stringList(call.Input["device_ids"])
			if d, ok := call.Input["device_id"].(string); ok {
				devices = append(devices, d)
			}
			for _, d := range devices {
				addSource(d)
			}
			var res queryResult
			_ = json.Unmarshal([]byte(call.Result), &res)
			rows := max(res.RowCount, res.TotalRows)
			if len(devices) > 0 {
				parts = append(parts, fmt.Sprintf("%s: %d rows", strings.Join(devices, ", "), rows))
			}
		}
	}
	out.summary = strings.Join(parts, ", ")
	return out
}

func isChartTool(name string) bool {
	return name == toolQueryAndChart || name == toolLabeledScatter || strings.HasPrefix(name, "create_")
}

func stringList(v any) []string {
	if ss, ok := v.([]string); ok {
		return ss
	}
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
