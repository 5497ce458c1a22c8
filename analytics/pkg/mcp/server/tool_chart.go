package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/altocentral/backend/analytics/pkg/metrics"
	"github.com/altocentral/backend/analytics/pkg/service"
)

type GenerateChartInput struct {
	Prompt        string         `json:"prompt" jsonschema:"Natural-language description of the chart, e.g. 'plant efficiency vs load this week'"`
	SiteID        string         `json:"site_id,omitempty" jsonschema:"Site to chart; defaults to the server's site"`
	Parameters    map[string]any `json:"parameters,omitempty" jsonschema:"Template parameter overrides such as device or date_range"`
	SkipTemplates bool           `json:"skip_templates,omitempty" jsonschema:"Go straight to the AI agent"`
	SkipAI        bool           `json:"skip_ai,omitempty" jsonschema:"Only try saved templates"`
}

type TemplateChartInput struct {
	TemplateID string         `json:"template_id" jsonschema:"Template to render"`
	SiteID     string         `json:"site_id,omitempty" jsonschema:"Site to chart; defaults to the server's site"`
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"Template parameter values"`
}

type ListTemplatesInput struct {
	SiteID   string `json:"site_id,omitempty" jsonschema:"Include templates saved for this site"`
	Category string `json:"category,omitempty" jsonschema:"Only list templates in this category, e.g. energy or efficiency"`
}

func (s *Server) registerChartTools() error {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "generate_chart",
		Description: `Generate a Plotly chart of HVAC data from a natural-language request.
			Saved templates are tried first; when none matches closely enough an AI agent queries the data and builds the chart.
			The result carries plotly_spec, the data sources used and a short message.`,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in GenerateChartInput) (*mcp.CallToolResult, any, error) {
		return s.respond("generate_chart", func() service.Response {
			return s.cfg.Service.GenerateChart(ctx, service.Request{
				Prompt:        in.Prompt,
				SiteID:        s.site(in.SiteID),
				Parameters:    in.Parameters,
				SkipTemplates: in.SkipTemplates,
				SkipAI:        in.SkipAI,
			})
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_chart_from_template",
		Description: "Render a saved chart template by id with optional parameter values.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in TemplateChartInput) (*mcp.CallToolResult, any, error) {
		return s.respond("generate_chart_from_template", func() service.Response {
			return s.cfg.Service.GenerateFromTemplate(ctx, in.TemplateID, s.site(in.SiteID), in.Parameters)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_chart_templates",
		Description: "List saved chart templates, most used first.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ListTemplatesInput) (*mcp.CallToolResult, any, error) {
		items, err := s.cfg.Service.ListTemplates(ctx, s.site(in.SiteID), in.Category)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list templates: %w", err)
		}
		res, err := textResult(map[string]any{"templates": items, "count": len(items)}, false)
		return res, nil, err
	})
	return nil
}

// respond runs fn and encodes its response. A response carrying an error is
// returned as a tool error so clients can tell it apart from a chart.
func (s *Server) respond(tool string, fn func() service.Response) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	resp := fn()
	metrics.ToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())

	status := "success"
	if resp.Error != nil {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	s.log.Debug("mcp/tool: handled", "tool", tool, "status", status, "chart", resp.PlotlySpec != nil)

	res, err := textResult(resp, resp.Error != nil)
	return res, nil, err
}

func (s *Server) site(siteID string) string {
	if siteID == "" {
		return s.cfg.DefaultSite
	}
	return siteID
}

func textResult(v any, isError bool) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
		IsError: isError,
	}, nil
}
