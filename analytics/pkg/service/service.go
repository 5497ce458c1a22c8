// Package service turns a natural-language chart request into a chart. It
// tries the template catalog first and falls back to the tool-calling agent.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/altocentral/backend/analytics/pkg/agent/prompts"
	"github.com/altocentral/backend/analytics/pkg/agent/react"
	"github.com/altocentral/backend/analytics/pkg/agent/tools"
	"github.com/altocentral/backend/analytics/pkg/chart"
	"github.com/altocentral/backend/analytics/pkg/metrics"
	"github.com/altocentral/backend/analytics/pkg/templates"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const (
	msgUnavailable = "No template matched and AI is not available."

	pathTemplate = "template"
	pathAgent    = "agent"
	pathNone     = "none"
)

// Sites resolves the display name and time zone of a site. Unknown sites get
// an empty name and UTC.
type Sites interface {
	Name(siteID string) string
	Location(siteID string) *time.Location
}

type Config struct {
	Logger   *slog.Logger
	Acquirer *timeseries.Acquirer
	Catalog  *templates.Catalog
	Clock    clockwork.Clock

	// LLM is the reasoning service. Without one only templates can answer.
	LLM     react.LLMClient
	Prompts *prompts.Prompts
	Sites   Sites

	// MinConfidence is the lowest template score accepted.
	MinConfidence float64
	MaxIterations int
	Budget        time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Acquirer == nil {
		return errors.New("acquirer is required")
	}
	if cfg.Catalog == nil {
		return errors.New("catalog is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = templates.DefaultMinConfidence
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return errors.New("min confidence must be within [0, 1]")
	}
	if cfg.Prompts == nil {
		p, err := prompts.Load()
		if err != nil {
			return fmt.Errorf("failed to load prompts: %w", err)
		}
		cfg.Prompts = p
	}
	return nil
}

// Request is one chart request.
type Request struct {
	Prompt string `json:"prompt"`
	SiteID string `json:"site_id"`

	// Parameters override template parameters, e.g. "device" or
	// "date_range".
	Parameters map[string]any `json:"parameters,omitempty"`

	SkipTemplates bool `json:"skip_templates,omitempty"`
	SkipAI        bool `json:"skip_ai,omitempty"`
}

// Response is the outcome of a request. It always carries a message; Error is
// set only when a directly requested template fails.
type Response struct {
	ChartID                 string      `json:"chart_id"`
	PlotlySpec              *chart.Spec `json:"plotly_spec"`
	TemplateUsed            *string     `json:"template_used"`
	TemplateMatchConfidence *float64    `json:"template_match_confidence"`
	DataSources             []string    `json:"data_sources"`
	QuerySummary            string      `json:"query_summary"`
	Message                 string      `json:"message"`
	Suggestions             []string    `json:"suggestions"`
	Error                   *string     `json:"error"`
}

type Service struct {
	log   *slog.Logger
	cfg   *Config
	data  *tools.Set
	chart *tools.Set
	tmpl  *tools.Set
	agent *react.Agent
}

// New builds the tool catalog and, when an LLM is configured, the agent.
// Close releases the agent's worker pool.
func New(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{log: cfg.Logger, cfg: cfg}

	var err error
	if s.data, err = tools.NewDataTools(&tools.DataConfig{Logger: cfg.Logger, Acquirer: cfg.Acquirer}); err != nil {
		return nil, fmt.Errorf("failed to create data tools: %w", err)
	}
	if s.chart, err = tools.NewChartTools(&tools.ChartConfig{Logger: cfg.Logger, Acquirer: cfg.Acquirer}); err != nil {
		return nil, fmt.Errorf("failed to create chart tools: %w", err)
	}
	if s.tmpl, err = tools.NewTemplateTools(&tools.TemplateConfig{Logger: cfg.Logger, Catalog: cfg.Catalog}); err != nil {
		return nil, fmt.Errorf("failed to create template tools: %w", err)
	}

	if cfg.LLM != nil {
		base, err := s.toolClient(context.Background(), tools.Session{})
		if err != nil {
			return nil, err
		}
		s.agent, err = react.NewAgent(&react.Config{
			Logger:        cfg.Logger,
			LLM:           cfg.LLM,
			ToolClient:    base,
			Clock:         cfg.Clock,
			System:        cfg.Prompts.BuildSystemPrompt("", ""),
			MaxIterations: cfg.MaxIterations,
			Budget:        cfg.Budget,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create agent: %w", err)
		}
	}
	return s, nil
}

func (s *Service) Close() {
	if s.agent != nil {
		s.agent.Close()
	}
}

// ToolSets returns the data, chart and template tool groups.
func (s *Service) ToolSets() []*tools.Set {
	return []*tools.Set{s.data, s.chart, s.tmpl}
}

// AIAvailable reports whether the agent path is configured.
func (s *Service) AIAvailable() bool { return s.agent != nil }

// ToolClient returns the whole tool catalog bound to siteID.
func (s *Service) ToolClient(ctx context.Context, siteID string) (react.ToolClient, error) {
	client, err := s.toolClient(ctx, s.session(siteID))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *Service) toolClient(_ context.Context, sess tools.Session) (*tools.Toolbox, error) {
	box, err := tools.NewToolbox(sess, s.data, s.chart, s.tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool client: %w", err)
	}
	return box, nil
}

func (s *Service) session(siteID string) tools.Session {
	sess := tools.Session{SiteID: siteID}
	if s.cfg.Sites != nil {
		sess.Location = s.cfg.Sites.Location(siteID)
	}
	return sess
}

func (s *Service) siteName(siteID string) string {
	if s.cfg.Sites == nil {
		return ""
	}
	return s.cfg.Sites.Name(siteID)
}

func newResponse() Response {
	return Response{
		ChartID:     uuid.NewString()[:8],
		DataSources: []string{},
		Suggestions: []string{},
	}
}

// GenerateChart answers req with a matched template when one fits and runs,
// otherwise with the agent. Failures are reported in the response message.
func (s *Service) GenerateChart(ctx context.Context, req Request) Response {
	resp := newResponse()
	s.log.Info("service: generating chart", "chart_id", resp.ChartID, "site_id", req.SiteID,
		"skip_templates", req.SkipTemplates, "skip_ai", req.SkipAI)

	var catalog []*templates.Template
	if !req.SkipTemplates {
		var err error
		catalog, err = s.cfg.Catalog.ForSite(ctx, req.SiteID)
		if err != nil {
			s.log.Warn("service: template catalog unavailable", "site_id", req.SiteID, "error", err)
		}
		if match, ok := templates.FindMatch(req.Prompt, req.SiteID, catalog, s.cfg.MinConfidence); ok {
			s.log.Info("service: template matched", "template_id", match.Template.ID, "confidence", match.Confidence)
			out := s.runTemplate(ctx, match.Template, req.SiteID, req.Parameters)
			if out.err == nil {
				resp.applyTemplate(match.Template, out)
				resp.TemplateMatchConfidence = &match.Confidence
				s.recordUsage(ctx, match.Template, req.SiteID)
				metrics.ChartRequestsTotal.WithLabelValues(pathTemplate, "ok").Inc()
				return resp
			}
			s.log.Warn("service: template execution failed, falling back to agent",
				"template_id", match.Template.ID, "error", out.err)
			metrics.ChartRequestsTotal.WithLabelValues(pathTemplate, "error").Inc()
		} else {
			s.log.Info("service: no template matched")
		}
	}
	resp.Suggestions = suggestions(req.Prompt, req.SiteID, catalog)

	if req.SkipAI || s.agent == nil {
		s.log.Warn("service: AI not available", "skip_ai", req.SkipAI, "configured", s.agent != nil)
		resp.Message = msgUnavailable
		metrics.ChartRequestsTotal.WithLabelValues(pathNone, "no_chart").Inc()
		return resp
	}

	out := s.runAgent(ctx, req)
	if out.err != nil {
		s.log.Error("service: agent failed", "error", out.err)
		resp.Message = fmt.Sprintf("Failed to generate chart: %v", out.err)
		metrics.ChartRequestsTotal.WithLabelValues(pathAgent, "error").Inc()
		return resp
	}
	resp.PlotlySpec = out.spec
	resp.DataSources = out.sources
	resp.QuerySummary = out.summary
	resp.Message = out.message
	status := "ok"
	if out.spec == nil {
		status = "no_chart"
	}
	s.log.Info("service: agent finished", "stop_reason", out.stopReason, "has_chart", out.spec != nil)
	metrics.ChartRequestsTotal.WithLabelValues(pathAgent, status).Inc()
	return resp
}

// GenerateFromTemplate runs the template id resolves to for site without
// matching.
func (s *Service) GenerateFromTemplate(ctx context.Context, id, site string, params map[string]any) Response {
	t, err := s.cfg.Catalog.Get(ctx, id, site)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, templates.ErrTemplateNotFound) {
			msg = fmt.Sprintf("Template '%s' not found", id)
		}
		return Response{DataSources: []string{}, Suggestions: []string{}, Message: msg, Error: &msg}
	}

	resp := newResponse()
	out := s.runTemplate(ctx, t, site, params)
	if out.err != nil {
		s.log.Error("service: template generation failed", "template_id", id, "error", out.err)
		msg := out.err.Error()
		resp.Message = msg
		resp.Error = &msg
		metrics.ChartRequestsTotal.WithLabelValues(pathTemplate, "error").Inc()
		return resp
	}
	resp.applyTemplate(t, out)
	s.recordUsage(ctx, t, site)
	metrics.ChartRequestsTotal.WithLabelValues(pathTemplate, "ok").Inc()
	return resp
}

// ListTemplates summarizes the templates visible to site, most used first.
// An empty category or "all" lists every category.
func (s *Service) ListTemplates(ctx context.Context, site, category string) ([]templates.ListItem, error) {
	return s.cfg.Catalog.List(ctx, site, category)
}

func (s *Service) recordUsage(ctx context.Context, t *templates.Template, site string) {
	if err := s.cfg.Catalog.RecordUsage(ctx, t.ID, site); err != nil {
		s.log.Warn("service: failed to record template usage", "template_id", t.ID, "error", err)
	}
}

func (r *Response) applyTemplate(t *templates.Template, out templateOutcome) {
	id := t.ID
	r.TemplateUsed = &id
	r.PlotlySpec = out.spec
	r.DataSources = out.sources
	r.QuerySummary = fmt.Sprintf("Queried %d data points", out.points)
	r.Message = fmt.Sprintf("Generated chart using '%s' template.", t.Metadata.Title)
}

// suggestions names the templates that came close to the prompt.
func suggestions(prompt, site string, catalog []*templates.Template) []string {
	out := []string{}
	for _, m := range templates.FindAllMatches(prompt, site, catalog, 0, 0) {
		out = append(out, m.Template.Metadata.Title)
	}
	return out
}
