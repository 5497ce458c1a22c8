// Package templates holds reusable chart templates: their schema, the
// prompt matcher, persistence backends and the cached catalog.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/altocentral/backend/analytics/pkg/bounds"
	"github.com/altocentral/backend/analytics/pkg/grouping"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const (
	DefaultConfidenceThreshold = 0.7
	DefaultTimeRange           = "30d"
	DefaultVersion             = "1.0.0"
	defaultIQRMultiplier       = 1.5
)

var (
	Categories   = []string{"performance", "energy", "equipment", "comparison", "forecast", "custom"}
	ChartTypes   = []string{"line", "scatter", "bar", "heatmap", "box", "multi"}
	TraceTypes   = []string{"scatter", "line", "bar", "box", "heatmap"}
	Creators     = []string{"system", "ai", "user"}
	HVACContexts = []string{"water", "air", "all"}
	ParamTypes   = []string{"string", "number", "date_range", "enum", "boolean", "device"}
)

type Matching struct {
	TriggerPhrases []string `yaml:"trigger_phrases" json:"trigger_phrases"`

	// RequiredKeywords needs one keyword of every group to be present.
	RequiredKeywords [][]string `yaml:"required_keywords,omitempty" json:"required_keywords,omitempty"`
	ExcludedKeywords []string   `yaml:"excluded_keywords,omitempty" json:"excluded_keywords,omitempty"`

	// ConfidenceThreshold of zero means DefaultConfidenceThreshold.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
}

type Metadata struct {
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Category    string   `yaml:"category" json:"category"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	HVACContext string   `yaml:"hvac_context,omitempty" json:"hvac_context,omitempty"`
}

type DerivedField struct {
	Name    string `yaml:"name" json:"name"`
	Formula string `yaml:"formula" json:"formula"`
	Unit    string `yaml:"unit,omitempty" json:"unit,omitempty"`
}

type Query struct {
	ID         string         `yaml:"query_id" json:"query_id"`
	DeviceID   string         `yaml:"device_id" json:"device_id"`
	Datapoints []string       `yaml:"datapoints" json:"datapoints"`
	Derived    []DerivedField `yaml:"derived,omitempty" json:"derived,omitempty"`
}

type TimeRange struct {
	Type  string `yaml:"type" json:"type"`
	Value string `yaml:"value" json:"value"`
}

type OutlierFilter struct {
	Enabled       *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Method        string   `yaml:"method,omitempty" json:"method,omitempty"`
	IQRMultiplier float64  `yaml:"iqr_multiplier,omitempty" json:"iqr_multiplier,omitempty"`
	MinLoad       *float64 `yaml:"min_load,omitempty" json:"min_load,omitempty"`
}

// On reports whether outlier filtering applies; it defaults to on.
func (o OutlierFilter) On() bool {
	return o.Enabled == nil || *o.Enabled
}

type DataConfig struct {
	Source           string               `yaml:"source,omitempty" json:"source,omitempty"`
	Queries          []Query              `yaml:"queries" json:"queries"`
	DefaultTimeRange TimeRange            `yaml:"default_time_range" json:"default_time_range"`
	Resampling       string               `yaml:"resampling,omitempty" json:"resampling,omitempty"`
	Filters          []grouping.Condition `yaml:"filters,omitempty" json:"filters,omitempty"`
	OutlierFilter    OutlierFilter        `yaml:"outlier_filter" json:"outlier_filter"`
}

type AxisConfig struct {
	Title string    `yaml:"title" json:"title"`
	Field string    `yaml:"field" json:"field"`
	Type  string    `yaml:"type,omitempty" json:"type,omitempty"`
	Range []float64 `yaml:"range,omitempty" json:"range,omitempty"`
}

type MarkerConfig struct {
	Size       int     `yaml:"size,omitempty" json:"size,omitempty"`
	Opacity    float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	Color      string  `yaml:"color,omitempty" json:"color,omitempty"`
	ColorField string  `yaml:"color_field,omitempty" json:"color_field,omitempty"`
	Colorscale string  `yaml:"colorscale,omitempty" json:"colorscale,omitempty"`
}

type LineConfig struct {
	Width int    `yaml:"width,omitempty" json:"width,omitempty"`
	Dash  string `yaml:"dash,omitempty" json:"dash,omitempty"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

type TraceConfig struct {
	Name   string        `yaml:"name" json:"name"`
	Type   string        `yaml:"type" json:"type"`
	Mode   string        `yaml:"mode,omitempty" json:"mode,omitempty"`
	XField string        `yaml:"x_field" json:"x_field"`
	YField string        `yaml:"y_field" json:"y_field"`
	Marker *MarkerConfig `yaml:"marker,omitempty" json:"marker,omitempty"`
	Line   *LineConfig   `yaml:"line,omitempty" json:"line,omitempty"`
	YAxis  string        `yaml:"yaxis,omitempty" json:"yaxis,omitempty"`
}

type ChartLayout struct {
	Title  string         `yaml:"title" json:"title"`
	XAxis  AxisConfig     `yaml:"xaxis" json:"xaxis"`
	YAxis  AxisConfig     `yaml:"yaxis" json:"yaxis"`
	YAxis2 *AxisConfig    `yaml:"yaxis2,omitempty" json:"yaxis2,omitempty"`
	Legend map[string]any `yaml:"legend,omitempty" json:"legend,omitempty"`
	Height int            `yaml:"height,omitempty" json:"height,omitempty"`
	Width  int            `yaml:"width,omitempty" json:"width,omitempty"`
}

type ChartConfig struct {
	Type        string           `yaml:"type" json:"type"`
	Layout      ChartLayout      `yaml:"layout" json:"layout"`
	Traces      []TraceConfig    `yaml:"traces" json:"traces"`
	Shapes      []map[string]any `yaml:"shapes,omitempty" json:"shapes,omitempty"`
	Annotations []map[string]any `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

type Parameter struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Default     any      `yaml:"default" json:"default"`
	Description string   `yaml:"description" json:"description"`
	Options     []string `yaml:"options,omitempty" json:"options,omitempty"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
}

// Template pairs a data query with a chart shape and the phrases that select
// it.
type Template struct {
	ID        string    `yaml:"template_id" json:"template_id"`
	Version   string    `yaml:"version" json:"version"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
	CreatedBy string    `yaml:"created_by" json:"created_by"`

	Matching   Matching    `yaml:"matching" json:"matching"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Data       DataConfig  `yaml:"data" json:"data"`
	Chart      ChartConfig `yaml:"chart" json:"chart"`
	Parameters []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	UsageCount  int        `yaml:"usage_count" json:"usage_count"`
	SuccessRate float64    `yaml:"success_rate" json:"success_rate"`
	LastUsed    *time.Time `yaml:"last_used,omitempty" json:"last_used,omitempty"`

	// Site owns a custom template; builtins have none. It comes from where the
	// template is stored, not from its document.
	Site string `yaml:"-" json:"-"`
}

// Key identifies the template within a catalog: "<site>:<id>" for custom
// templates and the bare id for builtins.
func (t *Template) Key() string {
	return Key(t.Site, t.ID)
}

func Key(site, id string) string {
	if site == "" {
		return id
	}
	return site + ":" + id
}

func (t *Template) Custom() bool { return t.Site != "" }

// Validate fills defaults and rejects malformed templates.
func (t *Template) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if t.ID == "" {
		fail("template_id is required")
	} else if strings.ContainsAny(t.ID, "/:\\ ") {
		fail("template_id %q must not contain separators or spaces", t.ID)
	}
	if t.Version == "" {
		t.Version = DefaultVersion
	}
	if t.CreatedBy == "" {
		t.CreatedBy = "system"
	}
	if !slices.Contains(Creators, t.CreatedBy) {
		fail("created_by %q is not one of %v", t.CreatedBy, Creators)
	}
	if t.SuccessRate == 0 {
		t.SuccessRate = 1
	}
	if t.SuccessRate < 0 || t.SuccessRate > 1 {
		fail("success_rate must be within [0, 1]")
	}

	m := &t.Matching
	if len(m.TriggerPhrases) == 0 {
		fail("matching.trigger_phrases is required")
	}
	if m.ConfidenceThreshold == 0 {
		m.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		fail("matching.confidence_threshold must be within [0, 1]")
	}

	md := &t.Metadata
	if md.Title == "" {
		fail("metadata.title is required")
	}
	if !slices.Contains(Categories, md.Category) {
		fail("metadata.category %q is not one of %v", md.Category, Categories)
	}
	if md.HVACContext == "" {
		md.HVACContext = "all"
	}
	if !slices.Contains(HVACContexts, md.HVACContext) {
		fail("metadata.hvac_context %q is not one of %v", md.HVACContext, HVACContexts)
	}

	d := &t.Data
	if d.Source == "" {
		d.Source = "timescale"
	}
	if len(d.Queries) == 0 {
		fail("data.queries is required")
	}
	for i, q := range d.Queries {
		if q.DeviceID == "" {
			fail("data.queries[%d].device_id is required", i)
		}
		if len(q.Datapoints) == 0 {
			fail("data.queries[%d].datapoints is required", i)
		}
		for _, f := range q.Derived {
			if _, err := grouping.ParseField(f.Name, f.Formula, 0); err != nil {
				fail("data.queries[%d]: %w", i, err)
			}
		}
	}
	if d.DefaultTimeRange.Type == "" {
		d.DefaultTimeRange.Type = "relative"
	}
	if d.DefaultTimeRange.Value == "" {
		d.DefaultTimeRange.Value = DefaultTimeRange
	}
	if d.DefaultTimeRange.Type != "relative" && d.DefaultTimeRange.Type != "absolute" {
		fail("data.default_time_range.type %q is not relative or absolute", d.DefaultTimeRange.Type)
	}
	if d.Resampling != "" {
		if _, err := timeseries.ParseResample(d.Resampling); err != nil {
			fail("data.resampling: %w", err)
		}
	}
	for _, c := range d.Filters {
		if err := c.Validate(); err != nil {
			fail("data.filters: %w", err)
		}
	}
	of := &d.OutlierFilter
	if of.Method == "" {
		of.Method = string(bounds.MethodBoth)
	}
	if _, err := bounds.ParseMethod(of.Method); err != nil {
		fail("data.outlier_filter.method: %w", err)
	}
	if of.IQRMultiplier == 0 {
		of.IQRMultiplier = defaultIQRMultiplier
	}
	if of.IQRMultiplier < 1 || of.IQRMultiplier > 3 {
		fail("data.outlier_filter.iqr_multiplier must be within [1, 3]")
	}

	c := &t.Chart
	if !slices.Contains(ChartTypes, c.Type) {
		fail("chart.type %q is not one of %v", c.Type, ChartTypes)
	}
	if c.Layout.Title == "" {
		c.Layout.Title = md.Title
	}
	for i, tr := range c.Traces {
		if !slices.Contains(TraceTypes, tr.Type) {
			fail("chart.traces[%d].type %q is not one of %v", i, tr.Type, TraceTypes)
		}
		if tr.XField == "" || tr.YField == "" {
			fail("chart.traces[%d] needs x_field and y_field", i)
		}
	}
	for i, p := range t.Parameters {
		if p.Name == "" {
			fail("parameters[%d].name is required", i)
		}
		if !slices.Contains(ParamTypes, p.Type) {
			fail("parameters[%d].type %q is not one of %v", i, p.Type, ParamTypes)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid template %q: %w", t.ID, errors.Join(errs...))
	}
	return nil
}

// DerivedFields parses the derived fields of a query.
func (q Query) DerivedFields() ([]grouping.Field, error) {
	out := make([]grouping.Field, 0, len(q.Derived))
	for _, f := range q.Derived {
		field, err := grouping.ParseField(f.Name, f.Formula, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, field)
	}
	return out, nil
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	raw, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("templates: marshal %s: %v", t.ID, err))
	}
	var out Template
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("templates: unmarshal %s: %v", t.ID, err))
	}
	out.Site = t.Site
	return &out
}

// BumpPatch increments the last component of a dotted version.
func BumpPatch(version string) (string, error) {
	parts := strings.Split(version, ".")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return "", fmt.Errorf("invalid version %q", version)
	}
	parts[len(parts)-1] = strconv.Itoa(n + 1)
	return strings.Join(parts, "."), nil
}

// ListItem summarizes a template for listings.
type ListItem struct {
	TemplateID  string   `json:"template_id"`
	Site        string   `json:"site_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	CreatedBy   string   `json:"created_by"`
	Version     string   `json:"version"`
	UsageCount  int      `json:"usage_count"`
	Tags        []string `json:"tags"`
}

func (t *Template) ListItem() ListItem {
	return ListItem{
		TemplateID:  t.ID,
		Site:        t.Site,
		Title:       t.Metadata.Title,
		Description: t.Metadata.Description,
		Category:    t.Metadata.Category,
		CreatedBy:   t.CreatedBy,
		Version:     t.Version,
		UsageCount:  t.UsageCount,
		Tags:        t.Metadata.Tags,
	}
}
