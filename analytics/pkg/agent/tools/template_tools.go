package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/altocentral/backend/analytics/pkg/templates"
)

type TemplateConfig struct {
	Logger  *slog.Logger
	Catalog *templates.Catalog
}

func (cfg *TemplateConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Catalog == nil {
		return errors.New("catalog is required")
	}
	return nil
}

type SaveTemplateInput struct {
	TemplateID     string         `json:"template_id" jsonschema:"Unique template ID in snake_case, e.g. weekly_chiller_power"`
	Title          string         `json:"title" jsonschema:"Human-readable title"`
	Description    string         `json:"description" jsonschema:"What the chart shows"`
	Category       string         `json:"category" jsonschema:"Template category"`
	TriggerPhrases []string       `json:"trigger_phrases" jsonschema:"Phrases that should select this template"`
	DataConfig     map[string]any `json:"data_config" jsonschema:"Data section: queries (query_id, device_id, datapoints, derived), default_time_range, resampling, outlier_filter"`
	ChartConfig    map[string]any `json:"chart_config" jsonschema:"Chart section: type, layout (title, xaxis, yaxis) and traces (name, type, x_field, y_field)"`
	Tags           []string       `json:"tags,omitempty" jsonschema:"Search tags"`
}

type SaveTemplateOutput struct {
	Success    bool   `json:"success"`
	TemplateID string `json:"template_id"`
	Message    string `json:"message"`
}

type ListTemplatesInput struct {
	Category string `json:"category,omitempty" jsonschema:"Only list templates of this category"`
}

type ListTemplatesOutput struct {
	Success   bool                 `json:"success"`
	Count     int                  `json:"count"`
	Templates []templates.ListItem `json:"templates"`
}

type GetTemplateInput struct {
	TemplateID string `json:"template_id" jsonschema:"Template ID"`
}

type GetTemplateOutput struct {
	Success  bool                `json:"success"`
	Template *templates.Template `json:"template"`
}

const saveTemplateDescription = `Save a successful chart as a reusable template for the current site.
Only save charts the user is likely to request again. The template ID must be
new; saving never overwrites an existing template.`

// NewTemplateTools builds save_chart_template, list_templates and
// get_template over cfg.Catalog. Saved templates belong to the session's site.
func NewTemplateTools(cfg *TemplateConfig) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	catalog := cfg.Catalog
	s := newSet("templates", cfg.Logger)

	categories := make([]any, len(templates.Categories))
	for i, c := range templates.Categories {
		categories[i] = c
	}

	add(s, "save_chart_template", saveTemplateDescription,
		func(ctx context.Context, sess Session, in SaveTemplateInput) (any, error) {
			t := &templates.Template{
				ID:        in.TemplateID,
				Version:   templates.DefaultVersion,
				CreatedBy: "ai",
				Site:      sess.SiteID,
				Matching: templates.Matching{
					TriggerPhrases:      in.TriggerPhrases,
					ConfidenceThreshold: templates.DefaultConfidenceThreshold,
				},
				Metadata: templates.Metadata{
					Title:       in.Title,
					Description: in.Description,
					Category:    in.Category,
					Tags:        in.Tags,
				},
			}
			if err := remarshal(in.DataConfig, &t.Data); err != nil {
				return nil, fmt.Errorf("invalid data_config: %w", err)
			}
			if err := remarshal(in.ChartConfig, &t.Chart); err != nil {
				return nil, fmt.Errorf("invalid chart_config: %w", err)
			}

			err := catalog.Save(ctx, t, false)
			switch {
			case errors.Is(err, templates.ErrTemplateExists):
				return nil, fmt.Errorf("Template '%s' already exists. Use a different ID.", in.TemplateID)
			case err != nil:
				return nil, err
			}
			return SaveTemplateOutput{
				Success:    true,
				TemplateID: in.TemplateID,
				Message:    fmt.Sprintf("Template '%s' saved successfully", in.TemplateID),
			}, nil
		},
		enum("category", categories...),
	)

	add(s, "list_templates", "List the chart templates available to this site, most used first.",
		func(ctx context.Context, sess Session, in ListTemplatesInput) (any, error) {
			items, err := catalog.List(ctx, sess.SiteID, in.Category)
			if err != nil {
				return nil, err
			}
			return ListTemplatesOutput{Success: true, Count: len(items), Templates: items}, nil
		},
		enum("category", append([]any{"all"}, categories...)...),
		defaultValue("category", "all"),
	)

	add(s, "get_template", "Get the full definition of a chart template.",
		func(ctx context.Context, sess Session, in GetTemplateInput) (any, error) {
			t, err := catalog.Get(ctx, in.TemplateID, sess.SiteID)
			switch {
			case errors.Is(err, templates.ErrTemplateNotFound):
				return nil, fmt.Errorf("Template '%s' not found", in.TemplateID)
			case err != nil:
				return nil, err
			}
			return GetTemplateOutput{Success: true, Template: t}, nil
		},
	)

	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}

func remarshal(in map[string]any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
