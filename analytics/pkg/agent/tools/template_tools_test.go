package tools

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/templates"
)

func newTemplateClient(t *testing.T) *Set {
	t.Helper()
	store, err := templates.NewFileStore(t.TempDir())
	require.NoError(t, err)
	catalog, err := templates.NewCatalog(&templates.CatalogConfig{
		Logger: testLogger(t),
		Store:  store,
		Clock:  clockwork.NewFakeClockAt(testNow),
	})
	require.NoError(t, err)
	set, err := NewTemplateTools(&TemplateConfig{Logger: testLogger(t), Catalog: catalog})
	require.NoError(t, err)
	return set
}

func saveArgs(id string) map[string]any {
	return map[string]any{
		"template_id":     id,
		"title":           "Chiller 1 power",
		"description":     "Hourly power of chiller 1",
		"category":        "performance",
		"trigger_phrases": []any{"chiller 1 power", "power of chiller 1"},
		"data_config": map[string]any{
			"queries": []any{map[string]any{
				"query_id":   "default",
				"device_id":  "chiller_1",
				"datapoints": []any{"power"},
			}},
			"default_time_range": map[string]any{"type": "relative", "value": "7d"},
			"resampling":         "1h",
		},
		"chart_config": map[string]any{
			"type": "line",
			"layout": map[string]any{
				"title": "Chiller 1 power",
				"xaxis": map[string]any{"title": "Time", "field": "timestamp"},
				"yaxis": map[string]any{"title": "Power (kW)", "field": "power"},
			},
			"traces": []any{map[string]any{"name": "Power", "type": "line", "x_field": "timestamp", "y_field": "power"}},
		},
		"tags": []any{"chiller", "power"},
	}
}

func TestTools_TemplateConfig_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewTemplateTools(&TemplateConfig{})
	require.EqualError(t, err, "logger is required")
	_, err = NewTemplateTools(&TemplateConfig{Logger: testLogger(t)})
	require.EqualError(t, err, "catalog is required")
}

func TestTools_TemplateTools(t *testing.T) {
	t.Parallel()

	set := newTemplateClient(t)
	siteA := set.ForSession(Session{SiteID: "site-a"})
	siteB := set.ForSession(Session{SiteID: "site-b"})

	out := decode[SaveTemplateOutput](t, call(t, siteA, "save_chart_template", saveArgs("chiller_1_power")))
	assert.True(t, out.Success)
	assert.Equal(t, "Template 'chiller_1_power' saved successfully", out.Message)

	got := decode[GetTemplateOutput](t, call(t, siteA, "get_template", map[string]any{"template_id": "chiller_1_power"}))
	require.NotNil(t, got.Template)
	assert.Equal(t, "ai", got.Template.CreatedBy)
	assert.Equal(t, templates.DefaultVersion, got.Template.Version)
	assert.InDelta(t, templates.DefaultConfidenceThreshold, got.Template.Matching.ConfidenceThreshold, 1e-9)
	assert.Equal(t, []string{"chiller", "power"}, got.Template.Metadata.Tags)
	require.Len(t, got.Template.Data.Queries, 1)
	assert.Equal(t, "chiller_1", got.Template.Data.Queries[0].DeviceID)
	assert.True(t, testNow.Equal(got.Template.CreatedAt))

	msg := callErr(t, siteA, "save_chart_template", saveArgs("chiller_1_power"))
	assert.Equal(t, "Template 'chiller_1_power' already exists. Use a different ID.", msg)

	msg = callErr(t, siteB, "get_template", map[string]any{"template_id": "chiller_1_power"})
	assert.Equal(t, "Template 'chiller_1_power' not found", msg)

	// The builtin is visible to every site.
	builtin := decode[GetTemplateOutput](t, call(t, siteB, "get_template", map[string]any{"template_id": "plant_power_trend"}))
	assert.Equal(t, "plant_power_trend", builtin.Template.ID)

	listA := decode[ListTemplatesOutput](t, call(t, siteA, "list_templates", map[string]any{"category": "performance"}))
	listB := decode[ListTemplatesOutput](t, call(t, siteB, "list_templates", map[string]any{"category": "performance"}))
	assert.Equal(t, listB.Count+1, listA.Count)
	assert.Len(t, listA.Templates, listA.Count)
	for _, item := range listA.Templates {
		assert.Equal(t, "performance", item.Category)
	}

	all := decode[ListTemplatesOutput](t, call(t, siteB, "list_templates", nil))
	assert.Greater(t, all.Count, listB.Count)

	msg = callErr(t, siteA, "list_templates", map[string]any{"category": "gossip"})
	assert.Contains(t, msg, "invalid arguments")
}

func TestTools_SaveChartTemplate_Invalid(t *testing.T) {
	t.Parallel()

	client := newTemplateClient(t).ForSession(Session{SiteID: "site-a"})

	args := saveArgs("broken")
	args["data_config"] = map[string]any{"queries": []any{}}
	callErr(t, client, "save_chart_template", args)

	args = saveArgs("broken")
	args["category"] = "misc"
	assert.Contains(t, callErr(t, client, "save_chart_template", args), "invalid arguments")
}
