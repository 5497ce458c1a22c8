package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type siteEcho struct {
	Set    string `json:"set"`
	SiteID string `json:"site_id"`
}

type noInput struct{}

func namedSet(t *testing.T, group string, names ...string) *Set {
	t.Helper()
	s := newSet(group, testLogger(t))
	for _, name := range names {
		add(s, name, "Report the owning set.", func(_ context.Context, sess Session, _ noInput) (any, error) {
			return siteEcho{Set: group, SiteID: sess.SiteID}, nil
		})
	}
	require.NoError(t, s.err)
	return s
}

func TestTools_Toolbox_ListsSetsInOrder(t *testing.T) {
	t.Parallel()

	box, err := NewToolbox(Session{SiteID: "site-a"},
		namedSet(t, "data", "query_timeseries", "batch_query_timeseries"),
		namedSet(t, "chart", "create_line_chart"),
		namedSet(t, "template", "save_chart_template"),
	)
	require.NoError(t, err)

	defs, err := box.ListTools(t.Context())
	require.NoError(t, err)
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"query_timeseries", "batch_query_timeseries", "create_line_chart", "save_chart_template"}, names)

	group, ok := box.Group("create_line_chart")
	require.True(t, ok)
	assert.Equal(t, "chart", group)
	_, ok = box.Group("drop_table")
	assert.False(t, ok)
}

func TestTools_Toolbox_RoutesUnderSession(t *testing.T) {
	t.Parallel()

	box, err := NewToolbox(Session{SiteID: "site-b"},
		namedSet(t, "data", "query_timeseries"),
		namedSet(t, "template", "save_chart_template"),
	)
	require.NoError(t, err)

	out := decode[siteEcho](t, call(t, box, "save_chart_template", nil))
	assert.Equal(t, siteEcho{Set: "template", SiteID: "site-b"}, out)
	out = decode[siteEcho](t, call(t, box, "query_timeseries", map[string]any{}))
	assert.Equal(t, siteEcho{Set: "data", SiteID: "site-b"}, out)
}

func TestTools_Toolbox_UnknownTool(t *testing.T) {
	t.Parallel()

	box, err := NewToolbox(Session{}, namedSet(t, "data", "query_timeseries"), namedSet(t, "chart", "create_bar_chart"))
	require.NoError(t, err)

	_, isError, err := box.CallToolText(t.Context(), "create_pie_chart", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
	assert.True(t, isError)
	assert.EqualError(t, err, "unknown tool: create_pie_chart (available groups: data, chart)")
}

func TestTools_Toolbox_RegistrationErrors(t *testing.T) {
	t.Parallel()

	_, err := NewToolbox(Session{}, namedSet(t, "data", "list_templates"), namedSet(t, "template", "list_templates"))
	require.EqualError(t, err, `tool "list_templates" is registered by both the data and template tools`)

	broken := newSet("chart", testLogger(t))
	broken.err = errors.New("bad schema")
	_, err = NewToolbox(Session{}, broken)
	require.EqualError(t, err, "chart tools: bad schema")
}
