package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/config"
	"github.com/altocentral/backend/analytics/pkg/logger"
	"github.com/altocentral/backend/analytics/pkg/service"
)

func testEnv(t *testing.T) *config.Env {
	dir := t.TempDir()
	sites := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(sites, []byte("sites:\n  site-a:\n    site_name: Riverside Tower\n    timezone: Asia/Bangkok\n"), 0o600))
	return &config.Env{
		Backend:       config.BackendDuckDB,
		DuckDBPath:    filepath.Join(dir, "telemetry.duckdb"),
		SitesPath:     sites,
		TemplatesDir:  filepath.Join(dir, "templates"),
		MaxIterations: 10,
		Budget:        90 * time.Second,
	}
}

func TestApp_Build(t *testing.T) {
	t.Parallel()

	a, err := Build(t.Context(), logger.Discard(), testEnv(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.False(t, a.Service.AIAvailable())
	assert.Equal(t, "Riverside Tower", a.Sites.Name("site-a"))

	items, err := a.Service.ListTemplates(t.Context(), "site-a", "")
	require.NoError(t, err)
	assert.NotEmpty(t, items)

	// The store is empty, so the matched template has nothing to draw.
	resp := a.Service.GenerateChart(t.Context(), service.Request{Prompt: "show plant power trend", SiteID: "site-a"})
	assert.Nil(t, resp.PlotlySpec)
	assert.Equal(t, "No template matched and AI is not available.", resp.Message)
}

func TestApp_Build_WithAI(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	env.AnthropicAPIKey = "sk-test"
	env.Model = "claude-3-haiku-20240307"
	a, err := Build(t.Context(), logger.Discard(), env)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.True(t, a.Service.AIAvailable())
}

func TestApp_Build_TimescaleNeedsSites(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	env.Backend = config.BackendTimescale
	env.SitesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(t.Context(), logger.Discard(), env)
	require.ErrorContains(t, err, "failed to read sites file")
}
