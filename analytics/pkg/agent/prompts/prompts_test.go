package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompts_Load(t *testing.T) {
	t.Parallel()

	p, err := Load()
	require.NoError(t, err)
	for name, section := range map[string]string{
		"role": p.Role, "tools": p.Tools, "labeling": p.Labeling, "guidance": p.Guidance,
	} {
		assert.NotEmpty(t, section, name)
		assert.Equal(t, strings.TrimSpace(section), section, name)
	}
}

func TestPrompts_BuildSystemPrompt(t *testing.T) {
	t.Parallel()

	p, err := Load()
	require.NoError(t, err)

	t.Run("default site name", func(t *testing.T) {
		got := p.BuildSystemPrompt("", "")
		assert.Contains(t, got, "inside the Alto Central building management system")
		assert.NotContains(t, got, siteNamePlaceholder)
		assert.NotContains(t, got, "## Additional Context")
		assert.Contains(t, got, "query_and_chart")
	})

	t.Run("site name substituted", func(t *testing.T) {
		got := p.BuildSystemPrompt("Tower One", "")
		assert.Contains(t, got, "inside the Tower One building management system")
		assert.NotContains(t, got, DefaultSiteName)
	})

	t.Run("additional context appended", func(t *testing.T) {
		got := p.BuildSystemPrompt("Tower One", "Chiller 3 is offline for maintenance.")
		assert.True(t, strings.HasSuffix(got, "## Additional Context\nChiller 3 is offline for maintenance."))
	})
}
