package prompts

import (
	"fmt"
	"strings"
)

// DefaultSiteName is the system name used when no site name is given.
const DefaultSiteName = "Alto Central"

const siteNamePlaceholder = "{{site_name}}"

// Prompts contains the agent prompts loaded from embedded files.
type Prompts struct {
	Role     string
	Tools    string
	Labeling string
	Guidance string
}

// Load loads all prompts from the embedded filesystem.
func Load() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Role, err = loadPrompt("ROLE.md"); err != nil {
		return nil, fmt.Errorf("failed to load ROLE: %w", err)
	}
	if p.Tools, err = loadPrompt("TOOLS.md"); err != nil {
		return nil, fmt.Errorf("failed to load TOOLS: %w", err)
	}
	if p.Labeling, err = loadPrompt("LABELING.md"); err != nil {
		return nil, fmt.Errorf("failed to load LABELING: %w", err)
	}
	if p.Guidance, err = loadPrompt("GUIDANCE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GUIDANCE: %w", err)
	}

	return p, nil
}

// BuildSystemPrompt combines the role, tool, labeling and guidance sections.
// siteName replaces the default system name in the role; additionalContext,
// when set, is appended under its own heading.
func (p *Prompts) BuildSystemPrompt(siteName, additionalContext string) string {
	if siteName == "" {
		siteName = DefaultSiteName
	}
	role := strings.ReplaceAll(p.Role, siteNamePlaceholder, siteName)

	prompt := role + "\n\n" + p.Tools + "\n\n" + p.Labeling + "\n\n" + p.Guidance
	if additionalContext != "" {
		prompt += "\n\n## Additional Context\n" + additionalContext
	}
	return prompt
}

func loadPrompt(path string) (string, error) {
	data, err := PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
