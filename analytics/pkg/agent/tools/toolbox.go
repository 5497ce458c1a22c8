package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/altocentral/backend/analytics/pkg/agent/react"
)

// Toolbox is the agent's full catalog for one session: every tool of the
// given sets, bound to the same site. Tool names are unique across sets.
type Toolbox struct {
	sess   Session
	groups []string
	defs   []react.Tool
	owner  map[string]*Set
}

var _ react.ToolClient = (*Toolbox)(nil)

// NewToolbox binds sets to sess, keeping set order and each set's tool order.
func NewToolbox(sess Session, sets ...*Set) (*Toolbox, error) {
	b := &Toolbox{sess: sess, owner: map[string]*Set{}}
	for _, s := range sets {
		if s.err != nil {
			return nil, fmt.Errorf("%s tools: %w", s.name, s.err)
		}
		b.groups = append(b.groups, s.name)
		for _, t := range s.tools {
			name := t.def.Name
			if prev, ok := b.owner[name]; ok {
				return nil, fmt.Errorf("tool %q is registered by both the %s and %s tools", name, prev.name, s.name)
			}
			b.owner[name] = s
			b.defs = append(b.defs, t.def)
		}
	}
	return b, nil
}

// Group names the set that owns tool name.
func (b *Toolbox) Group(name string) (string, bool) {
	s, ok := b.owner[name]
	if !ok {
		return "", false
	}
	return s.name, true
}

func (b *Toolbox) ListTools(context.Context) ([]react.Tool, error) {
	return b.defs, nil
}

// CallToolText runs name in its owning set under the toolbox's session.
func (b *Toolbox) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	s, ok := b.owner[name]
	if !ok {
		return "", true, fmt.Errorf("%w: %s (available groups: %s)", ErrUnknownTool, name, strings.Join(b.groups, ", "))
	}
	return (&sessionClient{set: s, sess: b.sess}).CallToolText(ctx, name, args)
}
