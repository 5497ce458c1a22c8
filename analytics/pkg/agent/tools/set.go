// Package tools implements the tool catalog the react agent dispatches to:
// data acquisition, chart building and template management.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/altocentral/backend/analytics/pkg/agent/react"
	"github.com/altocentral/backend/analytics/pkg/metrics"
)

var ErrUnknownTool = errors.New("unknown tool")

// Session is the request context tools run in.
type Session struct {
	SiteID string

	// Location is the site's time zone; nil means UTC.
	Location *time.Location
}

func (s Session) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

type handlerFunc func(ctx context.Context, sess Session, args map[string]any) (any, error)

type tool struct {
	def      react.Tool
	resolved *jsonschema.Resolved
	handle   handlerFunc
}

// Set is a named group of tools. Bind it to a session with ForSession to get
// a react.ToolClient.
type Set struct {
	name  string
	log   *slog.Logger
	tools []*tool
	index map[string]*tool
	err   error
}

func newSet(name string, log *slog.Logger) *Set {
	return &Set{name: name, log: log, index: map[string]*tool{}}
}

// Name is the group name, e.g. "data".
func (s *Set) Name() string { return s.name }

// Tools returns the tool definitions in registration order.
func (s *Set) Tools() []react.Tool {
	out := make([]react.Tool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.def
	}
	return out
}

// ForSession binds the set to sess.
func (s *Set) ForSession(sess Session) react.ToolClient {
	return &sessionClient{set: s, sess: sess}
}

// schemaOption adjusts a generated input schema.
type schemaOption func(*jsonschema.Schema) error

// enum restricts a property to values.
func enum(prop string, values ...any) schemaOption {
	return func(s *jsonschema.Schema) error {
		p, ok := s.Properties[prop]
		if !ok {
			return fmt.Errorf("enum: no property %q", prop)
		}
		p.Enum = values
		return nil
	}
}

// defaultValue sets the value a missing optional property takes.
func defaultValue(prop string, v any) schemaOption {
	return func(s *jsonschema.Schema) error {
		p, ok := s.Properties[prop]
		if !ok {
			return fmt.Errorf("default: no property %q", prop)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		p.Default = raw
		return nil
	}
}

// add registers a tool whose input schema is generated from In. Arguments
// are validated against the schema, defaults are filled in, and the result is
// decoded into In before fn runs.
func add[In any](s *Set, name, description string, fn func(ctx context.Context, sess Session, in In) (any, error), opts ...schemaOption) {
	if s.err != nil {
		return
	}
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		s.err = fmt.Errorf("failed to create %s input schema: %w", name, err)
		return
	}
	allowExtraProperties(schema)
	for _, opt := range opts {
		if err := opt(schema); err != nil {
			s.err = fmt.Errorf("%s input schema: %w", name, err)
			return
		}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		s.err = fmt.Errorf("failed to resolve %s input schema: %w", name, err)
		return
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		s.err = fmt.Errorf("failed to encode %s input schema: %w", name, err)
		return
	}
	var inputSchema map[string]any
	if err := json.Unmarshal(raw, &inputSchema); err != nil {
		s.err = fmt.Errorf("failed to decode %s input schema: %w", name, err)
		return
	}
	if _, ok := s.index[name]; ok {
		s.err = fmt.Errorf("duplicate tool name %q", name)
		return
	}

	t := &tool{
		def:      react.Tool{Name: name, Description: description, InputSchema: inputSchema},
		resolved: resolved,
		handle: func(ctx context.Context, sess Session, args map[string]any) (any, error) {
			var in In
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			return fn(ctx, sess, in)
		},
	}
	s.tools = append(s.tools, t)
	s.index[name] = t
}

// allowExtraProperties drops the closed-object constraint jsonschema.For puts
// on structs, so models adding unknown keys are not rejected.
func allowExtraProperties(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if s.Type == "object" && len(s.Properties) > 0 {
		s.AdditionalProperties = nil
	}
	for _, p := range s.Properties {
		allowExtraProperties(p)
	}
	allowExtraProperties(s.Items)
}

func decodeArgs(args map[string]any, in any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, in); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type sessionClient struct {
	set  *Set
	sess Session
}

func (c *sessionClient) ListTools(context.Context) ([]react.Tool, error) {
	return c.set.Tools(), nil
}

// CallToolText runs the named tool. Tool failures are returned as text with
// isError set; only an unknown tool yields an error.
func (c *sessionClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	t, ok := c.set.index[name]
	if !ok {
		return "", true, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	start := time.Now()
	out, err := c.call(ctx, t, args)
	metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		c.set.log.Warn("tools: call failed", "tool", name, "site_id", c.sess.SiteID, "error", err)
		return err.Error(), true, nil
	}
	metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
	return out, false, nil
}

func (c *sessionClient) call(ctx context.Context, t *tool, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	} else {
		args = maps.Clone(args)
	}
	if err := t.resolved.ApplyDefaults(&args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := t.resolved.Validate(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	c.set.log.Debug("tools: calling", "tool", t.def.Name, "site_id", c.sess.SiteID)
	res, err := t.handle(ctx, c.sess, args)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(raw), nil
}
