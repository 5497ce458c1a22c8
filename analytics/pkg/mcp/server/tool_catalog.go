package server

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const siteArg = "site_id"

// registerCatalogTools exposes every agent tool as-is, with an extra optional
// site_id argument selecting the site the call runs against.
func (s *Server) registerCatalogTools() error {
	for _, set := range s.cfg.Service.ToolSets() {
		for _, t := range set.Tools() {
			schema, err := withSiteArg(t.InputSchema)
			if err != nil {
				return fmt.Errorf("tool %s: %w", t.Name, err)
			}
			s.mcp.AddTool(&mcp.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			}, s.catalogHandler(t.Name))
		}
	}
	return nil
}

func (s *Server) catalogHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}
		site, _ := args[siteArg].(string)
		delete(args, siteArg)

		client, err := s.cfg.Service.ToolClient(ctx, s.site(site))
		if err != nil {
			return nil, err
		}
		s.log.Debug("mcp/tool: calling catalog tool", "tool", name, "site_id", s.site(site))
		text, isError, err := client.CallToolText(ctx, name, args)
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
			IsError: isError,
		}, nil
	}
}

func withSiteArg(schema map[string]any) (map[string]any, error) {
	if schema == nil || schema["type"] != "object" {
		return nil, fmt.Errorf("input schema must be an object")
	}
	out := maps.Clone(schema)
	props, _ := schema["properties"].(map[string]any)
	props = maps.Clone(props)
	if props == nil {
		props = map[string]any{}
	}
	props[siteArg] = map[string]any{
		"type":        "string",
		"description": "Site to run against; defaults to the server's site",
	}
	out["properties"] = props
	return out, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
