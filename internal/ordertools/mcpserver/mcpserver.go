// Package mcpserver publishes the order tools over the Model Context
// Protocol using the official MCP Go SDK, so external operator tooling
// (order review dashboards, test harnesses) can drive a session's ledger
// through the exact same validated handlers the LLM uses.
//
// Typical usage:
//
//	srv, err := mcpserver.New(toolset.Tools())
//	if err != nil { ... }
//	err = mcpserver.Serve(ctx, srv)
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vocarta/vocarta/internal/ordertools"
)

// New builds an MCP server exposing the given tools. Handler errors are
// reported as MCP error results rather than protocol failures, so a journal
// write failure reaches the caller as tool output instead of killing the
// connection.
func New(tools []ordertools.Tool) (*mcpsdk.Server, error) {
	server := mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: "vocarta-ordertools", Version: "1.0.0"},
		nil,
	)

	for _, t := range tools {
		schema, err := toSchema(t.Definition.Parameters)
		if err != nil {
			return nil, fmt.Errorf("mcpserver: schema for tool %q: %w", t.Definition.Name, err)
		}

		handler := t.Handler
		server.AddTool(&mcpsdk.Tool{
			Name:        t.Definition.Name,
			Description: t.Definition.Description,
			InputSchema: schema,
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			args := "{}"
			if req.Params.Arguments != nil {
				data, err := json.Marshal(req.Params.Arguments)
				if err != nil {
					return nil, fmt.Errorf("mcpserver: encode arguments: %w", err)
				}
				if s := string(data); s != "null" {
					args = s
				}
			}

			out, err := handler(ctx, args)
			if err != nil {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
			}, nil
		})
	}

	return server, nil
}

// Serve runs the server over stdio until ctx is cancelled or the peer
// disconnects.
func Serve(ctx context.Context, server *mcpsdk.Server) error {
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpserver: run: %w", err)
	}
	return nil
}

// toSchema converts a JSON Schema expressed as a plain map into the SDK's
// schema type via a JSON round-trip.
func toSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
