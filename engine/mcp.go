package engine

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/formfill/kit"
)

// RegisterMCP registers the formfill tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerScanTool(srv)
	e.registerAutofillTool(srv)
	e.registerSuggestTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- scan ---

type scanReq struct {
	URL string `json:"url"`
}

func (e *Engine) registerScanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "formfill_scan",
		Description: "Scan a job-application page for fillable form fields and map them against the active profile.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL to scan"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scanReq)
		return e.Scan(ctx, r.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r scanReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- autofill ---

type autofillReq struct {
	URL string `json:"url"`
}

func (e *Engine) registerAutofillTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "formfill_autofill",
		Description: "Fill a job-application form from the active profile: scan, map, write, report per-field outcomes.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL to fill"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*autofillReq)
		return e.Autofill(ctx, r.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r autofillReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- suggest ---

type suggestReq struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

func (e *Engine) registerSuggestTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "formfill_suggest",
		Description: "Generate ranked value suggestions for one form field, addressed by CSS selector.",
		InputSchema: inputSchema(map[string]any{
			"url":      map[string]any{"type": "string", "description": "Page URL"},
			"selector": map[string]any{"type": "string", "description": "CSS selector of the field"},
		}, []string{"url", "selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*suggestReq)
		return e.Suggest(ctx, r.URL, r.Selector)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r suggestReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
