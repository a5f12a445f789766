package densefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/densefeed/diagnostics"
	"github.com/hazyhaar/densefeed/kit"
)

// RegisterMCP registers the densefeed control tools on srv.
func (c *Coordinator) RegisterMCP(srv *mcp.Server) {
	c.registerSessionsTool(srv)
	c.registerDiagnoseTool(srv)
	c.registerStatsTool(srv)
	c.registerToggleTool(srv)
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

var sessionIDProp = map[string]any{"type": "string", "description": "Session id from densefeed_sessions"}

type sessionRequest struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

func decodeSession(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r sessionRequest
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{
		Request: &r,
		EnrichCtx: func(ctx context.Context) context.Context {
			return kit.WithSessionID(ctx, r.SessionID)
		},
	}, nil
}

func (c *Coordinator) endpoint(name string, e kit.Endpoint) kit.Endpoint {
	return kit.Logging(c.logger, name)(e)
}

// --- sessions ---

func (c *Coordinator) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "densefeed_sessions",
		Description: "List transformed pages with their counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		return c.sessionInfos(), nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decodeSession)
}

func (c *Coordinator) sessionInfos() []SessionInfo {
	sessions := c.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// --- diagnose ---

func (c *Coordinator) registerDiagnoseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "densefeed_diagnose",
		Description: "Run a diagnostics pass on a session. Returns Markdown by default, or the JSON report.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"format":     map[string]any{"type": "string", "enum": []any{"markdown", "json"}, "description": "Output format (default markdown)"},
		}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		s, err := c.Session(r.SessionID)
		if err != nil {
			return nil, err
		}
		rep := s.Rescan(ctx)
		switch r.Format {
		case "", "markdown":
			md, err := diagnostics.Markdown(rep)
			if err != nil {
				return nil, err
			}
			return kit.Text(md), nil
		case "json":
			return rep, nil
		}
		return nil, fmt.Errorf("densefeed: unknown format %q", r.Format)
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decodeSession)
}

// --- stats ---

func (c *Coordinator) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "densefeed_stats",
		Description: "Return the transform counters and mode flags of a session.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		s, err := c.Session(req.(*sessionRequest).SessionID)
		if err != nil {
			return nil, err
		}
		return s.Stats(), nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decodeSession)
}

// --- toggle ---

type toggleResponse struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	On        bool   `json:"on"`
}

func (c *Coordinator) registerToggleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "densefeed_toggle",
		Description: "Toggle performance mode or debug mode on a session.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"mode":       map[string]any{"type": "string", "enum": []any{ModePerformance, ModeDebug}},
		}, []string{"session_id", "mode"}),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		return c.toggle(r.SessionID, r.Mode)
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decodeSession)
}

func (c *Coordinator) toggle(id, mode string) (toggleResponse, error) {
	s, err := c.Session(id)
	if err != nil {
		return toggleResponse{}, err
	}
	on, err := s.Toggle(mode)
	if err != nil {
		return toggleResponse{}, err
	}
	return toggleResponse{SessionID: id, Mode: mode, On: on}, nil
}
