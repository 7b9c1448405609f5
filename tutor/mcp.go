package tutor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vistoamigo/tutor/formstate"
	"github.com/vistoamigo/tutor/kit"
)

// RegisterMCP registers the tutor tools on an MCP server, exposing the hub
// to agent clients alongside the HTTP API.
func (h *Hub) RegisterMCP(srv *mcp.Server) {
	h.registerCreateSession(srv)
	h.registerSnapshot(srv)
	h.registerMessages(srv)
	h.registerAction(srv)
	h.registerReset(srv)
	h.registerRemoveSession(srv)
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

func (h *Hub) registerCreateSession(srv *mcp.Server) {
	type req struct {
		VisaType string `json:"visa_type"`
	}

	tool := &mcp.Tool{
		Name:        "tutor_create_session",
		Description: "Start a tutoring session for one visa application",
		InputSchema: inputSchema(map[string]any{
			"visa_type": map[string]any{"type": "string", "description": "Visa type, e.g. H1B, B1/B2"},
		}, []string{"visa_type"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		s, err := h.Create(p.VisaType)
		if err != nil {
			return nil, err
		}
		return map[string]string{"session_id": s.ID()}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		if p.VisaType == "" {
			return nil, fmt.Errorf("visa_type is required")
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(h.logger, tool.Name))(endpoint), decode)
}

func (h *Hub) registerSnapshot(srv *mcp.Server) {
	type req struct {
		SessionID string             `json:"session_id"`
		Snapshot  formstate.Snapshot `json:"snapshot"`
	}

	tool := &mcp.Tool{
		Name:        "tutor_snapshot",
		Description: "Submit a form-state snapshot; validation runs after the quiet period",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
			"snapshot":   map[string]any{"type": "object", "description": "Form-state snapshot (step_id, timestamp, sections, fields)"},
		}, []string{"session_id", "snapshot"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		s, err := h.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		s.OnSnapshot(&p.Snapshot)
		return map[string]string{"status": "accepted", "key": p.Snapshot.Key()}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		if p.Snapshot.StepID == "" || p.Snapshot.Timestamp == 0 {
			return nil, fmt.Errorf("snapshot needs step_id and timestamp")
		}
		return &kit.MCPDecodeResult{
			Request:   &p,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, p.SessionID) },
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(h.logger, tool.Name))(endpoint), decode)
}

func (h *Hub) registerMessages(srv *mcp.Server) {
	type req struct {
		SessionID string `json:"session_id"`
	}

	tool := &mcp.Tool{
		Name:        "tutor_messages",
		Description: "Read the session's current guidance messages, oldest first",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		s, err := h.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"state":    s.State(),
			"messages": s.Messages(),
		}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(h.logger, tool.Name))(endpoint), decode)
}

func (h *Hub) registerAction(srv *mcp.Server) {
	type req struct {
		SessionID string `json:"session_id"`
		Event     string `json:"event"`
		Label     string `json:"label"`
		Payload   string `json:"payload"`
	}

	tool := &mcp.Tool{
		Name:        "tutor_action",
		Description: "Activate a message action; the event is forwarded to the host UI",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
			"event":      map[string]any{"type": "string", "description": "Action event, e.g. focus_field"},
			"label":      map[string]any{"type": "string", "description": "Action label as shown to the user"},
			"payload":    map[string]any{"type": "string", "description": "Action payload, e.g. a field name"},
		}, []string{"session_id", "event"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		s, err := h.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		s.Act(ctx, p.Event, p.Label, p.Payload)
		return map[string]string{"status": "forwarded"}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(h.logger, tool.Name))(endpoint), decode)
}

func (h *Hub) registerReset(srv *mcp.Server) {
	type req struct {
		SessionID string `json:"session_id"`
	}

	tool := &mcp.Tool{
		Name:        "tutor_reset",
		Description: "Clear the session's cache, achievements and message window",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		s, err := h.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		s.Reset()
		return map[string]string{"status": "reset"}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(h.logger, tool.Name))(endpoint), decode)
}

func (h *Hub) registerRemoveSession(srv *mcp.Server) {
	type req struct {
		SessionID string `json:"session_id"`
	}

	tool := &mcp.Tool{
		Name:        "tutor_remove_session",
		Description: "Stop and forget a tutoring session",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := h.Remove(p.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "removed"}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(h.logger, tool.Name))(endpoint), decode)
}
