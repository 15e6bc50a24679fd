// CLAUDE:SUMMARY Registers lexkeeper MCP tools (resolve, as-of, search, stats) via kit.RegisterMCPTool.

package lexkeeper

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lexkeeper/internal/store"
	"github.com/hazyhaar/lexkeeper/kit"
)

// RegisterMCP registers the lexkeeper tools on an MCP server. Every
// endpoint runs through a logging middleware, so tool calls show up in the
// same structured log as sync sweeps and HTTP requests.
func (k *Keeper) RegisterMCP(srv *mcp.Server) {
	k.registerResolveTool(srv)
	k.registerAsOfTool(srv)
	k.registerSearchTool(srv)
	k.registerStatsTool(srv)
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

// logged wraps an endpoint with call logging keyed by tool name.
func (k *Keeper) logged(name string, ep kit.Endpoint) kit.Endpoint {
	mw := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				k.logger.Warn("mcp tool failed", "tool", name,
					"transport", kit.GetTransport(ctx), "elapsed", time.Since(start), "error", err)
			} else {
				k.logger.Debug("mcp tool call", "tool", name,
					"transport", kit.GetTransport(ctx), "elapsed", time.Since(start))
			}
			return resp, err
		}
	}
	return kit.Chain(mw)(ep)
}

func enrichMCP(ctx context.Context) context.Context {
	return kit.WithTransport(ctx, "mcp")
}

// versionPayload joins a resolved version with its fragment text so tool
// consumers get the wording in one call instead of walking fragments.
func (k *Keeper) versionPayload(ctx context.Context, v *store.Version) (map[string]any, error) {
	frags, err := k.store.FragmentsByVersion(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, f.Text)
	}
	return map[string]any{
		"version": v,
		"text":    strings.Join(parts, "\n\n"),
	}, nil
}

// --- resolve ---

type resolveReq struct {
	InstrumentID string `json:"instrument_id"`
	BlockID      string `json:"block_id"`
}

func (k *Keeper) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexkeeper_resolve",
		Description: "Return the version of a block (article, provision) currently in force, with its full text.",
		InputSchema: inputSchema(map[string]any{
			"instrument_id": map[string]any{"type": "string", "description": "Instrument identifier, e.g. BOE-A-2015-10565"},
			"block_id":      map[string]any{"type": "string", "description": "Block identifier within the instrument, e.g. a12"},
		}, []string{"instrument_id", "block_id"}),
	}

	endpoint := k.logged(tool.Name, func(ctx context.Context, req any) (any, error) {
		r := req.(*resolveReq)
		v, err := k.ResolveCurrent(ctx, r.InstrumentID, r.BlockID)
		if err != nil {
			return nil, err
		}
		return k.versionPayload(ctx, v)
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r resolveReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: enrichMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- as-of ---

type asOfReq struct {
	InstrumentID string `json:"instrument_id"`
	BlockID      string `json:"block_id"`
	Date         string `json:"date"`
}

func (k *Keeper) registerAsOfTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexkeeper_as_of",
		Description: "Return the version of a block that was in force on a given date (YYYY-MM-DD), with its full text.",
		InputSchema: inputSchema(map[string]any{
			"instrument_id": map[string]any{"type": "string", "description": "Instrument identifier"},
			"block_id":      map[string]any{"type": "string", "description": "Block identifier within the instrument"},
			"date":          map[string]any{"type": "string", "description": "Point-in-time date, YYYY-MM-DD"},
		}, []string{"instrument_id", "block_id", "date"}),
	}

	endpoint := k.logged(tool.Name, func(ctx context.Context, req any) (any, error) {
		r := req.(*asOfReq)
		v, err := k.ResolveAsOf(ctx, r.InstrumentID, r.BlockID, r.Date)
		if err != nil {
			return nil, err
		}
		return k.versionPayload(ctx, v)
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r asOfReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: enrichMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- search ---

type searchReq struct {
	Query        string `json:"query"`
	InstrumentID string `json:"instrument_id"`
	Limit        int    `json:"limit"`
}

func (k *Keeper) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexkeeper_search",
		Description: "Full-text search over legal fragments. Each hit carries its temporal window, so callers can tell current wording from historical.",
		InputSchema: inputSchema(map[string]any{
			"query":         map[string]any{"type": "string", "description": "Search terms"},
			"instrument_id": map[string]any{"type": "string", "description": "Restrict hits to one instrument"},
			"limit":         map[string]any{"type": "integer", "description": "Maximum hits, default 10"},
		}, []string{"query"}),
	}

	endpoint := k.logged(tool.Name, func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		limit := r.Limit
		if limit <= 0 {
			limit = 10
		}
		hits, err := k.Search(ctx, r.Query, r.InstrumentID, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"hits": hits, "count": len(hits)}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: enrichMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- stats ---

type statsReq struct{}

func (k *Keeper) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lexkeeper_stats",
		Description: "Corpus counters: instruments, blocks, versions, open versions, fragments, embedding backlog, last sync.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := k.logged(tool.Name, func(ctx context.Context, req any) (any, error) {
		return k.Stats(ctx)
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r statsReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: enrichMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
