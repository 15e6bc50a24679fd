package lexkeeper

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lexkeeper/internal/store"
)

var testImpl = &mcp.Implementation{Name: "lexkeeper-test", Version: "0.1.0"}

// mcpSession seeds a keeper through one sweep, registers the MCP tools, and
// returns a connected client session that can call them end-to-end.
func mcpSession(t *testing.T) (*Keeper, *mcp.ClientSession) {
	t.Helper()
	src := newStubSource()
	seedStub(src)
	k := newTestKeeper(t, src)
	if _, err := k.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv := mcp.NewServer(testImpl, nil)
	k.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return k, session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

// callToolError invokes a tool and returns the tool-level error it must produce.
func callToolError(t *testing.T, session *mcp.ClientSession, name string, args any) error {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	// CallToolResult.GetError always returns nil on clients; the tool error
	// crosses the wire as IsError plus the error text in Content.
	if !result.IsError {
		t.Fatalf("CallTool(%s): expected tool error", name)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): tool error with empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return errors.New(tc.Text)
}

type versionPayloadJSON struct {
	Version *store.Version `json:"version"`
	Text    string         `json:"text"`
}

// --- lexkeeper_resolve ---

func TestMCP_Resolve(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "lexkeeper_resolve", map[string]any{
		"instrument_id": leyID,
		"block_id":      "a1",
	})

	var resp versionPayloadJSON
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Version == nil {
		t.Fatal("expected version")
	}
	if resp.Version.AmendingID != "ES-L-2021-0007" {
		t.Errorf("AmendingID = %q, want ES-L-2021-0007", resp.Version.AmendingID)
	}
	if resp.Version.EffectiveEnd != nil {
		t.Error("current version should be open")
	}
	if !strings.Contains(resp.Text, "potestad sancionadora") {
		t.Errorf("text = %q, want amended wording", resp.Text)
	}
}

func TestMCP_Resolve_UnknownBlock(t *testing.T) {
	_, session := mcpSession(t)

	callToolError(t, session, "lexkeeper_resolve", map[string]any{
		"instrument_id": leyID,
		"block_id":      "zz",
	})
}

// --- lexkeeper_as_of ---

func TestMCP_AsOf(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "lexkeeper_as_of", map[string]any{
		"instrument_id": leyID,
		"block_id":      "a1",
		"date":          "2018-06-01",
	})

	var resp versionPayloadJSON
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Version.AmendingID != "" {
		t.Errorf("AmendingID = %q, want original version", resp.Version.AmendingID)
	}
	if resp.Version.EffectiveEnd == nil {
		t.Error("superseded version should be closed")
	}
	if strings.Contains(resp.Text, "potestad sancionadora") {
		t.Error("2018 text should predate the amendment")
	}
}

func TestMCP_AsOf_BadDate(t *testing.T) {
	_, session := mcpSession(t)

	err := callToolError(t, session, "lexkeeper_as_of", map[string]any{
		"instrument_id": leyID,
		"block_id":      "a1",
		"date":          "01/06/2018",
	})
	if !strings.Contains(err.Error(), "YYYY-MM-DD") {
		t.Errorf("error = %q, want date format hint", err)
	}
}

// --- lexkeeper_search ---

func TestMCP_Search(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "lexkeeper_search", map[string]any{
		"query": "sancionadora",
	})

	var resp struct {
		Hits  []*store.SearchHit `json:"hits"`
		Count int                `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count == 0 || len(resp.Hits) == 0 {
		t.Fatal("expected hits for seeded term")
	}
	if resp.Hits[0].InstrumentID != leyID {
		t.Errorf("hit instrument = %q, want %q", resp.Hits[0].InstrumentID, leyID)
	}

	// Scoping to a different instrument empties the result.
	text = callTool(t, session, "lexkeeper_search", map[string]any{
		"query":         "sancionadora",
		"instrument_id": "ES-L-9999-9999",
	})
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal scoped: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("scoped count = %d, want 0", resp.Count)
	}
}

// --- lexkeeper_stats ---

func TestMCP_Stats(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "lexkeeper_stats", map[string]any{})

	var stats store.Stats
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Instruments != 1 {
		t.Errorf("Instruments = %d, want 1", stats.Instruments)
	}
	if stats.Versions != 3 {
		t.Errorf("Versions = %d, want 3", stats.Versions)
	}
	if stats.OpenVersions != 2 {
		t.Errorf("OpenVersions = %d, want 2", stats.OpenVersions)
	}
}
