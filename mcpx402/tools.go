// Package mcpx402 gates MCP (Model Context Protocol) tool calls behind x402
// payment, the way httpx402 gates HTTP routes: a paid tool's 402 challenge
// and settlement travel inside the JSON-RPC envelope's _meta fields instead
// of HTTP headers, but the underlying flow - match, build requirements,
// verify, forward, settle - is the same server.Server-driven pipeline.
// Adapted from the reference's mcp/server package, which predates the
// resource server core and talks to a bespoke Facilitator interface and the
// flat v1 wire types directly; this package instead drives server.Server so
// the CAIP-2 networks, facilitator registry fallback, and extension
// lifecycle work identically across the HTTP and MCP transports.
package mcpx402

import (
	"sync"

	x402 "github.com/x402-core/x402-go"
)

// ToolTable maps tool names to the route configuration (accepted
// requirements, resolvers, declared extensions) that gates them. Unlike
// httpx402.RouteMatcher, tool names never glob - a JSON-RPC tools/call names
// its tool exactly - so this is a plain map behind a lock.
type ToolTable struct {
	mu    sync.RWMutex
	tools map[string]x402.RouteConfig
}

// NewToolTable builds an empty ToolTable.
func NewToolTable() *ToolTable {
	return &ToolTable{tools: make(map[string]x402.RouteConfig)}
}

// Register associates toolName with cfg, replacing any prior entry.
func (t *ToolTable) Register(toolName string, cfg x402.RouteConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools[toolName] = cfg
}

// Lookup returns the route configuration registered for toolName.
func (t *ToolTable) Lookup(toolName string) (x402.RouteConfig, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cfg, ok := t.tools[toolName]
	return cfg, ok
}
