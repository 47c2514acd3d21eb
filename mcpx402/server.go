package mcpx402

import (
	"fmt"
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/x402-core/x402-go/server"
	"github.com/x402-core/x402-go/validation"

	x402 "github.com/x402-core/x402-go"
)

// Server wraps an MCP server with x402 payment gating, exposing the same
// AddTool/AddPayableTool surface the reference package does but backed by a
// server.Server core and a ToolTable instead of a flat requirements map.
type Server struct {
	mcpServer *mcpserver.MCPServer
	core      *server.Server
	tools     *ToolTable
	config    *Config
}

// NewServer builds an MCP server named name/version, gating payable tools
// through core. core must already be Initialize'd (or be Initialize'd
// before Handler's first request) against the facilitators that will settle
// these tools' payments.
func NewServer(name, version string, core *server.Server, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		mcpServer: mcpserver.NewMCPServer(name, version),
		core:      core,
		tools:     NewToolTable(),
		config:    config,
	}
}

// AddTool registers a free tool: no payment is ever required to call it.
func (s *Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool registers a tool gated by cfg's payment requirements. cfg
// must declare at least one entry in Accepts; each is validated unless it
// relies on a resolver (PriceResolver/PayToResolver), whose output cannot be
// checked until request time.
func (s *Server) AddPayableTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc, cfg x402.RouteConfig) error {
	if len(cfg.Accepts) == 0 {
		return fmt.Errorf("at least one accepted payment requirement must be provided for payable tool %s", tool.Name)
	}
	if cfg.PriceResolver == nil && cfg.PayToResolver == nil {
		for i, req := range cfg.Accepts {
			if err := validation.ValidatePaymentRequirements(req); err != nil {
				return fmt.Errorf("invalid requirement %d for tool %s: %w", i, tool.Name, err)
			}
		}
	}
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("mcp tool %s", tool.Name)
	}

	s.tools.Register(tool.Name, cfg)
	s.mcpServer.AddTool(tool, handler)
	return nil
}

// Handler returns an http.Handler serving the wrapped MCP server with
// payment gating spliced in front of tools/call.
func (s *Server) Handler() http.Handler {
	mcpHTTP := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return NewHandler(mcpHTTP, s.core, s.tools, s.config)
}

// Start serves Handler() on addr.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

// MCPServer returns the underlying mcp-go server for registering resources,
// prompts, or other capabilities beyond tools.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
