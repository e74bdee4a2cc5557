// Package mcp exposes the memory tool surface over the Model Context
// Protocol using streamable HTTP transport.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mnemolabs/palace/internal/service"
)

// ServerConfig carries the listen address and the identity the server
// reports during the MCP handshake.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// ServerDeps are the services the tools call into. Nil deps make the
// corresponding tools report a configuration error instead of panicking.
type ServerDeps struct {
	Resolver  *service.Resolver
	Memories  *service.Memories
	Retrieval *service.Retrieval
	Compactor *service.Compactor
	Worker    *service.IndexWorker
	Sleep     *service.Sleep
}

// Server wraps an MCP server plus its HTTP transport.
type Server struct {
	cfg  ServerConfig
	deps ServerDeps
	log  *slog.Logger

	mcpServer  *mcpserver.MCPServer
	httpServer *mcpserver.StreamableHTTPServer
	tools      map[string]mcpserver.ServerTool
}

// NewServer builds the MCP server and registers all tools.
func NewServer(cfg ServerConfig, deps ServerDeps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, log: log}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// MCPServer exposes the underlying server for mounting the handler on an
// existing mux.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// ListTools returns the registered tools by name.
func (s *Server) ListTools() map[string]mcpserver.ServerTool { return s.tools }

// Start serves the MCP endpoint in the background.
func (s *Server) Start() error {
	s.httpServer = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	go func() {
		s.log.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("mcp server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the transport down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
