package mcp

import (
	"escrow-backend/core/escrow"
	"escrow-backend/core/identity"

	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the escrow program as agent tools. Every state-changing
// tool signs as the keypair the server was started with.
type MCPServer struct {
	mcpServer *server.MCPServer
	program   *escrow.Program
	wallet    *identity.Keypair
}

// NewMCPServer creates a new MCP server using the mcp-go library
func NewMCPServer(program *escrow.Program, wallet *identity.Keypair, version string) *MCPServer {
	if version == "" {
		version = "1.0.0"
	}
	mcpServer := server.NewMCPServer(
		"Agent Escrow MCP Server",
		version,
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		program:   program,
		wallet:    wallet,
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MCPServer) registerTools() {
	// read-only
	s.registerListTasksTool()
	s.registerGetTaskTool()
	s.registerGetVaultTool()
	s.registerDeriveAddressesTool()
	s.registerListEventsTool()
	s.registerGetAccountTool()

	// signed by the server wallet
	s.registerCreateTaskTool()
	s.registerClaimTaskTool()
	s.registerSubmitWorkTool()
	s.registerApproveTaskTool()
	s.registerCancelTaskTool()
	s.registerOpenAccountTool()
	s.registerMintTokensTool()
}
