// Package mcp implements the Model Context Protocol endpoint that coding
// agents use to read and write coven-context state.
//
// # Protocol
//
// JSON-RPC 2.0 over the Streamable HTTP transport on a single endpoint:
//
//   - POST /mcp - initialize, ping, tools/list, tools/call and notifications
//   - DELETE /mcp - terminate the client session named by Mcp-Session-Id
//
// initialize returns an Mcp-Session-Id header that every later request must
// carry. Unknown ids get 404 and the client re-initializes.
//
// # Current Session
//
// Each client session remembers a current coven session. session_start,
// session_resume and checkpoint_restore set it; session_complete clears it.
// Tools that take session_id fall back to it. context_save with neither
// starts a session named after the project directory.
//
// # Tool Errors
//
// Not-found, precondition and invalid-argument failures come back as a
// tool result with isError set and the error text, so the agent can react.
// Storage failures are logged and reported as "internal error".
//
// # Usage
//
//	reg := mcp.NewRegistry()
//	if err := reg.Register(mcp.ContextTools(services)...); err != nil {
//		return err
//	}
//	server, err := mcp.NewServer(mcp.Config{Registry: reg, Logger: logger})
//	server.RegisterRoutes(mux)
//
// Claude Code configuration:
//
//	{
//	  "mcpServers": {
//	    "coven-context": {"type": "http", "url": "http://127.0.0.1:3847/mcp"}
//	  }
//	}
package mcp
