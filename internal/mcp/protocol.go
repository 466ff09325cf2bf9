// ABOUTME: JSON-RPC 2.0 envelopes and MCP result shapes carried on the /mcp endpoint
// ABOUTME: Tool failures travel as isError results; only protocol faults use rpc error codes

package mcp

import (
	"encoding/json"
	"slices"
)

// JSON-RPC 2.0 error codes
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// protocolVersion is what initialize advertises
const protocolVersion = "2025-11-25"

// acceptedVersions may appear in the Mcp-Protocol-Version header
var acceptedVersions = []string{"2025-03-26", "2025-06-18", protocolVersion}

func versionAccepted(v string) bool {
	return slices.Contains(acceptedVersions, v)
}

// maxBodyBytes caps a single POSTed message
const maxBodyBytes = 1 << 20

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// notification reports a message without an id, which gets no response body
func (r rpcRequest) notification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func okResponse(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errResponse(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListing struct {
	Tools []toolDescriptor `json:"tools"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func textResult(text string, isError bool) callResult {
	return callResult{Content: []textContent{{Type: "text", Text: text}}, IsError: isError}
}
