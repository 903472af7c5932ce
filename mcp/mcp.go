// Package mcp defines the wire-level types shared by every component that
// speaks Model Context Protocol in this runtime: the child-session contract
// mounted servers implement, the JSON-RPC error shape, and the method names
// honored over streamable HTTP (see the canonical resource URIs and method
// list in the external interfaces section of the design).
package mcp

import (
	"context"
	"encoding/json"
)

// JSON-RPC canonical error codes.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Reserved error codes. Only the Policy Middleware ever emits these; a child
// server that independently returns one of the non-remap codes gets its
// response rewritten to CodePolicyBackendReservedMisuse.
const (
	CodePolicyDenied                 = -32950
	CodePolicyDeniedContinue         = -32951
	CodePolicyBackendReservedMisuse  = -32952 // remap-only, never returned by a well-behaved backend
	CodePolicyEvaluatorError         = -32953
)

// Method names honored by the compositor and token router.
const (
	MethodToolsList               = "tools/list"
	MethodToolsCall                = "tools/call"
	MethodResourcesList            = "resources/list"
	MethodResourcesRead            = "resources/read"
	MethodResourcesSubscribe       = "resources/subscribe"
	MethodResourcesUnsubscribe     = "resources/unsubscribe"
	MethodNotificationResourceUpdated = "notifications/resources/updated"
)

// Error represents a JSON-RPC error. Code carries either a standard JSON-RPC
// code or one of the policy middleware's reserved codes.
type Error struct {
	Code    int
	Message string
	Data    any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ToolDescriptor describes one tool exposed by a child server, prior to
// namespacing by the compositor.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// CallToolResult is the outcome of a tools/call invocation.
type CallToolResult struct {
	// Content carries the canonical textual/structured payload returned by
	// the tool, already JSON-encoded by the child server.
	Content json.RawMessage
	// IsError indicates the child server itself flagged the result as a
	// tool-level failure (still delivered as a normal result, per MCP).
	IsError bool
}

// Resource describes one resource exposed by a child server or the
// compositor's own aggregated view.
type Resource struct {
	URI      string
	Name     string
	MimeType string
}

// ResourceContents is the payload returned by resources/read.
type ResourceContents struct {
	URI      string
	MimeType string
	Content  json.RawMessage
}

// NotificationHandler is invoked by a ChildSession when the upstream server
// emits a raw ResourceUpdated notification for a subscribed URI. The
// compositor never synthesizes version counters; it just forwards these.
type NotificationHandler func(uri string)

// ChildSession is the capability handle a Compositor mount wraps: either a
// real MCP client session (stdio/HTTP/SSE transport) or one of the
// compositor's own pinned in-proc servers implementing the same contract.
type ChildSession interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, tool string, arguments map[string]any) (*CallToolResult, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) (*ResourceContents, error)
	Subscribe(ctx context.Context, uri string) error
	Unsubscribe(ctx context.Context, uri string) error
	// OnResourceUpdated registers the handler the session invokes whenever
	// the upstream server pushes a ResourceUpdated notification. Sessions
	// that never push notifications may treat this as a no-op.
	OnResourceUpdated(handler NotificationHandler)
	// Close tears down the session's transport (process, connection).
	Close(ctx context.Context) error
}
