package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentcore/runtime/mcp"
)

// inProcSession is the common mcp.ChildSession shape for a pinned in-proc
// mount: all three standard mounts (resources, compositor_meta,
// compositor_admin) are thin routers over the Compositor itself rather than
// a real child process or network session, so attach/detach code stays
// uniform between externally mounted servers and these built-ins.
type inProcSession struct {
	listTools     func(ctx context.Context) ([]mcp.ToolDescriptor, error)
	callTool      func(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error)
	listResources func(ctx context.Context) ([]mcp.Resource, error)
	readResource  func(ctx context.Context, uri string) (*mcp.ResourceContents, error)

	mu      sync.Mutex
	handler mcp.NotificationHandler
}

func (s *inProcSession) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	if s.listTools == nil {
		return nil, nil
	}
	return s.listTools(ctx)
}

func (s *inProcSession) CallTool(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if s.callTool == nil {
		return nil, fmt.Errorf("compositor: pinned mount has no tool %q", tool)
	}
	return s.callTool(ctx, tool, arguments)
}

func (s *inProcSession) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if s.listResources == nil {
		return nil, nil
	}
	return s.listResources(ctx)
}

func (s *inProcSession) ReadResource(ctx context.Context, uri string) (*mcp.ResourceContents, error) {
	if s.readResource == nil {
		return nil, fmt.Errorf("compositor: pinned mount has no resource %q", uri)
	}
	return s.readResource(ctx, uri)
}

// Subscribe/Unsubscribe are no-ops: pinned mounts publish updates by calling
// notify directly (see notify below), they never need an upstream
// resources/subscribe round trip since there is no remote session.
func (s *inProcSession) Subscribe(context.Context, string) error   { return nil }
func (s *inProcSession) Unsubscribe(context.Context, string) error { return nil }

func (s *inProcSession) OnResourceUpdated(handler mcp.NotificationHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func (s *inProcSession) Close(context.Context) error { return nil }

// notify invokes the registered notification handler, if any, for uri. Used
// by pinned mounts to push their own synthetic resource updates (e.g.
// compositor_meta republishing a MountEvent).
func (s *inProcSession) notify(uri string) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(uri)
	}
}

// AttachPinnedMounts attaches the three standard in-proc mounts: resources,
// compositor_meta, and compositor_admin. Call once, immediately after New.
func (c *Compositor) AttachPinnedMounts(ctx context.Context) error {
	resourcesSession := &inProcSession{
		listResources: func(context.Context) ([]mcp.Resource, error) {
			return []mcp.Resource{{
				URI:      "resource://agents/mcp/state",
				Name:     "MCP mount state",
				MimeType: "application/json",
			}}, nil
		},
		readResource: func(ctx context.Context, uri string) (*mcp.ResourceContents, error) {
			if uri != "resource://agents/mcp/state" {
				return nil, fmt.Errorf("compositor: resources mount has no resource %q", uri)
			}
			payload, err := json.Marshal(c.ListMounts())
			if err != nil {
				return nil, err
			}
			return &mcp.ResourceContents{URI: uri, MimeType: "application/json", Content: payload}, nil
		},
	}
	if err := c.AttachPinned(ctx, "resources", func(context.Context) (mcp.ChildSession, error) {
		return resourcesSession, nil
	}); err != nil {
		return err
	}

	metaSession := &inProcSession{
		listResources: func(context.Context) ([]mcp.Resource, error) {
			return []mcp.Resource{{
				URI:      "resource://compositor-meta/state",
				Name:     "Compositor mount/state notifications",
				MimeType: "application/json",
			}}, nil
		},
		readResource: func(ctx context.Context, uri string) (*mcp.ResourceContents, error) {
			payload, err := json.Marshal(c.ListMounts())
			if err != nil {
				return nil, err
			}
			return &mcp.ResourceContents{URI: uri, MimeType: "application/json", Content: payload}, nil
		},
	}
	if err := c.AttachPinned(ctx, "compositor_meta", func(context.Context) (mcp.ChildSession, error) {
		return metaSession, nil
	}); err != nil {
		return err
	}

	prevSink := c.onMountEvent
	c.onMountEvent = func(ev MountEvent) {
		prevSink(ev)
		metaSession.notify("resource://compositor-meta/state")
	}

	adminSession := &inProcSession{
		listTools: func(context.Context) ([]mcp.ToolDescriptor, error) {
			return []mcp.ToolDescriptor{
				{Name: "attach_server", Description: "Attach a child MCP server under a new server_name"},
				{Name: "detach_server", Description: "Detach a previously attached (non-pinned) child MCP server"},
				{Name: "list_mounts", Description: "List every currently attached mount"},
			}, nil
		},
		callTool: func(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
			return c.handleAdminTool(ctx, tool, arguments)
		},
	}
	return c.AttachPinned(ctx, "compositor_admin", func(context.Context) (mcp.ChildSession, error) {
		return adminSession, nil
	})
}

// handleAdminTool implements compositor_admin's three tools. They are
// reached through Compositor.CallTool like any other mount's tools, so a
// compositor_admin_* call passes through the Policy Middleware whenever one
// is configured; compositor_admin is mounted in every Compositor that
// AttachPinnedMounts set up and is listed by ListTools.
func (c *Compositor) handleAdminTool(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	switch tool {
	case "list_mounts":
		payload, err := json.Marshal(c.ListMounts())
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{Content: payload}, nil

	case "detach_server":
		name, _ := arguments["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("compositor: detach_server requires a \"name\" argument")
		}
		if err := c.DetachServer(ctx, name); err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{Content: []byte(`{"detached":true}`)}, nil

	case "attach_server":
		return nil, fmt.Errorf("compositor: attach_server requires a concrete transport factory; use AttachServer from the Running Infrastructure layer")

	default:
		return nil, fmt.Errorf("compositor: unknown admin tool %q", tool)
	}
}
