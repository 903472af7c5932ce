// Package compositor implements the aggregating MCP proxy described in
// SPEC_FULL.md §4.4: one MCP server namespacing N attached child servers
// under distinct server_name prefixes, hosting the Policy Middleware and
// Subscription Registry, and exposing an admin surface for attach/detach.
package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentcore/runtime/cleanup"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/mcp"
	"github.com/agentcore/runtime/policy"
	"github.com/agentcore/runtime/subscription"
)

// Factory acquires a child session per an attach_server spec. Any resources
// it allocates must be released by the session's own Close, which the
// Compositor registers on the Cleanup Stack when the mount is attached.
type Factory func(ctx context.Context) (mcp.ChildSession, error)

// Mount is one attached child server.
type Mount struct {
	Name    string
	Session mcp.ChildSession
	Pinned  bool
}

// MountEventKind distinguishes attach/detach notifications forwarded on
// compositor_meta.
type MountEventKind string

const (
	MountAttached MountEventKind = "attached"
	MountDetached MountEventKind = "detached"
)

// MountEvent is published to compositor_meta listeners on every attach or
// detach.
type MountEvent struct {
	Kind MountEventKind
	Name string
}

// MountEventSink receives mount lifecycle notifications. The concrete
// compositor_meta pinned mount adapts this into resource updates.
type MountEventSink func(event MountEvent)

// Compositor aggregates child MCP sessions. The zero value is not usable;
// construct with New.
type Compositor struct {
	mu     sync.RWMutex
	mounts map[string]*Mount
	order  []string // insertion order, for deterministic list_mounts

	stack      *cleanup.Stack
	subs       *subscription.Registry
	middleware *policy.Middleware
	logger     telemetry.Logger

	onMountEvent MountEventSink
}

// New constructs an empty Compositor, including its own Subscription
// Registry wired to read/subscribe/unsubscribe through whichever mount owns
// a given URI. Pinned in-proc mounts (resources, compositor_meta,
// compositor_admin) are attached separately by the caller via
// AttachPinnedMounts once the Compositor itself is constructed, since those adapters wrap the
// Compositor and would otherwise create a cyclic initialization dependency.
func New(stack *cleanup.Stack, middleware *policy.Middleware, logger telemetry.Logger, onMountEvent MountEventSink) *Compositor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if onMountEvent == nil {
		onMountEvent = func(MountEvent) {}
	}
	c := &Compositor{
		mounts:       make(map[string]*Mount),
		stack:        stack,
		middleware:   middleware,
		logger:       logger,
		onMountEvent: onMountEvent,
	}
	c.subs = subscription.New(c.readResourceRaw, c.upstreamSubscribe, c.upstreamUnsubscribe, logger)
	return c
}

func (c *Compositor) readResourceRaw(ctx context.Context, uri string) (json.RawMessage, error) {
	contents, err := c.ReadResource(ctx, uri)
	if err != nil {
		return nil, err
	}
	return contents.Content, nil
}

func (c *Compositor) upstreamSubscribe(ctx context.Context, uri string) error {
	mount, err := c.mountForURI(ctx, uri)
	if err != nil {
		return err
	}
	return mount.Session.Subscribe(ctx, uri)
}

func (c *Compositor) upstreamUnsubscribe(ctx context.Context, uri string) error {
	mount, err := c.mountForURI(ctx, uri)
	if err != nil {
		return err
	}
	return mount.Session.Unsubscribe(ctx, uri)
}

// AttachServer acquires a child session via factory, verifies name
// uniqueness, registers the mount on the Cleanup Stack, and emits
// MountAttached. Acquisition failure is atomic: nothing is left registered.
func (c *Compositor) AttachServer(ctx context.Context, name string, factory Factory) error {
	return c.attach(ctx, name, factory, false)
}

// AttachPinned is AttachServer for a standard in-proc mount; pinned mounts
// can never be detached.
func (c *Compositor) AttachPinned(ctx context.Context, name string, factory Factory) error {
	return c.attach(ctx, name, factory, true)
}

func (c *Compositor) attach(ctx context.Context, name string, factory Factory, pinned bool) error {
	c.mu.Lock()
	if _, exists := c.mounts[name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("compositor: mount %q already attached", name)
	}
	c.mu.Unlock()

	session, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("compositor: acquiring child session for %q: %w", name, err)
	}

	mount := &Mount{Name: name, Session: session, Pinned: pinned}
	session.OnResourceUpdated(func(uri string) {
		c.subs.HandleNotification(context.Background(), uri)
	})

	c.mu.Lock()
	if _, exists := c.mounts[name]; exists {
		c.mu.Unlock()
		_ = session.Close(ctx)
		return fmt.Errorf("compositor: mount %q already attached", name)
	}
	c.mounts[name] = mount
	c.order = append(c.order, name)
	c.mu.Unlock()

	c.stack.Push(ctx, cleanup.Entry{
		Description: "compositor mount " + name,
		Release: func(releaseCtx context.Context) error {
			return session.Close(releaseCtx)
		},
	})

	c.onMountEvent(MountEvent{Kind: MountAttached, Name: name})
	return nil
}

// DetachServer rejects pinned mounts; otherwise removes the mount from the
// registry, purges its non-pinned subscription records, closes the child
// session directly (a close error is logged, not returned), and emits
// MountDetached.
//
// The cleanup entry itself is not removed from the Cleanup Stack: it is
// idempotent (ChildSession.Close must tolerate a second call), so leaving
// it queued is harmless and keeps Stack bookkeeping simple — Close just
// runs a no-op the second time the overall compositor shuts down.
func (c *Compositor) DetachServer(ctx context.Context, name string) error {
	c.mu.Lock()
	mount, ok := c.mounts[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("compositor: mount %q not found", name)
	}
	if mount.Pinned {
		c.mu.Unlock()
		return fmt.Errorf("compositor: mount %q is pinned and cannot be detached", name)
	}
	delete(c.mounts, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	prefix := name + "_"
	c.subs.PurgeForMount(func(uri string) bool {
		return strings.HasPrefix(uri, "resource://"+name+"/") || strings.Contains(uri, prefix)
	})

	if err := mount.Session.Close(ctx); err != nil {
		c.logger.Warn(ctx, "compositor: error closing detached mount", "name", name, "error", err)
	}

	c.onMountEvent(MountEvent{Kind: MountDetached, Name: name})
	return nil
}

// MountInfo is the list_mounts admin tool's response shape for one mount.
type MountInfo struct {
	Name   string
	Pinned bool
}

// ListMounts returns every currently attached mount in attach order.
func (c *Compositor) ListMounts() []MountInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MountInfo, 0, len(c.order))
	for _, name := range c.order {
		m := c.mounts[name]
		out = append(out, MountInfo{Name: m.Name, Pinned: m.Pinned})
	}
	return out
}

// ListTools returns the union of every mounted child's tools, each renamed
// to "{server}_{tool}".
func (c *Compositor) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	c.mu.RLock()
	mounts := make([]*Mount, 0, len(c.mounts))
	for _, name := range c.order {
		mounts = append(mounts, c.mounts[name])
	}
	c.mu.RUnlock()

	var out []mcp.ToolDescriptor
	for _, m := range mounts {
		tools, err := m.Session.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("compositor: listing tools for mount %q: %w", m.Name, err)
		}
		for _, t := range tools {
			t.Name = m.Name + "_" + t.Name
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallTool routes a namespaced tool name through the Policy Middleware to
// its target mount. agentID/callID are threaded through for approval
// bookkeeping on "ask" decisions.
func (c *Compositor) CallTool(ctx context.Context, agentID ids.AgentID, callID ids.CallID, qualifiedName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	mount, toolName, ok := c.resolveMount(qualifiedName)
	if !ok {
		return nil, fmt.Errorf("compositor: unknown tool %q", qualifiedName)
	}

	forward := func(fctx context.Context) (*mcp.CallToolResult, error) {
		return mount.Session.CallTool(fctx, toolName, arguments)
	}

	if c.middleware == nil {
		return forward(ctx)
	}
	return c.middleware.Dispatch(ctx, agentID, callID, mount.Name, toolName, arguments, forward)
}

// resolveMount finds the mount whose name is the longest registered prefix
// of qualifiedName followed by "_", disambiguating server names that
// themselves contain underscores.
func (c *Compositor) resolveMount(qualifiedName string) (*Mount, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Mount
	var bestName string
	for name, m := range c.mounts {
		prefix := name + "_"
		if strings.HasPrefix(qualifiedName, prefix) {
			if best == nil || len(name) > len(bestName) {
				best = m
				bestName = name
			}
		}
	}
	if best == nil {
		return nil, "", false
	}
	return best, strings.TrimPrefix(qualifiedName, bestName+"_"), true
}

// ListResources returns the union of every mount's resources.
func (c *Compositor) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	c.mu.RLock()
	mounts := make([]*Mount, 0, len(c.mounts))
	for _, name := range c.order {
		mounts = append(mounts, c.mounts[name])
	}
	c.mu.RUnlock()

	var out []mcp.Resource
	for _, m := range mounts {
		resources, err := m.Session.ListResources(ctx)
		if err != nil {
			return nil, fmt.Errorf("compositor: listing resources for mount %q: %w", m.Name, err)
		}
		out = append(out, resources...)
	}
	return out, nil
}

// ReadResource reads one resource URI from the mount that owns it.
func (c *Compositor) ReadResource(ctx context.Context, uri string) (*mcp.ResourceContents, error) {
	mount, err := c.mountForURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	return mount.Session.ReadResource(ctx, uri)
}

// Subscribe registers cb for uri via the Subscription Registry, wiring its
// upstream subscribe/unsubscribe to the owning mount's session.
func (c *Compositor) Subscribe(ctx context.Context, uri string, cb subscription.Callback) (subscription.Subscription, error) {
	return c.subs.Subscribe(ctx, uri, cb)
}

func (c *Compositor) mountForURI(ctx context.Context, uri string) (*Mount, error) {
	c.mu.RLock()
	mounts := make([]*Mount, 0, len(c.mounts))
	for _, name := range c.order {
		mounts = append(mounts, c.mounts[name])
	}
	c.mu.RUnlock()

	for _, m := range mounts {
		resources, err := m.Session.ListResources(ctx)
		if err != nil {
			continue
		}
		for _, r := range resources {
			if r.URI == uri {
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("compositor: no mount owns resource %q", uri)
}
