package compositor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/cleanup"
	"github.com/agentcore/runtime/compositor"
	"github.com/agentcore/runtime/mcp"
)

type fakeSession struct {
	tools     []mcp.ToolDescriptor
	resources []mcp.Resource
	closed    bool
	calls     []string
}

func (f *fakeSession) ListTools(context.Context) ([]mcp.ToolDescriptor, error) { return f.tools, nil }
func (f *fakeSession) CallTool(_ context.Context, tool string, _ map[string]any) (*mcp.CallToolResult, error) {
	f.calls = append(f.calls, tool)
	return &mcp.CallToolResult{Content: []byte(`"ok"`)}, nil
}
func (f *fakeSession) ListResources(context.Context) ([]mcp.Resource, error) { return f.resources, nil }
func (f *fakeSession) ReadResource(_ context.Context, uri string) (*mcp.ResourceContents, error) {
	return &mcp.ResourceContents{URI: uri, Content: []byte(`{}`)}, nil
}
func (f *fakeSession) Subscribe(context.Context, string) error   { return nil }
func (f *fakeSession) Unsubscribe(context.Context, string) error { return nil }
func (f *fakeSession) OnResourceUpdated(mcp.NotificationHandler) {}
func (f *fakeSession) Close(context.Context) error               { f.closed = true; return nil }

func newTestCompositor(t *testing.T) (*compositor.Compositor, *cleanup.Stack) {
	t.Helper()
	stack := cleanup.New()
	c := compositor.New(stack, nil, nil, nil)
	require.NoError(t, c.AttachPinnedMounts(context.Background()))
	return c, stack
}

func TestAttachServerNamespacesTools(t *testing.T) {
	c, stack := newTestCompositor(t)
	defer stack.Close(context.Background())

	weather := &fakeSession{tools: []mcp.ToolDescriptor{{Name: "forecast"}}}
	require.NoError(t, c.AttachServer(context.Background(), "weather", func(context.Context) (mcp.ChildSession, error) {
		return weather, nil
	}))

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)

	var names []string
	for _, tl := range tools {
		names = append(names, tl.Name)
	}
	require.Contains(t, names, "weather_forecast")
}

func TestCallToolRoutesByLongestPrefix(t *testing.T) {
	c, stack := newTestCompositor(t)
	defer stack.Close(context.Background())

	a := &fakeSession{}
	b := &fakeSession{}
	require.NoError(t, c.AttachServer(context.Background(), "weather", func(context.Context) (mcp.ChildSession, error) { return a, nil }))
	require.NoError(t, c.AttachServer(context.Background(), "weather_pro", func(context.Context) (mcp.ChildSession, error) { return b, nil }))

	_, err := c.CallTool(context.Background(), "agent-1", "call-1", "weather_pro_forecast", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"forecast"}, b.calls)
	require.Empty(t, a.calls)
}

func TestDetachServerRejectsPinnedMount(t *testing.T) {
	c, stack := newTestCompositor(t)
	defer stack.Close(context.Background())

	err := c.DetachServer(context.Background(), "compositor_admin")
	require.Error(t, err)
}

func TestDetachServerClosesSessionAndRemovesMount(t *testing.T) {
	c, stack := newTestCompositor(t)
	defer stack.Close(context.Background())

	weather := &fakeSession{}
	require.NoError(t, c.AttachServer(context.Background(), "weather", func(context.Context) (mcp.ChildSession, error) { return weather, nil }))
	require.NoError(t, c.DetachServer(context.Background(), "weather"))
	require.True(t, weather.closed)

	_, err := c.CallTool(context.Background(), "agent-1", "call-1", "weather_forecast", nil)
	require.Error(t, err)
}

func TestAttachServerDuplicateNameFails(t *testing.T) {
	c, stack := newTestCompositor(t)
	defer stack.Close(context.Background())

	require.NoError(t, c.AttachServer(context.Background(), "weather", func(context.Context) (mcp.ChildSession, error) {
		return &fakeSession{}, nil
	}))
	err := c.AttachServer(context.Background(), "weather", func(context.Context) (mcp.ChildSession, error) {
		return &fakeSession{}, nil
	})
	require.Error(t, err)
}

func TestListMountsIncludesPinnedAndAttached(t *testing.T) {
	c, stack := newTestCompositor(t)
	defer stack.Close(context.Background())

	require.NoError(t, c.AttachServer(context.Background(), "weather", func(context.Context) (mcp.ChildSession, error) {
		return &fakeSession{}, nil
	}))

	mounts := c.ListMounts()
	byName := map[string]compositor.MountInfo{}
	for _, m := range mounts {
		byName[m.Name] = m
	}
	require.True(t, byName["compositor_admin"].Pinned)
	require.True(t, byName["compositor_meta"].Pinned)
	require.True(t, byName["resources"].Pinned)
	require.False(t, byName["weather"].Pinned)
}
