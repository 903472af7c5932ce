package token_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/token"
)

func TestWebSocketSurfaceRejectsMissingToken(t *testing.T) {
	tbl := token.NewMemTable()
	surface := token.NewWebSocketSurface(tbl, func(ids.AgentID) (eventlog.Store, error) {
		t.Fatal("source should not be called without a valid token")
		return nil, nil
	}, nil)

	srv := httptest.NewServer(surface)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

func TestWebSocketSurfaceStreamsSnapshotOnConnectAndPing(t *testing.T) {
	tbl := token.NewMemTable()
	require.NoError(t, tbl.Put(context.Background(), "agent-bearer", token.Agent("agent-1")))

	store := eventlog.NewMemStore(eventlog.Config{})
	runID := ids.NewRunID()
	_, err := store.Append(context.Background(), runID, ids.AgentID("agent-1"), ids.NewTurnID(), eventlog.EventTurnBoundary, map[string]any{"phase": "finished"})
	require.NoError(t, err)

	surface := token.NewWebSocketSurface(tbl, func(agentID ids.AgentID) (eventlog.Store, error) {
		require.Equal(t, ids.AgentID("agent-1"), agentID)
		return store, nil
	}, nil)

	srv := httptest.NewServer(surface)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?run_id=" + string(runID)
	header := map[string][]string{"Authorization": {"Bearer agent-bearer"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	var first eventlog.UIState
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, eventlog.PhaseFinished, first.Phase)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("refresh")))
	var second eventlog.UIState
	require.NoError(t, conn.ReadJSON(&second))
	require.Equal(t, eventlog.PhaseFinished, second.Phase)
}
