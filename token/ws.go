package token

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/internal/telemetry"
)

// StateSource resolves the event store backing an agent's run state, for
// the WebSocket surface to stream from. Implementations typically look the
// agent up in the Agent Runtime Registry and return its Infra.Agent's
// configured eventlog.Store.
type StateSource func(agentID ids.AgentID) (eventlog.Store, error)

// WebSocketSurface streams UIState snapshots for one agent's run over a
// WebSocket connection (resource://agents/{agent_id}/ui/state, carried over
// a duplex transport rather than a single resources/read). Per §4.10's
// forwarding contract, the `websocket` scope is authenticated exactly like
// the plain HTTP scope: the bearer token is resolved and validated before
// Upgrade is ever called, so an invalid or missing token can never reach a
// completed WebSocket handshake.
type WebSocketSurface struct {
	table    Table
	source   StateSource
	upgrader websocket.Upgrader
	logger   telemetry.Logger
}

// NewWebSocketSurface constructs a WebSocketSurface. logger may be nil.
func NewWebSocketSurface(table Table, source StateSource, logger telemetry.Logger) *WebSocketSurface {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &WebSocketSurface{table: table, source: source, logger: logger}
}

// ServeHTTP authenticates the connection, resolves the target agent's event
// store, and — only then — upgrades to WebSocket. It pushes one UIState
// snapshot immediately and again every time the client sends a message
// (the client's own cue to refresh, since this surface has no independent
// push channel of its own), until the client disconnects.
func (s *WebSocketSurface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bearer := bearerFromHeader(r)
	if bearer == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	tok, err := s.table.Lookup(r.Context(), bearer)
	if err != nil || tok.Validate() != nil || tok.Kind() != KindAgent {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	store, err := s.source(ids.AgentID(tok.AgentID()))
	if err != nil {
		http.Error(w, "no running infrastructure for agent", http.StatusBadGateway)
		return
	}

	runID := ids.RunID(r.URL.Query().Get("run_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket surface: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if !s.pushSnapshot(r, conn, store, runID) {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if !s.pushSnapshot(r, conn, store, runID) {
			return
		}
	}
}

func (s *WebSocketSurface) pushSnapshot(r *http.Request, conn *websocket.Conn, store eventlog.Store, runID ids.RunID) bool {
	state, err := store.Snapshot(r.Context(), runID)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket surface: snapshot failed", "run_id", runID, "error", err)
		return false
	}
	if err := conn.WriteJSON(state); err != nil {
		return false
	}
	return true
}
