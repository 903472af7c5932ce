package token

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"github.com/agentcore/runtime/internal/telemetry"
)

// TargetResolver maps a validated Token to the upstream address it should
// be forwarded to: the fixed management server for HumanToken, or the
// named agent's own MCP HTTP surface for AgentToken. Returning an error
// fails the request with 502, never silently falling back to another
// target.
type TargetResolver func(ctx context.Context, tok Token) (*url.URL, error)

// Router is the platform's single MCP ingress (§4.10): it extracts the
// bearer token from every inbound connection, looks it up in a Table, and
// reverse-proxies to whatever TargetResolver returns for the resolved
// Token. Auth happens before any proxying, including before a WebSocket
// upgrade is ever accepted — there is no code path that proxies first and
// authenticates second.
type Router struct {
	table    Table
	resolve  TargetResolver
	logger   telemetry.Logger
	bearerFn func(*http.Request) string

	mu      sync.Mutex
	proxies map[string]*httputil.ReverseProxy
}

// NewRouter constructs a Router. logger may be nil.
func NewRouter(table Table, resolve TargetResolver, logger telemetry.Logger) *Router {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Router{
		table:    table,
		resolve:  resolve,
		logger:   logger,
		bearerFn: bearerFromHeader,
		proxies:  make(map[string]*httputil.ReverseProxy),
	}
}

// bearerFromHeader extracts the token from "Authorization: Bearer <token>",
// the one bearer-auth convention the MCP surface honors.
func bearerFromHeader(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// ServeHTTP implements http.Handler. It is used unchanged for both ordinary
// streamable-HTTP MCP requests and WebSocket upgrade requests: in both
// cases, auth gates the request before httputil.ReverseProxy ever dials the
// upstream, so a missing/invalid token never reaches a WebSocket accept.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bearer := rt.bearerFn(r)
	if bearer == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	tok, err := rt.table.Lookup(r.Context(), bearer)
	if err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}
	if err := tok.Validate(); err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	target, err := rt.resolve(r.Context(), tok)
	if err != nil {
		rt.logger.Warn(r.Context(), "token router: target resolution failed", "error", err)
		http.Error(w, "no route for token", http.StatusBadGateway)
		return
	}

	rt.proxyFor(target).ServeHTTP(w, r)
}

// proxyFor returns a cached *httputil.ReverseProxy for target (keyed by its
// full URL), creating one on first use. Caching avoids rebuilding the proxy (and its
// Director closures) on every request to the same upstream.
func (rt *Router) proxyFor(target *url.URL) *httputil.ReverseProxy {
	key := target.String()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if p, ok := rt.proxies[key]; ok {
		return p
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	// FlushInterval < 0 flushes every write immediately, so streamable-HTTP
	// MCP responses (tool results arriving as they complete, resource
	// update notifications) reach the caller chunk-by-chunk rather than
	// being buffered until the handler returns.
	proxy.FlushInterval = -1

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		// SingleHostReverseProxy's default Director can strip the Upgrade
		// request; restore it so a WebSocket handshake still reaches the
		// upstream intact.
		if req.Header.Get("Upgrade") != "" {
			req.Header.Set("Connection", "Upgrade")
		}
	}
	proxy.ModifyResponse = func(resp *http.Response) error {
		if resp.StatusCode == http.StatusSwitchingProtocols {
			resp.Header.Set("Connection", "Upgrade")
		}
		return nil
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		rt.mu.Lock()
		delete(rt.proxies, key)
		rt.mu.Unlock()
		rt.logger.Warn(r.Context(), "token router: proxy error", "target", key, "error", err)
		http.Error(w, "upstream error", http.StatusBadGateway)
	}

	rt.proxies[key] = proxy
	return proxy
}
