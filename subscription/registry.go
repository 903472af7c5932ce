// Package subscription implements the per-compositor, multi-subscriber
// resource subscription registry: it tracks callbacks per URI, primes new
// subscribers with the current contents, and fans server-originated
// ResourceUpdated notifications out to every registered callback.
package subscription

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agentcore/runtime/internal/telemetry"
)

// Update is delivered to a subscriber callback on priming and on every
// fan-out. Error/Message are populated instead of Content when the
// triggering re-read failed.
type Update struct {
	URI     string
	Error   bool
	Message string
	Content json.RawMessage
}

// Callback observes updates for one URI. Implementations should not block;
// a callback's own panic or error is isolated and never prevents delivery
// to other callbacks for the same notification.
type Callback func(ctx context.Context, update Update)

// ReadFunc re-reads a resource's current contents, e.g. the compositor's
// aggregated resources/read.
type ReadFunc func(ctx context.Context, uri string) (json.RawMessage, error)

// UpstreamFunc issues resources/subscribe or resources/unsubscribe against
// the child server that owns uri.
type UpstreamFunc func(ctx context.Context, uri string) error

// Subscription represents one callback's registration; closing it removes
// just that callback.
type Subscription interface {
	Close(ctx context.Context) error
}

type record struct {
	uri         string
	deliverMu   sync.Mutex // serializes callback delivery for this URI
	mu          sync.Mutex // protects subs
	subs        map[*subHandle]Callback
	subscribed  bool
}

type subHandle struct {
	registry *Registry
	uri      string
}

// Registry is the per-Compositor subscription tracker.
type Registry struct {
	mu            sync.Mutex
	records       map[string]*record
	read          ReadFunc
	upstreamSub   UpstreamFunc
	upstreamUnsub UpstreamFunc
	logger        telemetry.Logger
}

// New constructs a Registry. read is used both to prime new subscribers and
// to re-read on notification; upstreamSub/upstreamUnsub issue the child
// server's resources/subscribe and resources/unsubscribe exactly once per
// URI (on first subscriber / last unsubscribe).
func New(read ReadFunc, upstreamSub, upstreamUnsub UpstreamFunc, logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		records:       make(map[string]*record),
		read:          read,
		upstreamSub:   upstreamSub,
		upstreamUnsub: upstreamUnsub,
		logger:        logger,
	}
}

// Subscribe records (uri, callback). If this is the first subscriber for
// uri, it issues resources/subscribe upstream and, on success, primes the
// callback once with the current contents before returning.
func (r *Registry) Subscribe(ctx context.Context, uri string, cb Callback) (Subscription, error) {
	rec := r.recordFor(uri)

	rec.mu.Lock()
	first := len(rec.subs) == 0
	h := &subHandle{registry: r, uri: uri}
	rec.subs[h] = cb
	rec.mu.Unlock()

	if first {
		if r.upstreamSub != nil {
			if err := r.upstreamSub(ctx, uri); err != nil {
				rec.mu.Lock()
				delete(rec.subs, h)
				rec.mu.Unlock()
				return nil, err
			}
		}
		rec.mu.Lock()
		rec.subscribed = true
		rec.mu.Unlock()
	}

	// Prime: read once and invoke only the new callback, serialized against
	// any concurrent notification fan-out for this URI.
	rec.deliverMu.Lock()
	update := r.readOne(ctx, uri)
	rec.deliverMu.Unlock()
	r.safeInvoke(ctx, cb, update)

	return h, nil
}

// Close implements Subscription: removes this callback; if the URI's
// subscriber set becomes empty, issues resources/unsubscribe upstream
// (best-effort: logged, never raised).
func (h *subHandle) Close(ctx context.Context) error {
	r := h.registry
	r.mu.Lock()
	rec, ok := r.records[h.uri]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	delete(rec.subs, h)
	empty := len(rec.subs) == 0
	rec.mu.Unlock()

	if empty {
		if r.upstreamUnsub != nil {
			if err := r.upstreamUnsub(ctx, h.uri); err != nil {
				r.logger.Warn(ctx, "subscription: best-effort upstream unsubscribe failed", "uri", h.uri, "error", err)
			}
		}
		r.mu.Lock()
		delete(r.records, h.uri)
		r.mu.Unlock()
	}
	return nil
}

// HandleNotification re-reads uri and fans the result out to every current
// subscriber. If the read fails, every callback instead receives one
// synthetic {error: true, message} payload. Delivery for a single URI is
// totally ordered and never runs concurrently with itself; one callback's
// failure never affects delivery to the others.
func (r *Registry) HandleNotification(ctx context.Context, uri string) {
	r.mu.Lock()
	rec, ok := r.records[uri]
	r.mu.Unlock()
	if !ok {
		return
	}

	rec.deliverMu.Lock()
	update := r.readOne(ctx, uri)
	rec.mu.Lock()
	cbs := make([]Callback, 0, len(rec.subs))
	for _, cb := range rec.subs {
		cbs = append(cbs, cb)
	}
	rec.mu.Unlock()
	for _, cb := range cbs {
		r.safeInvoke(ctx, cb, update)
	}
	rec.deliverMu.Unlock()
}

// Shutdown releases every subscription record, e.g. on compositor shutdown.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	uris := make([]string, 0, len(r.records))
	for uri := range r.records {
		uris = append(uris, uri)
	}
	r.mu.Unlock()
	for _, uri := range uris {
		if r.upstreamUnsub != nil {
			if err := r.upstreamUnsub(ctx, uri); err != nil {
				r.logger.Warn(ctx, "subscription: best-effort shutdown unsubscribe failed", "uri", uri, "error", err)
			}
		}
		r.mu.Lock()
		delete(r.records, uri)
		r.mu.Unlock()
	}
}

// PurgeForMount drops every subscription record whose URI belongs to a
// detached mount, without attempting an upstream unsubscribe (the child
// session closure already released it implicitly).
func (r *Registry) PurgeForMount(belongsTo func(uri string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uri := range r.records {
		if belongsTo(uri) {
			delete(r.records, uri)
		}
	}
}

func (r *Registry) recordFor(uri string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uri]
	if !ok {
		rec = &record{uri: uri, subs: make(map[*subHandle]Callback)}
		r.records[uri] = rec
	}
	return rec
}

func (r *Registry) readOne(ctx context.Context, uri string) Update {
	if r.read == nil {
		return Update{URI: uri, Error: true, Message: "subscription: no read function configured"}
	}
	content, err := r.read(ctx, uri)
	if err != nil {
		return Update{URI: uri, Error: true, Message: err.Error()}
	}
	return Update{URI: uri, Content: content}
}

func (r *Registry) safeInvoke(ctx context.Context, cb Callback, update Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(ctx, "subscription: callback panicked", "uri", update.URI, "panic", rec)
		}
	}()
	cb(ctx, update)
}
