// Package infra implements Running Infrastructure (SPEC_FULL.md §4.8): the
// per-agent bundle of Compositor, mounted child servers, Approval Mailbox,
// and Agent turn driver, built within a single Cleanup Stack so teardown is
// ordered and its failures aggregated.
package infra

import (
	"context"
	"fmt"

	"github.com/agentcore/runtime/agent"
	"github.com/agentcore/runtime/approval"
	"github.com/agentcore/runtime/cleanup"
	"github.com/agentcore/runtime/compositor"
	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/model"
	"github.com/agentcore/runtime/policy"
)

// MountSpec is one child server to attach, in the order it must be
// acquired. Order matters: a later mount's factory may depend on an earlier
// one already being reachable (e.g. the runtime/exec sidecar expects
// policy_reader to already be mounted so it can describe its own policy
// surface on startup).
type MountSpec struct {
	Name    string
	Factory compositor.Factory
}

// Spec describes one agent's Running Infrastructure. Mounts must already be
// ordered policy reader -> approver -> proposer -> runtime -> sidecars,
// matching §4.8's dependency order; the admin and resources pinned mounts
// are attached automatically and never belong in Mounts.
type Spec struct {
	AgentID     ids.AgentID
	Sampler     model.Sampler
	AgentConfig agent.Config
	Evaluator   policy.Evaluator
	Mounts      []MountSpec
	Events      eventlog.Store
	Logger      telemetry.Logger

	// Tracer and Metrics instrument the Policy Middleware's evaluator calls
	// and the Agent's tool dispatch loop. Both default to a no-op
	// implementation if left nil; a caller that wants real spans and
	// counters passes telemetry.NewClueTracer/NewClueMetrics.
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics

	// Persist, if set, mirrors every event the Agent appends into a second,
	// typically slower durable Store (§4.11's drain contract) without the
	// turn driver ever blocking on that store's I/O. Close awaits Drain
	// after the Agent itself has quiesced and folds its aggregate error into
	// the Stack's own teardown error.
	Persist *eventlog.PersistenceHandler
}

// Infra is the ready, running bundle returned by Start. Close is the only
// required teardown call; every acquired resource (mounts, the agent's own
// turn loop) is released through Stack in LIFO order.
type Infra struct {
	AgentID    ids.AgentID
	Compositor *compositor.Compositor
	Agent      *agent.Agent
	Mailbox    *approval.Mailbox
	Stack      *cleanup.Stack
}

// Start acquires every child session in spec.Mounts order, attaches the
// Compositor's own pinned mounts (resources, compositor_meta,
// compositor_admin), and constructs the agent's turn driver over the
// result. Acquisition failure at any step closes everything acquired so
// far before returning the error — nothing is left half-started.
func Start(ctx context.Context, spec Spec) (*Infra, error) {
	if spec.Logger == nil {
		spec.Logger = telemetry.NewNoopLogger()
	}
	if spec.Tracer == nil {
		spec.Tracer = telemetry.NewNoopTracer()
	}
	if spec.Metrics == nil {
		spec.Metrics = telemetry.NewNoopMetrics()
	}

	stack := cleanup.New()
	mailbox := approval.New(nil)
	middleware := policy.New(spec.Evaluator, mailbox, spec.Logger, policy.WithTracer(spec.Tracer), policy.WithMetrics(spec.Metrics))
	comp := compositor.New(stack, middleware, spec.Logger, nil)

	for _, m := range spec.Mounts {
		if err := comp.AttachServer(ctx, m.Name, m.Factory); err != nil {
			_ = stack.Close(ctx)
			return nil, fmt.Errorf("infra: attaching mount %q: %w", m.Name, err)
		}
	}

	if err := comp.AttachPinnedMounts(ctx); err != nil {
		_ = stack.Close(ctx)
		return nil, fmt.Errorf("infra: attaching pinned mounts: %w", err)
	}

	ag := agent.New(spec.AgentID, spec.Sampler, comp, spec.Events, spec.Logger, spec.AgentConfig,
		agent.WithTracer(spec.Tracer), agent.WithMetrics(spec.Metrics), agent.WithPersistenceHandler(spec.Persist))

	if spec.Persist != nil {
		stack.Push(ctx, cleanup.Entry{
			Description: "drain background event persistence",
			Release: func(context.Context) error {
				return spec.Persist.Drain()
			},
		})
	}

	stack.Push(ctx, cleanup.Entry{
		Description: "agent turn loop quiescence",
		Release: func(releaseCtx context.Context) error {
			return ag.Close(releaseCtx)
		},
	})

	return &Infra{
		AgentID:    spec.AgentID,
		Compositor: comp,
		Agent:      ag,
		Mailbox:    mailbox,
		Stack:      stack,
	}, nil
}

// Close releases every resource acquired by Start, in reverse order,
// aggregating failures per §4.7.
func (i *Infra) Close(ctx context.Context) error {
	return i.Stack.Close(ctx)
}
