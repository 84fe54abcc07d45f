// Package engine implements the Execution Engine (C4): scheduling a flow's
// DAG to completion, handling node pause/resume, cancellation, and
// per-execution concurrency limits, and publishing the execution's event
// stream.
package engine

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/dag"
	flowerrors "n3n.dev/core/flow/errors"
	"n3n.dev/core/flow/event"
	"n3n.dev/core/flow/expr"
	"n3n.dev/core/flow/handler"
	"n3n.dev/core/internal/telemetry"
)

const defaultConcurrency = 8

// Engine schedules and executes flows.
type Engine struct {
	handlers    *handler.Registry
	exprEval    *expr.Evaluator
	store       Store
	sink        event.Sink
	credentials *expr.CredentialResolver
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	tracer      telemetry.Tracer

	defaultConcurrency int
	resumeGroup        singleflight.Group
	env                map[string]string
}

// Options configures an Engine.
type Options struct {
	Handlers *handler.Registry
	Store    Store
	Sink     event.Sink
	// Credentials resolves Node.CredentialID references during scheduling. A
	// nil resolver is valid for deployments with no credential-bearing nodes;
	// a node that names a CredentialID with no resolver configured fails.
	Credentials *expr.CredentialResolver
	// Logger, Metrics, and Tracer observe scheduling and node execution. Each
	// defaults to its no-op implementation when left nil.
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
	// DefaultConcurrency bounds how many ready nodes run at once per
	// execution when Execution.ConcurrencyCap is zero. Defaults to 8.
	DefaultConcurrency int
}

// New constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Handlers == nil {
		return nil, flowerrors.Fatal("missing_handlers", "engine requires a handler registry", nil)
	}
	if opts.Store == nil {
		return nil, flowerrors.Fatal("missing_store", "engine requires a store", nil)
	}
	if opts.Sink == nil {
		return nil, flowerrors.Fatal("missing_sink", "engine requires an event sink", nil)
	}
	conc := opts.DefaultConcurrency
	if conc <= 0 {
		conc = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	return &Engine{
		handlers:           opts.Handlers,
		exprEval:           expr.New(),
		store:              opts.Store,
		sink:               opts.Sink,
		credentials:        opts.Credentials,
		logger:             logger,
		metrics:            metrics,
		tracer:             tracer,
		defaultConcurrency: conc,
		env:                environMap(),
	}, nil
}

func environMap() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// Start validates version's definition as a DAG and begins executing it
// against triggerData on behalf of userID, returning once the execution
// completes, fails, or reaches a waiting node. userID is carried onto the
// Execution and used to enforce ownership when a node resolves a credential.
func (e *Engine) Start(ctx context.Context, version flow.FlowVersion, userID flow.Ident, triggerData map[string]any) (flow.Execution, error) {
	g, err := dag.Build(version.Definition)
	if err != nil {
		return flow.Execution{}, err
	}

	ex := flow.Execution{
		ID:             flow.Ident(newExecutionID()),
		FlowID:         version.FlowID,
		UserID:         userID,
		Version:        version.Version,
		Status:         flow.ExecutionRunning,
		TriggerData:    triggerData,
		NodeResults:    make(map[flow.Ident]flow.NodeExecutionResult),
		ConcurrencyCap: concurrencyFromSettings(version.Definition.Settings, e.defaultConcurrency),
		StartedAt:      time.Now(),
	}
	if err := e.store.Create(ctx, ex); err != nil {
		return flow.Execution{}, err
	}

	e.emit(ctx, event.NewExecutionEvent(event.TypeExecutionStarted, string(ex.ID), event.ExecutionPayload{
		FlowID: ex.FlowID, Version: ex.Version, Status: ex.Status,
	}))

	return e.run(ctx, g, ex, version.Definition)
}

// Resume delivers resumePayload to an execution paused at a waiting node and
// continues scheduling. Concurrent resumes against the same execution
// collapse into a single in-flight call.
func (e *Engine) Resume(ctx context.Context, executionID flow.Ident, resumePayload map[string]any) (flow.Execution, error) {
	v, err, _ := e.resumeGroup.Do(string(executionID), func() (any, error) {
		ex, err := e.store.Get(ctx, executionID)
		if err != nil {
			return flow.Execution{}, err
		}
		if ex.Status != flow.ExecutionWaiting || ex.WaitingOn == nil {
			return flow.Execution{}, flowerrors.PermissionDenied("execution_not_waiting", "execution is not currently waiting for input")
		}

		nodeID := ex.WaitingOn.NodeID
		ex.NodeResults[nodeID] = flow.NodeExecutionResult{
			NodeID: nodeID, State: flow.NodeStateSucceeded, Output: resumePayload, FinishedAt: time.Now(),
		}
		ex.WaitingOn = nil
		ex.Status = flow.ExecutionRunning
		if err := e.store.Update(ctx, ex); err != nil {
			return flow.Execution{}, err
		}

		e.emit(ctx, event.NewExecutionEvent(event.TypeExecutionResumed, string(ex.ID), event.ExecutionPayload{
			FlowID: ex.FlowID, Version: ex.Version, Status: ex.Status,
		}))

		// We don't have the original FlowDefinition/graph handy from just an
		// ID; callers that need to keep scheduling past resume should use
		// ResumeWithDefinition. Plain Resume only applies the resume payload
		// and leaves further scheduling to a subsequent call so a minimal KV
		// implementation of Store doesn't need to carry the full graph.
		return ex, nil
	})
	if err != nil {
		return flow.Execution{}, err
	}
	return v.(flow.Execution), nil
}

// ResumeWithDefinition resumes a waiting execution and continues scheduling
// the remainder of def to completion, returning the final Execution state.
func (e *Engine) ResumeWithDefinition(ctx context.Context, executionID flow.Ident, def flow.FlowDefinition, resumePayload map[string]any) (flow.Execution, error) {
	ex, err := e.Resume(ctx, executionID, resumePayload)
	if err != nil {
		return flow.Execution{}, err
	}
	g, err := dag.Build(def)
	if err != nil {
		return flow.Execution{}, err
	}
	return e.run(ctx, g, ex, def)
}

// Cancel marks a running or waiting execution cancelled. In-flight node
// handlers are not forcibly killed; callers control cancellation of the
// handler-side context by cancelling the ctx passed to Start/ResumeWithDefinition.
func (e *Engine) Cancel(ctx context.Context, executionID flow.Ident) error {
	ex, err := e.store.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if ex.Status == flow.ExecutionSucceeded || ex.Status == flow.ExecutionFailed || ex.Status == flow.ExecutionCancelled {
		return flowerrors.PermissionDenied("execution_terminal", "execution has already finished")
	}
	ex.Status = flow.ExecutionCancelled
	now := time.Now()
	ex.FinishedAt = &now
	if err := e.store.Update(ctx, ex); err != nil {
		return err
	}
	e.emit(ctx, event.NewExecutionEvent(event.TypeExecutionCancelled, string(ex.ID), event.ExecutionPayload{
		FlowID: ex.FlowID, Version: ex.Version, Status: ex.Status,
	}))
	return nil
}

// run drives the fixed-point scheduling loop: each wave computes every node
// whose dependencies are fully resolved, skips the ones with no satisfied
// inbound edge, and executes the rest concurrently (bounded by the
// execution's concurrency cap) before recomputing the next wave.
func (e *Engine) run(ctx context.Context, g *dag.Graph, ex flow.Execution, def flow.FlowDefinition) (flow.Execution, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ex, err
		}

		ready, toSkip, pending := evaluateReadiness(g, ex.NodeResults)

		for _, id := range toSkip {
			ex.NodeResults[id] = flow.NodeExecutionResult{NodeID: id, State: flow.NodeStateSkipped, FinishedAt: time.Now()}
			e.emit(ctx, event.NewNodeEvent(event.TypeNodeSkipped, string(ex.ID), event.NodePayload{NodeID: id}))
		}

		if len(ready) == 0 {
			if len(toSkip) > 0 {
				continue // re-evaluate: skipping may have unblocked downstream nodes
			}
			if pending {
				return ex, flowerrors.Fatal("scheduler_stuck", "no node became ready or skippable but nodes remain pending", nil)
			}
			break // nothing left to do
		}

		waiting, err := e.runWave(ctx, g, &ex, ready)
		if err := e.store.Update(ctx, ex); err != nil {
			return ex, err
		}
		if err != nil {
			ex.Status = flow.ExecutionFailed
			now := time.Now()
			ex.FinishedAt = &now
			_ = e.store.Update(ctx, ex)
			e.emit(ctx, event.NewExecutionEvent(event.TypeExecutionFailed, string(ex.ID), event.ExecutionPayload{FlowID: ex.FlowID, Version: ex.Version, Status: ex.Status}))
			return ex, err
		}
		if waiting != nil {
			ex.Status = flow.ExecutionWaiting
			ex.WaitingOn = waiting
			_ = e.store.Update(ctx, ex)
			e.emit(ctx, event.NewExecutionEvent(event.TypeExecutionWaiting, string(ex.ID), event.ExecutionPayload{FlowID: ex.FlowID, Version: ex.Version, Status: ex.Status}))
			return ex, nil
		}
	}

	ex.Status = flow.ExecutionSucceeded
	finalType := event.TypeExecutionCompleted
	for _, r := range ex.NodeResults {
		if r.State == flow.NodeStateFailed {
			ex.Status = flow.ExecutionFailed
			finalType = event.TypeExecutionFailed
			break
		}
	}
	now := time.Now()
	ex.FinishedAt = &now
	if err := e.store.Update(ctx, ex); err != nil {
		return ex, err
	}
	e.emit(ctx, event.NewExecutionEvent(finalType, string(ex.ID), event.ExecutionPayload{FlowID: ex.FlowID, Version: ex.Version, Status: ex.Status}))
	return ex, nil
}

// runWave executes ready concurrently, bounded by ex.ConcurrencyCap. It
// returns a non-nil *flow.ResumeCondition if one of the nodes paused the
// execution, or a non-nil error if one failed fatally.
func (e *Engine) runWave(ctx context.Context, g *dag.Graph, ex *flow.Execution, ready []flow.Ident) (*flow.ResumeCondition, error) {
	grp, gctx := errgroup.WithContext(ctx)
	cap := ex.ConcurrencyCap
	if cap <= 0 {
		cap = e.defaultConcurrency
	}
	grp.SetLimit(cap)

	type outcome struct {
		id     flow.Ident
		result flow.NodeExecutionResult
		wait   *flow.ResumeCondition
	}
	outcomes := make(chan outcome, len(ready))

	for _, id := range ready {
		id := id
		node := g.Nodes[id]
		grp.Go(func() error {
			result, wait, err := e.executeNode(gctx, ex, node, g.In[id])
			if err != nil {
				return err
			}
			outcomes <- outcome{id: id, result: result, wait: wait}
			return nil
		})
	}

	err := grp.Wait()
	close(outcomes)

	var waiting *flow.ResumeCondition
	for o := range outcomes {
		ex.NodeResults[o.id] = o.result
		if o.result.State == flow.NodeStateSucceeded {
			e.emit(ctx, event.NewNodeEvent(event.TypeNodeCompleted, string(ex.ID), event.NodePayload{NodeID: o.id, Branches: o.result.Branches, Output: o.result.Output}))
		} else if o.result.State == flow.NodeStateFailed {
			msg := ""
			if o.result.Error != nil {
				msg = *o.result.Error
			}
			e.emit(ctx, event.NewNodeEvent(event.TypeNodeFailed, string(ex.ID), event.NodePayload{NodeID: o.id, Error: msg}))
		}
		if o.wait != nil {
			waiting = o.wait
		}
	}

	if err != nil {
		return nil, err
	}
	return waiting, nil
}

// executeNode resolves one node's config, enforces its timeout, and invokes
// its handler.
func (e *Engine) executeNode(ctx context.Context, ex *flow.Execution, node flow.Node, in []flow.Edge) (result flow.NodeExecutionResult, cond *flow.ResumeCondition, err error) {
	started := time.Now()
	e.emit(ctx, event.NewNodeEvent(event.TypeNodeStarted, string(ex.ID), event.NodePayload{NodeID: node.ID}))

	ctx, span := e.tracer.Start(ctx, "engine.execute_node")
	defer func() {
		e.metrics.RecordTimer("engine.node_duration", time.Since(started), "node_type", node.Type)
		if err != nil || (result.State == flow.NodeStateFailed) {
			e.metrics.IncCounter("engine.node_failed", 1, "node_type", node.Type)
			e.logger.Warn(ctx, "node execution failed", "flow_id", string(ex.FlowID), "node_id", string(node.ID), "node_type", node.Type)
		} else {
			e.metrics.IncCounter("engine.node_succeeded", 1, "node_type", node.Type)
		}
		span.End()
	}()

	if node.Disabled {
		return flow.NodeExecutionResult{NodeID: node.ID, State: flow.NodeStateSkipped, StartedAt: started, FinishedAt: time.Now()}, nil, nil
	}

	d, err := e.handlers.Lookup(node.Type)
	if err != nil {
		return flow.NodeExecutionResult{}, nil, err
	}

	input := make(map[flow.Ident]map[string]any)
	for id, res := range ex.NodeResults {
		if res.State == flow.NodeStateSucceeded {
			input[id] = res.Output
		}
	}

	resolvedConfig, err := e.exprEval.EvaluateConfig(node.Config, expr.Context{
		JSON:        upstreamJSON(input, in),
		Node:        input,
		Env:         e.env,
		ExecutionID: ex.ID,
		WorkflowID:  ex.FlowID,
		Now:         started,
	})
	if err != nil {
		return flow.NodeExecutionResult{}, nil, err
	}

	var cred map[string]any
	if node.CredentialID != "" {
		if e.credentials == nil {
			return flow.NodeExecutionResult{}, nil, flowerrors.Fatal("credentials_not_configured", "node references a credential but no credential resolver is configured", nil)
		}
		cred, err = e.credentials.Resolve(string(node.CredentialID), string(ex.UserID))
		if err != nil {
			return flow.NodeExecutionResult{}, nil, err
		}
	}

	nctx := flow.NodeExecutionContext{
		ExecutionID: ex.ID,
		FlowID:      ex.FlowID,
		Node:        flow.Node{ID: node.ID, Type: node.Type, Name: node.Name, Config: resolvedConfig, PinnedData: node.PinnedData},
		Input:       input,
		TriggerData: ex.TriggerData,
		StartedAt:   started,
		Credential:  cred,
	}
	if node.PinnedData != nil {
		return flow.NodeExecutionResult{NodeID: node.ID, State: flow.NodeStateSucceeded, Output: node.PinnedData, StartedAt: started, FinishedAt: time.Now()}, nil, nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if node.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	result, err := d.Handler.Execute(runCtx, nctx)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			msg := "node timed out"
			return flow.NodeExecutionResult{NodeID: node.ID, State: flow.NodeStateFailed, Error: strPtr("TIMED_OUT: " + msg), StartedAt: started, FinishedAt: time.Now()}, nil, nil
		}
		msg := err.Error()
		return flow.NodeExecutionResult{NodeID: node.ID, State: flow.NodeStateFailed, Error: &msg, StartedAt: started, FinishedAt: time.Now()}, nil, nil
	}
	result.NodeID = node.ID
	result.StartedAt = started
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}

	if result.State == flow.NodeStateWaiting {
		return result, &flow.ResumeCondition{NodeID: node.ID}, nil
	}
	return result, nil, nil
}

func upstreamJSON(input map[flow.Ident]map[string]any, in []flow.Edge) map[string]any {
	// $json without a node qualifier resolves against the single upstream
	// node's output when there is exactly one predecessor; with zero or
	// multiple predecessors it is empty, matching the spec's "no implicit
	// merge" stance — callers needing a specific predecessor's data use the
	// $node["id"].json form.
	var pred flow.Ident
	for _, edge := range in {
		if pred != "" && edge.From != pred {
			return map[string]any{}
		}
		pred = edge.From
	}
	if out, ok := input[pred]; ok && out != nil {
		return out
	}
	return map[string]any{}
}

// evaluateReadiness computes, for the current result set, which nodes can
// run now, which must be skipped (every live inbound edge on a non-selected
// branch, or every inbound edge's source failed), and whether any node is
// still blocked waiting on an unresolved dependency.
func evaluateReadiness(g *dag.Graph, results map[flow.Ident]flow.NodeExecutionResult) (ready, toSkip []flow.Ident, pending bool) {
	for _, id := range g.Order {
		if _, done := results[id]; done {
			continue
		}
		edges := g.In[id]
		if len(edges) == 0 {
			ready = append(ready, id)
			continue
		}

		resolved, satisfied := 0, 0
		for _, e := range edges {
			src, ok := results[e.From]
			if !ok {
				continue
			}
			resolved++
			if src.State == flow.NodeStateSucceeded && src.HasBranch(e.Branch) {
				satisfied++
			}
		}
		if resolved < len(edges) {
			pending = true
			continue
		}
		if satisfied > 0 {
			ready = append(ready, id)
		} else {
			toSkip = append(toSkip, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	sort.Slice(toSkip, func(i, j int) bool { return toSkip[i] < toSkip[j] })
	return ready, toSkip, pending
}

func concurrencyFromSettings(settings map[string]any, fallback int) int {
	if settings == nil {
		return fallback
	}
	if v, ok := settings["concurrency"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			return int(f)
		}
		if i, ok := v.(int); ok && i > 0 {
			return i
		}
	}
	return fallback
}

func (e *Engine) emit(ctx context.Context, ev event.Event) {
	_ = e.sink.Send(ctx, ev)
}

func strPtr(s string) *string { return &s }
