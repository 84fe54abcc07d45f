// Package temporal provides an alternative, durable-execution backend for
// the Execution Engine, running each flow as a Temporal workflow and each
// node as a Temporal activity. It is an opt-in alternative to flow/engine's
// in-process scheduler for deployments that already operate a Temporal
// cluster and want executions to survive worker restarts without relying on
// the in-memory/Mongo Store directly.
//
// Grounded on the teacher's runtime/agent/engine pluggable-backend shape:
// the same flow.FlowDefinition and node dispatch drive either backend.
package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/workflow"

	"n3n.dev/core/flow"
	"n3n.dev/core/flow/dag"
	"n3n.dev/core/flow/expr"
	"n3n.dev/core/flow/handler"
)

// RunFlowRequest is the workflow input: the flow version to run plus the
// trigger payload.
type RunFlowRequest struct {
	ExecutionID flow.Ident
	FlowID      flow.Ident
	Version     int
	Definition  flow.FlowDefinition
	TriggerData map[string]any
}

// RunFlowResult is the workflow output: the final node results.
type RunFlowResult struct {
	NodeResults map[flow.Ident]flow.NodeExecutionResult
	Status      flow.ExecutionStatus
}

// ExecuteNodeActivityName is the activity a registered handler runs under.
// Temporal activities are deterministic-unaware, so the handler itself runs
// exactly as it does under the in-process engine; only the scheduling loop
// differs.
const ExecuteNodeActivityName = "n3n.ExecuteNode"

// NodeActivities adapts a handler.Registry to a Temporal activity.
type NodeActivities struct {
	Handlers *handler.Registry
	ExprEval *expr.Evaluator
}

// ExecuteNode is registered as a Temporal activity; it looks up the node's
// handler and runs it, mirroring flow/engine's executeNode but without
// engine-side timeout/concurrency bookkeeping (Temporal's own activity
// timeouts and worker concurrency apply instead).
func (a *NodeActivities) ExecuteNode(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
	d, err := a.Handlers.Lookup(nctx.Node.Type)
	if err != nil {
		return flow.NodeExecutionResult{}, err
	}
	resolvedConfig, err := a.ExprEval.EvaluateConfig(nctx.Node.Config, expr.Context{
		Node:        nctx.Input,
		ExecutionID: nctx.ExecutionID,
		WorkflowID:  nctx.FlowID,
		Now:         time.Now(),
	})
	if err != nil {
		return flow.NodeExecutionResult{}, err
	}
	nctx.Node.Config = resolvedConfig
	result, err := d.Handler.Execute(ctx, nctx)
	if err != nil {
		return flow.NodeExecutionResult{}, err
	}
	result.NodeID = nctx.Node.ID
	return result, nil
}

// RunFlowWorkflow schedules req.Definition to completion by running each
// topological wave's nodes as parallel activity futures. Branch-skip
// semantics mirror flow/engine.evaluateReadiness exactly; this function is
// the workflow-deterministic counterpart of that scheduling loop.
func RunFlowWorkflow(ctx workflow.Context, req RunFlowRequest) (RunFlowResult, error) {
	ao := workflow.ActivityOptions{StartToCloseTimeout: 5 * time.Minute}
	ctx = workflow.WithActivityOptions(ctx, ao)

	g, err := dag.Build(req.Definition)
	if err != nil {
		return RunFlowResult{}, err
	}

	results := make(map[flow.Ident]flow.NodeExecutionResult, len(g.Nodes))
	input := make(map[flow.Ident]map[string]any)

	for {
		ready, toSkip, pending := readiness(g, results)
		for _, id := range toSkip {
			results[id] = flow.NodeExecutionResult{NodeID: id, State: flow.NodeStateSkipped}
		}
		if len(ready) == 0 {
			if len(toSkip) > 0 {
				continue
			}
			if pending {
				return RunFlowResult{NodeResults: results, Status: flow.ExecutionFailed}, nil
			}
			break
		}

		futures := make(map[flow.Ident]workflow.Future, len(ready))
		for _, id := range ready {
			node := g.Nodes[id]
			nctx := flow.NodeExecutionContext{
				ExecutionID: req.ExecutionID,
				FlowID:      req.FlowID,
				Node:        node,
				Input:       input,
				TriggerData: req.TriggerData,
			}
			futures[id] = workflow.ExecuteActivity(ctx, ExecuteNodeActivityName, nctx)
		}
		for id, f := range futures {
			var res flow.NodeExecutionResult
			if err := f.Get(ctx, &res); err != nil {
				msg := err.Error()
				res = flow.NodeExecutionResult{NodeID: id, State: flow.NodeStateFailed, Error: &msg}
			}
			results[id] = res
			if res.State == flow.NodeStateSucceeded {
				input[id] = res.Output
			}
		}
	}

	status := flow.ExecutionSucceeded
	for _, r := range results {
		if r.State == flow.NodeStateFailed {
			status = flow.ExecutionFailed
			break
		}
	}
	return RunFlowResult{NodeResults: results, Status: status}, nil
}

// readiness is the workflow-safe (no time.Now, no goroutines) counterpart of
// flow/engine.evaluateReadiness.
func readiness(g *dag.Graph, results map[flow.Ident]flow.NodeExecutionResult) (ready, toSkip []flow.Ident, pending bool) {
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
	return ready, toSkip, pending
}
