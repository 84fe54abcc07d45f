// Package inmem implements engine.Store in memory, for tests and
// single-process deployments. Grounded on the teacher's
// runtime/agent/session/inmem store: a sync.RWMutex-guarded map that copies
// an execution's NodeResults and TriggerData maps and its WaitingOn value on
// read and write, so callers cannot add or remove entries in stored state
// through a returned value. Values nested inside those maps (such as node
// output maps) are not copied and stay shared.
package inmem

import (
	"context"
	"sync"

	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
)

// Store is an in-memory engine.Store.
type Store struct {
	mu         sync.RWMutex
	executions map[flow.Ident]flow.Execution
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{executions: make(map[flow.Ident]flow.Execution)}
}

// Create implements engine.Store.
func (s *Store) Create(ctx context.Context, ex flow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[ex.ID]; exists {
		return flowerrors.Validation("duplicate_execution_id", "execution already exists")
	}
	s.executions[ex.ID] = cloneExecution(ex)
	return nil
}

// Get implements engine.Store.
func (s *Store) Get(ctx context.Context, id flow.Ident) (flow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[id]
	if !ok {
		return flow.Execution{}, flowerrors.NotFound("execution_not_found", "no execution with that id")
	}
	return cloneExecution(ex), nil
}

// Update implements engine.Store.
func (s *Store) Update(ctx context.Context, ex flow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[ex.ID]; !ok {
		return flowerrors.NotFound("execution_not_found", "no execution with that id")
	}
	s.executions[ex.ID] = cloneExecution(ex)
	return nil
}

func cloneExecution(ex flow.Execution) flow.Execution {
	clone := ex
	clone.NodeResults = make(map[flow.Ident]flow.NodeExecutionResult, len(ex.NodeResults))
	for k, v := range ex.NodeResults {
		clone.NodeResults[k] = v
	}
	if ex.TriggerData != nil {
		clone.TriggerData = make(map[string]any, len(ex.TriggerData))
		for k, v := range ex.TriggerData {
			clone.TriggerData[k] = v
		}
	}
	if ex.WaitingOn != nil {
		w := *ex.WaitingOn
		clone.WaitingOn = &w
	}
	return clone
}
