// Package handler implements the Node Handler Registry (C1): the catalogue
// of node types the execution engine can schedule, their config schemas, and
// the runtime contract handlers implement.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
)

// Handler implements one node type's runtime behavior.
type Handler interface {
	// Execute runs the node against ctx and returns its result. Handlers are
	// expected to be side-effect-idempotent where the node type allows it,
	// but the engine does not assume this and never retries a node.
	Execute(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
	return f(ctx, nctx)
}

// Descriptor is the registry entry for one node type: its handler
// implementation plus the metadata the DAG validator and the AI flow
// builder read (display name, config schema, declared output branches).
type Descriptor struct {
	Type          string
	DisplayName   string
	Description   string
	ConfigSchema  json.RawMessage
	OutputBranches []flow.EdgeBranch
	Handler       Handler

	compiled *jsonschema.Schema
}

// Registry is the in-process catalogue of node handlers, backing both the
// DAG validator's "does this node type exist" check and the execution
// engine's dispatch.
type Registry struct {
	mu    sync.RWMutex
	byType map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]*Descriptor)}
}

// Register adds d to the registry, compiling its config schema (if any) once
// up front so later ValidateConfig calls are cheap. Registering a type twice
// is an error.
func (r *Registry) Register(d Descriptor) error {
	if d.Type == "" {
		return flowerrors.Validation("empty_node_type", "node type must not be empty")
	}
	if d.Handler == nil {
		return flowerrors.Validation("missing_handler", fmt.Sprintf("node type %q has no handler", d.Type))
	}

	if len(d.ConfigSchema) > 0 {
		var schemaDoc any
		if err := json.Unmarshal(d.ConfigSchema, &schemaDoc); err != nil {
			return flowerrors.Validation("invalid_config_schema", fmt.Sprintf("node type %q: config schema is not valid JSON: %v", d.Type, err))
		}
		c := jsonschema.NewCompiler()
		resourceID := "node-type:" + d.Type
		if err := c.AddResource(resourceID, schemaDoc); err != nil {
			return flowerrors.Validation("invalid_config_schema", fmt.Sprintf("node type %q: %v", d.Type, err))
		}
		compiled, err := c.Compile(resourceID)
		if err != nil {
			return flowerrors.Validation("invalid_config_schema", fmt.Sprintf("node type %q: %v", d.Type, err))
		}
		d.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[d.Type]; exists {
		return flowerrors.Validation("duplicate_node_type", fmt.Sprintf("node type %q is already registered", d.Type))
	}
	r.byType[d.Type] = &d
	return nil
}

// Lookup returns the descriptor for typ, or a NotFound error.
func (r *Registry) Lookup(typ string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[typ]
	if !ok {
		return nil, flowerrors.NotFound("unknown_node_type", fmt.Sprintf("no handler registered for node type %q", typ))
	}
	clone := *d
	return &clone, nil
}

// Unregister removes typ from the registry, if present. Used when a plugin
// container is uninstalled or reinstalled so its node types stop being
// schedulable and Register can be called again for the same type.
func (r *Registry) Unregister(typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byType, typ)
}

// List returns every registered descriptor, sorted by type.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byType))
	for _, d := range r.byType {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ValidateConfig validates config against the node type's compiled JSON
// Schema. A node type with no schema accepts any config.
func (r *Registry) ValidateConfig(typ string, config map[string]any) error {
	r.mu.RLock()
	d, ok := r.byType[typ]
	r.mu.RUnlock()
	if !ok {
		return flowerrors.NotFound("unknown_node_type", fmt.Sprintf("no handler registered for node type %q", typ))
	}
	if d.compiled == nil {
		return nil
	}
	if err := d.compiled.Validate(config); err != nil {
		return flowerrors.Validation("config_schema_violation", fmt.Sprintf("node type %q: %v", typ, err))
	}
	return nil
}
