// Package container implements the Plugin Container Orchestrator (C5):
// installing, running, and health-checking the containers that back
// user-supplied node types, behind a single Orchestrator interface backed by
// either Docker or Kubernetes.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
	"n3n.dev/core/flow/handler"
)

// NodeDefinition is what a running plugin container reports about the node
// types it implements, fetched from its node-definition endpoint.
type NodeDefinition struct {
	Type         string
	DisplayName  string
	Description  string
	ConfigSchema []byte
}

// InstallRequest describes a plugin to install.
type InstallRequest struct {
	PluginID flow.Ident
	Image    string
	// Registry is the image registry the plugin was pulled from; the
	// orchestrator refuses to install images from a registry not on its
	// trusted list.
	Registry string
	Resources ResourceLimits
}

// ResourceLimits caps what a plugin container may consume.
type ResourceLimits struct {
	CPUMillis   int64
	MemoryBytes int64
	// MemorySwapBytes, when non-zero, caps combined memory+swap (Docker) or
	// is ignored (Kubernetes, which has no swap-limit concept).
	MemorySwapBytes int64
	PIDs            int64
}

// Orchestrator manages the lifecycle of plugin containers.
type Orchestrator interface {
	// Install pulls req.Image (after verifying req.Registry is trusted),
	// starts the container with req.Resources enforced, and waits for it to
	// report healthy.
	Install(ctx context.Context, req InstallRequest) (flow.ContainerInfo, error)
	// Uninstall stops and removes a previously installed plugin's container.
	Uninstall(ctx context.Context, pluginID flow.Ident) error
	// Status returns the current ContainerInfo for pluginID.
	Status(ctx context.Context, pluginID flow.Ident) (flow.ContainerInfo, error)
	// NodeDefinitions fetches the node types a running plugin implements.
	NodeDefinitions(ctx context.Context, pluginID flow.Ident) ([]NodeDefinition, error)
}

// TrustedRegistries is a small allow-list gate shared by every backend.
type TrustedRegistries struct {
	allowed map[string]struct{}
}

// NewTrustedRegistries builds an allow-list from registry hostnames.
func NewTrustedRegistries(registries ...string) *TrustedRegistries {
	allowed := make(map[string]struct{}, len(registries))
	for _, r := range registries {
		allowed[r] = struct{}{}
	}
	return &TrustedRegistries{allowed: allowed}
}

// IsTrusted reports whether registry is on the allow-list.
func (t *TrustedRegistries) IsTrusted(registry string) bool {
	_, ok := t.allowed[registry]
	return ok
}

// ProxyHandler implements flow/handler.Handler by forwarding node execution
// to a plugin container's HTTP endpoint, the C1<->C5 wiring that turns an
// installed plugin's node types into ones the engine can actually schedule.
// It marshals the NodeExecutionContext as JSON, POSTs it to {endpoint}/execute,
// and decodes the response body as a NodeExecutionResult.
type ProxyHandler struct {
	endpoint string
	client   *http.Client
}

// NewProxyHandler returns a ProxyHandler forwarding to endpoint via client.
func NewProxyHandler(endpoint string, client *http.Client) *ProxyHandler {
	return &ProxyHandler{endpoint: endpoint, client: client}
}

// RegisterNodeTypes registers a proxy handler for each of defs against reg,
// forwarding execution to endpoint via client. It is shared by every backend
// once a plugin container reports healthy: the point where the running
// container's node types become schedulable by the engine. A nil reg is a
// no-op, returning the node type names unregistered so ContainerInfo still
// reports what the plugin implements. Each type is unregistered first so a
// reinstall of the same plugin does not fail on a duplicate-type error.
func RegisterNodeTypes(reg *handler.Registry, endpoint string, client *http.Client, defs []NodeDefinition) []string {
	types := make([]string, 0, len(defs))
	for _, d := range defs {
		types = append(types, d.Type)
		if reg == nil {
			continue
		}
		reg.Unregister(d.Type)
		_ = reg.Register(handler.Descriptor{
			Type:         d.Type,
			DisplayName:  d.DisplayName,
			Description:  d.Description,
			ConfigSchema: json.RawMessage(d.ConfigSchema),
			Handler:      NewProxyHandler(endpoint, client),
		})
	}
	return types
}

// Execute implements flow/handler.Handler.
func (p *ProxyHandler) Execute(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
	body, err := json.Marshal(nctx)
	if err != nil {
		return flow.NodeExecutionResult{}, flowerrors.Fatal("proxy_marshal_failed", "failed to marshal node execution context", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return flow.NodeExecutionResult{}, flowerrors.Fatal("proxy_request_build_failed", "failed to build plugin execute request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return flow.NodeExecutionResult{}, flowerrors.Transient("proxy_request_failed", "plugin container execute request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return flow.NodeExecutionResult{}, flowerrors.Handler("proxy_execute_failed", fmt.Sprintf("plugin container returned status %d: %s", resp.StatusCode, buf.String()), nil)
	}

	var result flow.NodeExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return flow.NodeExecutionResult{}, flowerrors.Fatal("proxy_decode_failed", "failed to decode plugin execute response", err)
	}
	return result, nil
}
