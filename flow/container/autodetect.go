package container

import (
	"context"
	"os"

	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
)

// Detect picks the Orchestrator backend to use: Kubernetes when the process
// is running inside a cluster (KUBERNETES_SERVICE_HOST is set, the standard
// in-cluster signal client-go itself relies on), Docker otherwise. Callers
// that already know their deployment target should construct the docker or
// kubernetes backend directly instead of going through Detect.
func Detect() Backend {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return BackendKubernetes
	}
	return BackendDocker
}

// Backend names a concrete Orchestrator implementation.
type Backend string

const (
	BackendDocker     Backend = "docker"
	BackendKubernetes Backend = "kubernetes"
)

// Fallback wraps a primary and secondary Orchestrator, retrying Install
// against the secondary when the primary fails for a reason other than an
// untrusted registry (which is a policy rejection, not an infrastructure
// failure, and retrying against another backend would not change it).
type Fallback struct {
	Primary   Orchestrator
	Secondary Orchestrator
}

// Install implements Orchestrator.
func (f *Fallback) Install(ctx context.Context, req InstallRequest) (flow.ContainerInfo, error) {
	info, err := f.Primary.Install(ctx, req)
	if err == nil {
		return info, nil
	}
	if f.Secondary == nil || flowerrors.Is(err, flowerrors.KindPermissionDenied) {
		return info, err
	}
	return f.Secondary.Install(ctx, req)
}

// Uninstall implements Orchestrator.
func (f *Fallback) Uninstall(ctx context.Context, pluginID flow.Ident) error {
	if err := f.Primary.Uninstall(ctx, pluginID); err == nil {
		return nil
	}
	if f.Secondary == nil {
		return f.Primary.Uninstall(ctx, pluginID)
	}
	return f.Secondary.Uninstall(ctx, pluginID)
}

// Status implements Orchestrator.
func (f *Fallback) Status(ctx context.Context, pluginID flow.Ident) (flow.ContainerInfo, error) {
	if info, err := f.Primary.Status(ctx, pluginID); err == nil {
		return info, nil
	}
	if f.Secondary == nil {
		return f.Primary.Status(ctx, pluginID)
	}
	return f.Secondary.Status(ctx, pluginID)
}

// NodeDefinitions implements Orchestrator.
func (f *Fallback) NodeDefinitions(ctx context.Context, pluginID flow.Ident) ([]NodeDefinition, error) {
	if defs, err := f.Primary.NodeDefinitions(ctx, pluginID); err == nil {
		return defs, nil
	}
	if f.Secondary == nil {
		return f.Primary.NodeDefinitions(ctx, pluginID)
	}
	return f.Secondary.NodeDefinitions(ctx, pluginID)
}

var _ Orchestrator = (*Fallback)(nil)
