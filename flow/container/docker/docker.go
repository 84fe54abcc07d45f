// Package docker implements container.Orchestrator against the Docker
// Engine API. Grounded on evalgo-org-eve's common.DockerClient interface
// (list/pull/create/start/wait/logs call sequencing) and the teacher's
// runtime/a2a/retry idiom for transient-failure handling, generalised here
// into flow/container/internal.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	flowc "n3n.dev/core/flow"
	flowcontainer "n3n.dev/core/flow/container"
	"n3n.dev/core/flow/container/internal"
	flowerrors "n3n.dev/core/flow/errors"
	"n3n.dev/core/flow/handler"
)

// Client is the subset of the Docker SDK client required by Backend,
// matching *client.Client so callers can pass either the real client or a
// mock in tests.
type Client interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// Backend implements flowcontainer.Orchestrator on top of a Docker daemon.
type Backend struct {
	cli        Client
	trusted    *flowcontainer.TrustedRegistries
	retry      internal.RetryConfig
	network    string
	httpClient *http.Client
	registry   *handler.Registry

	// mu guards containerByID and infoByID, both mutated by concurrent
	// Install/Status/Uninstall calls.
	mu           sync.Mutex
	containerByID map[flowc.Ident]string // pluginID -> containerID
	infoByID      map[flowc.Ident]flowc.ContainerInfo
}

// Options configures a Backend.
type Options struct {
	Client  Client
	Trusted *flowcontainer.TrustedRegistries
	// Network is the Docker network plugin containers are attached to so the
	// engine can reach their node-definition endpoint by container name.
	Network string
	// Registry is where a plugin's node types are registered, as proxy
	// handlers forwarding to its container, once it reports healthy. A nil
	// registry leaves installed plugins unschedulable.
	Registry *handler.Registry
}

// New constructs a Backend. Callers typically pass the real
// *client.Client (which satisfies Client) as Options.Client.
func New(opts Options) (*Backend, error) {
	if opts.Client == nil {
		return nil, flowerrors.Fatal("missing_docker_client", "docker backend requires a client", nil)
	}
	if opts.Trusted == nil {
		return nil, flowerrors.Fatal("missing_trusted_registries", "docker backend requires a trusted registry list", nil)
	}
	return &Backend{
		cli:           opts.Client,
		trusted:       opts.Trusted,
		retry:         internal.DefaultRetryConfig(),
		network:       opts.Network,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		registry:      opts.Registry,
		containerByID: make(map[flowc.Ident]string),
		infoByID:      make(map[flowc.Ident]flowc.ContainerInfo),
	}, nil
}

// Install implements flowcontainer.Orchestrator.
func (b *Backend) Install(ctx context.Context, req flowcontainer.InstallRequest) (flowc.ContainerInfo, error) {
	if !b.trusted.IsTrusted(req.Registry) {
		return flowc.ContainerInfo{}, flowerrors.PermissionDenied("untrusted_registry", fmt.Sprintf("registry %q is not on the trusted list", req.Registry))
	}

	info := flowc.ContainerInfo{
		PluginID: req.PluginID, Image: req.Image, Backend: "docker",
		Status: flowc.ContainerInstalling, InstalledAt: time.Now(),
	}

	if err := internal.Do(ctx, b.retry, func(ctx context.Context) error {
		rc, err := b.cli.ImagePull(ctx, req.Image, image.PullOptions{})
		if err != nil {
			return err
		}
		defer rc.Close()
		_, _ = io.Copy(io.Discard, rc)
		return nil
	}); err != nil {
		info.Status = flowc.ContainerFailed
		msg := err.Error()
		info.LastError = &msg
		return info, flowerrors.Transient("image_pull_failed", fmt.Sprintf("failed to pull %q", req.Image), err)
	}

	name := "n3n-plugin-" + string(req.PluginID)
	resp, err := b.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  req.Image,
			Labels: map[string]string{"n3n.plugin": "true", "n3n.plugin-id": string(req.PluginID)},
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(b.network),
			Resources: container.Resources{
				NanoCPUs:          req.Resources.CPUMillis * 1_000_000,
				Memory:            req.Resources.MemoryBytes,
				MemorySwap:        req.Resources.MemorySwapBytes,
				PidsLimit:         &req.Resources.PIDs,
			},
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			ReadonlyRootfs: true,
		},
		&network.NetworkingConfig{}, nil, name,
	)
	if err != nil {
		info.Status = flowc.ContainerFailed
		msg := err.Error()
		info.LastError = &msg
		return info, flowerrors.Transient("container_create_failed", "failed to create plugin container", err)
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		info.Status = flowc.ContainerFailed
		msg := err.Error()
		info.LastError = &msg
		return info, flowerrors.Transient("container_start_failed", "failed to start plugin container", err)
	}

	info.Endpoint = fmt.Sprintf("http://%s:8080", name)
	if err := internal.Do(ctx, b.retry, func(ctx context.Context) error {
		return b.healthCheck(ctx, info.Endpoint)
	}); err != nil {
		info.Status = flowc.ContainerFailed
		msg := err.Error()
		info.LastError = &msg
		return info, flowerrors.Transient("health_check_failed", "plugin container did not become healthy", err)
	}

	now := time.Now()
	info.Status = flowc.ContainerRunning
	info.LastHealthy = &now

	defs, err := b.fetchNodeDefinitions(ctx, info.Endpoint)
	if err != nil {
		info.Status = flowc.ContainerFailed
		msg := err.Error()
		info.LastError = &msg
		return info, flowerrors.Transient("node_definitions_fetch_failed", "failed to fetch node definitions from newly started plugin container", err)
	}
	info.NodeTypes = flowcontainer.RegisterNodeTypes(b.registry, info.Endpoint, b.httpClient, defs)

	b.mu.Lock()
	b.containerByID[req.PluginID] = resp.ID
	b.infoByID[req.PluginID] = info
	b.mu.Unlock()
	return info, nil
}

func (b *Backend) healthCheck(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/n3n/node-definitions", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Uninstall implements flowcontainer.Orchestrator.
func (b *Backend) Uninstall(ctx context.Context, pluginID flowc.Ident) error {
	b.mu.Lock()
	id, ok := b.containerByID[pluginID]
	info := b.infoByID[pluginID]
	b.mu.Unlock()
	if !ok {
		return flowerrors.NotFound("plugin_not_installed", "no installed container for that plugin id")
	}
	timeout := 10
	if err := b.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return flowerrors.Transient("container_stop_failed", "failed to stop plugin container", err)
	}
	if err := b.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return flowerrors.Transient("container_remove_failed", "failed to remove plugin container", err)
	}
	if b.registry != nil {
		for _, t := range info.NodeTypes {
			b.registry.Unregister(t)
		}
	}
	b.mu.Lock()
	delete(b.containerByID, pluginID)
	delete(b.infoByID, pluginID)
	b.mu.Unlock()
	return nil
}

// Status implements flowcontainer.Orchestrator.
func (b *Backend) Status(ctx context.Context, pluginID flowc.Ident) (flowc.ContainerInfo, error) {
	b.mu.Lock()
	info, ok := b.infoByID[pluginID]
	b.mu.Unlock()
	if !ok {
		return flowc.ContainerInfo{}, flowerrors.NotFound("plugin_not_installed", "no installed container for that plugin id")
	}
	return info, nil
}

// NodeDefinitions implements flowcontainer.Orchestrator by calling the
// plugin's node-definition endpoint.
func (b *Backend) NodeDefinitions(ctx context.Context, pluginID flowc.Ident) ([]flowcontainer.NodeDefinition, error) {
	info, err := b.Status(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	return b.fetchNodeDefinitions(ctx, info.Endpoint)
}

// fetchNodeDefinitions calls endpoint's node-definition route directly,
// usable both before a ContainerInfo exists (right after a fresh install)
// and via the public NodeDefinitions accessor.
func (b *Backend) fetchNodeDefinitions(ctx context.Context, endpoint string) ([]flowcontainer.NodeDefinition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/n3n/node-definitions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, flowerrors.Transient("node_definitions_fetch_failed", "failed to fetch node definitions", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return nil, flowerrors.Transient("node_definitions_fetch_failed", fmt.Sprintf("status %d: %s", resp.StatusCode, buf.String()), nil)
	}
	return decodeNodeDefinitions(resp.Body)
}

// ensure *client.Client satisfies Client at compile time.
var _ Client = (*client.Client)(nil)
