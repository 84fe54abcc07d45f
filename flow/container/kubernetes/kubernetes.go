// Package kubernetes implements container.Orchestrator against a Kubernetes
// cluster: one Deployment + one ClusterIP Service per installed plugin.
// Grounded on the Deployment/Service/resource-limit shape used across the
// example pack's Kubernetes tooling (client-go clientset, appsv1.Deployment,
// corev1.Service, resource.Quantity limits, liveness/readiness HTTP probes).
package kubernetes

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	flowc "n3n.dev/core/flow"
	flowcontainer "n3n.dev/core/flow/container"
	"n3n.dev/core/flow/container/internal"
	flowerrors "n3n.dev/core/flow/errors"
	"n3n.dev/core/flow/handler"
)

// Backend implements flowcontainer.Orchestrator against a Kubernetes
// cluster.
type Backend struct {
	clientset  kubernetes.Interface
	namespace  string
	trusted    *flowcontainer.TrustedRegistries
	retry      internal.RetryConfig
	httpClient *http.Client
	registry   *handler.Registry

	// mu guards infoByID, mutated by concurrent Install/Status/Uninstall
	// calls.
	mu       sync.Mutex
	infoByID map[flowc.Ident]flowc.ContainerInfo
}

// Options configures a Backend.
type Options struct {
	Clientset kubernetes.Interface
	Namespace string
	Trusted   *flowcontainer.TrustedRegistries
	// Registry is where a plugin's node types are registered, as proxy
	// handlers forwarding to its service, once its deployment reports
	// healthy. A nil registry leaves installed plugins unschedulable.
	Registry *handler.Registry
}

// New constructs a Backend.
func New(opts Options) (*Backend, error) {
	if opts.Clientset == nil {
		return nil, flowerrors.Fatal("missing_k8s_clientset", "kubernetes backend requires a clientset", nil)
	}
	if opts.Trusted == nil {
		return nil, flowerrors.Fatal("missing_trusted_registries", "kubernetes backend requires a trusted registry list", nil)
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "default"
	}
	return &Backend{
		clientset: opts.Clientset, namespace: ns, trusted: opts.Trusted,
		retry: internal.DefaultRetryConfig(), httpClient: &http.Client{Timeout: 5 * time.Second},
		registry: opts.Registry,
		infoByID: make(map[flowc.Ident]flowc.ContainerInfo),
	}, nil
}

func deploymentName(pluginID flowc.Ident) string { return "n3n-plugin-" + string(pluginID) }

// Install implements flowcontainer.Orchestrator.
func (b *Backend) Install(ctx context.Context, req flowcontainer.InstallRequest) (flowc.ContainerInfo, error) {
	if !b.trusted.IsTrusted(req.Registry) {
		return flowc.ContainerInfo{}, flowerrors.PermissionDenied("untrusted_registry", fmt.Sprintf("registry %q is not on the trusted list", req.Registry))
	}

	name := deploymentName(req.PluginID)
	replicas := int32(1)
	cpuLimit := resource.NewMilliQuantity(req.Resources.CPUMillis, resource.DecimalSI)
	memLimit := resource.NewQuantity(req.Resources.MemoryBytes, resource.BinarySI)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: b.namespace,
			Labels:    map[string]string{"app": name, "n3n.plugin": "true", "n3n.plugin-id": string(req.PluginID)},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": name}},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "plugin",
							Image: req.Image,
							Ports: []corev1.ContainerPort{{Name: "http", ContainerPort: 8080, Protocol: corev1.ProtocolTCP}},
							Resources: corev1.ResourceRequirements{
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    *cpuLimit,
									corev1.ResourceMemory: *memLimit,
								},
							},
							SecurityContext: &corev1.SecurityContext{
								AllowPrivilegeEscalation: boolPtr(false),
								Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
								ReadOnlyRootFilesystem:   boolPtr(true),
							},
							LivenessProbe: &corev1.Probe{
								ProbeHandler:        corev1.ProbeHandler{HTTPGet: &corev1.HTTPGetAction{Path: "/n3n/node-definitions", Port: intstr.FromInt(8080)}},
								InitialDelaySeconds: 5,
								PeriodSeconds:       10,
							},
							ReadinessProbe: &corev1.Probe{
								ProbeHandler:        corev1.ProbeHandler{HTTPGet: &corev1.HTTPGetAction{Path: "/n3n/node-definitions", Port: intstr.FromInt(8080)}},
								InitialDelaySeconds: 2,
								PeriodSeconds:       5,
							},
						},
					},
				},
			},
		},
	}

	deployments := b.clientset.AppsV1().Deployments(b.namespace)
	if _, err := deployments.Get(ctx, name, metav1.GetOptions{}); err == nil {
		if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
			return flowc.ContainerInfo{}, flowerrors.Transient("deployment_update_failed", "failed to update plugin deployment", err)
		}
	} else if apierrors.IsNotFound(err) {
		if _, err := deployments.Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
			return flowc.ContainerInfo{}, flowerrors.Transient("deployment_create_failed", "failed to create plugin deployment", err)
		}
	} else {
		return flowc.ContainerInfo{}, flowerrors.Transient("deployment_get_failed", "failed to query plugin deployment", err)
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: b.namespace},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": name},
			Ports:    []corev1.ServicePort{{Port: 8080, TargetPort: intstr.FromInt(8080)}},
			Type:     corev1.ServiceTypeClusterIP,
		},
	}
	services := b.clientset.CoreV1().Services(b.namespace)
	if _, err := services.Get(ctx, name, metav1.GetOptions{}); apierrors.IsNotFound(err) {
		if _, err := services.Create(ctx, service, metav1.CreateOptions{}); err != nil {
			return flowc.ContainerInfo{}, flowerrors.Transient("service_create_failed", "failed to create plugin service", err)
		}
	}

	endpoint := fmt.Sprintf("http://%s.%s.svc.cluster.local:8080", name, b.namespace)
	info := flowc.ContainerInfo{
		PluginID: req.PluginID, Image: req.Image, Backend: "kubernetes",
		Status: flowc.ContainerInstalling, Endpoint: endpoint, InstalledAt: time.Now(),
	}

	if err := internal.Do(ctx, b.retry, func(ctx context.Context) error {
		return b.healthCheck(ctx, endpoint)
	}); err != nil {
		info.Status = flowc.ContainerFailed
		msg := err.Error()
		info.LastError = &msg
		b.mu.Lock()
		b.infoByID[req.PluginID] = info
		b.mu.Unlock()
		return info, flowerrors.Transient("health_check_failed", "plugin deployment did not become healthy", err)
	}

	now := time.Now()
	info.Status = flowc.ContainerRunning
	info.LastHealthy = &now

	defs, err := b.fetchNodeDefinitions(ctx, endpoint)
	if err != nil {
		info.Status = flowc.ContainerFailed
		msg := err.Error()
		info.LastError = &msg
		b.mu.Lock()
		b.infoByID[req.PluginID] = info
		b.mu.Unlock()
		return info, flowerrors.Transient("node_definitions_fetch_failed", "failed to fetch node definitions from newly started plugin deployment", err)
	}
	info.NodeTypes = flowcontainer.RegisterNodeTypes(b.registry, endpoint, b.httpClient, defs)

	b.mu.Lock()
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
	info, ok := b.infoByID[pluginID]
	b.mu.Unlock()
	if !ok {
		return flowerrors.NotFound("plugin_not_installed", "no installed container for that plugin id")
	}

	name := deploymentName(pluginID)
	if err := b.clientset.AppsV1().Deployments(b.namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return flowerrors.Transient("deployment_delete_failed", "failed to delete plugin deployment", err)
	}
	if err := b.clientset.CoreV1().Services(b.namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return flowerrors.Transient("service_delete_failed", "failed to delete plugin service", err)
	}
	if b.registry != nil {
		for _, t := range info.NodeTypes {
			b.registry.Unregister(t)
		}
	}
	b.mu.Lock()
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

// NodeDefinitions implements flowcontainer.Orchestrator.
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
	return decodeNodeDefinitions(resp.Body)
}

func boolPtr(b bool) *bool { return &b }
