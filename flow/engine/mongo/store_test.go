package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"n3n.dev/core/flow"
	flowmongo "n3n.dev/core/flow/engine/mongo"
)

// startMongo brings up a disposable MongoDB container for the test and
// returns a Store backed by a fresh collection in it, grounded on the
// testcontainers-go GenericContainer shape used across the example pack's
// container-testing helpers (e.g. evalgo-org-eve's containers/testing
// package).
func startMongo(t *testing.T) *flowmongo.Store {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("mongo container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	uri := "mongodb://" + host + ":" + port.Port()
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	require.NoError(t, client.Ping(ctx, nil))

	coll := client.Database("n3n_test").Collection("executions")
	return flowmongo.New(coll)
}

func TestStoreCreateGetUpdate(t *testing.T) {
	store := startMongo(t)
	ctx := context.Background()

	ex := flow.Execution{
		ID:          "e1",
		FlowID:      "f1",
		Version:     1,
		Status:      flow.ExecutionRunning,
		TriggerData: map[string]any{"foo": "bar"},
		NodeResults: map[flow.Ident]flow.NodeExecutionResult{},
		StartedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Create(ctx, ex))

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, ex.Status, got.Status)
	require.Equal(t, ex.TriggerData, got.TriggerData)

	got.Status = flow.ExecutionSucceeded
	require.NoError(t, store.Update(ctx, got))

	got2, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, flow.ExecutionSucceeded, got2.Status)
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	store := startMongo(t)
	_, err := store.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestStoreCreateDuplicateFails(t *testing.T) {
	store := startMongo(t)
	ctx := context.Background()
	ex := flow.Execution{ID: "dup1", Status: flow.ExecutionRunning, NodeResults: map[flow.Ident]flow.NodeExecutionResult{}, StartedAt: time.Now().UTC()}
	require.NoError(t, store.Create(ctx, ex))
	require.Error(t, store.Create(ctx, ex))
}
