// Package mongo implements engine.Store against MongoDB, for deployments
// that need execution state to survive process restarts and to be queryable
// across engine workers. Grounded on the teacher's features/run/mongo store
// (one document per run, upsert-by-ID semantics).
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
)

// Store implements engine.Store backed by a single MongoDB collection, one
// document per execution.
type Store struct {
	coll *mongo.Collection
}

// New returns a Store backed by coll. Callers own the collection's lifecycle
// (indexes, connection pool).
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// document is the on-wire shape of one execution.
type document struct {
	ID             string                            `bson:"_id"`
	FlowID         string                            `bson:"flowId"`
	UserID         string                            `bson:"userId"`
	Version       int                                `bson:"version"`
	Status         flow.ExecutionStatus              `bson:"status"`
	TriggerData    map[string]any                    `bson:"triggerData"`
	NodeResults    map[string]flow.NodeExecutionResult `bson:"nodeResults"`
	WaitingOn      *flow.ResumeCondition             `bson:"waitingOn,omitempty"`
	ConcurrencyCap int                                `bson:"concurrencyCap"`
	StartedAt      time.Time                         `bson:"startedAt"`
	FinishedAt     *time.Time                        `bson:"finishedAt,omitempty"`
}

func toDocument(ex flow.Execution) document {
	results := make(map[string]flow.NodeExecutionResult, len(ex.NodeResults))
	for id, r := range ex.NodeResults {
		results[string(id)] = r
	}
	return document{
		ID: string(ex.ID), FlowID: string(ex.FlowID), UserID: string(ex.UserID), Version: ex.Version, Status: ex.Status,
		TriggerData: ex.TriggerData, NodeResults: results, WaitingOn: ex.WaitingOn,
		ConcurrencyCap: ex.ConcurrencyCap, StartedAt: ex.StartedAt, FinishedAt: ex.FinishedAt,
	}
}

func fromDocument(d document) flow.Execution {
	results := make(map[flow.Ident]flow.NodeExecutionResult, len(d.NodeResults))
	for id, r := range d.NodeResults {
		results[flow.Ident(id)] = r
	}
	return flow.Execution{
		ID: flow.Ident(d.ID), FlowID: flow.Ident(d.FlowID), UserID: flow.Ident(d.UserID), Version: d.Version, Status: d.Status,
		TriggerData: d.TriggerData, NodeResults: results, WaitingOn: d.WaitingOn,
		ConcurrencyCap: d.ConcurrencyCap, StartedAt: d.StartedAt, FinishedAt: d.FinishedAt,
	}
}

// Create implements engine.Store.
func (s *Store) Create(ctx context.Context, ex flow.Execution) error {
	_, err := s.coll.InsertOne(ctx, toDocument(ex))
	if mongo.IsDuplicateKeyError(err) {
		return flowerrors.Validation("duplicate_execution_id", "execution already exists")
	}
	if err != nil {
		return flowerrors.Transient("mongo_insert_failed", "failed to create execution", err)
	}
	return nil
}

// Get implements engine.Store.
func (s *Store) Get(ctx context.Context, id flow.Ident) (flow.Execution, error) {
	var d document
	err := s.coll.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return flow.Execution{}, flowerrors.NotFound("execution_not_found", "no execution with that id")
	}
	if err != nil {
		return flow.Execution{}, flowerrors.Transient("mongo_find_failed", "failed to load execution", err)
	}
	return fromDocument(d), nil
}

// Update implements engine.Store, replacing the full document.
func (s *Store) Update(ctx context.Context, ex flow.Execution) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": string(ex.ID)}, toDocument(ex), options.Replace())
	if err != nil {
		return flowerrors.Transient("mongo_replace_failed", "failed to update execution", err)
	}
	if res.MatchedCount == 0 {
		return flowerrors.NotFound("execution_not_found", "no execution with that id")
	}
	return nil
}
