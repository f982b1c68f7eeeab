// Package audit records administrative changes.
package audit

import (
	"bookmart/logger"
	"context"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
)

type Entry struct {
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
	ActorID   uint        `bson:"actorId" json:"actorId"`
	Entity    string      `bson:"entity" json:"entity"`
	EntityID  uint        `bson:"entityId" json:"entityId"`
	Action    string      `bson:"action" json:"action"`
	Data      interface{} `bson:"data,omitempty" json:"data,omitempty"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// MongoRecorder appends entries to a MongoDB collection.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoRecorder(ctx context.Context, uri, database, collection string) (*MongoRecorder, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoRecorder{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (r *MongoRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, entry)
	return err
}

func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// LogRecorder writes entries to the application log.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, entry Entry) error {
	logger.Ctx(ctx).Info().
		Str("component", "audit").
		Uint("actorId", entry.ActorID).
		Str("entity", entry.Entity).
		Uint("entityId", entry.EntityID).
		Str("action", entry.Action).
		Interface("data", entry.Data).
		Msg("admin action")
	return nil
}
