package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/MuteaJohn/Donation/internal/models"
)

const callbackCollection = "stk_callbacks"

// MongoCallbackJournal stores every raw STK callback with its correlation
// outcome so operators can replay or audit what the gateway sent.
type MongoCallbackJournal struct {
	collection *mongo.Collection
}

func NewMongoCallbackJournal(db *mongo.Database) *MongoCallbackJournal {
	return &MongoCallbackJournal{collection: db.Collection(callbackCollection)}
}

func (j *MongoCallbackJournal) Record(ctx context.Context, entry models.CallbackLog) error {
	if _, err := j.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert callback log: %w", err)
	}
	return nil
}

func (j *MongoCallbackJournal) EnsureIndexes(ctx context.Context) error {
	_, err := j.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "checkout_request_id", Value: 1}, {Key: "received_at", Value: 1}}},
		{Keys: bson.D{{Key: "outcome", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create callback log indexes: %w", err)
	}
	return nil
}
