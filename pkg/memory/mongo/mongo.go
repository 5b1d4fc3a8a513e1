package mongo

import (
	"context"
	"time"

	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/fixwise/manualiq/pkg/memory/consts"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMemory implements Memory backed by a MongoDB collection.
type MongoMemory struct {
	collection *mongo.Collection
}

type messageDoc struct {
	SessionID string    `bson:"session_id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// New creates a new MongoMemory adapter.
func New(client *mongo.Client, dbName, collectionName string) *MongoMemory {
	return &MongoMemory{
		collection: client.Database(dbName).Collection(collectionName),
	}
}

func (m *MongoMemory) Append(ctx context.Context, sessionID string, msg llm.Message) error {
	doc := messageDoc{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: time.Now(),
	}

	_, err := m.collection.InsertOne(ctx, doc)
	return err
}

func (m *MongoMemory) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	filter := bson.M{consts.ColSessionID: sessionID}
	opts := options.Find().SetSort(bson.M{consts.ColCreatedAt: 1})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []llm.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		messages = append(messages, llm.Message{
			Role:    llm.Role(doc.Role),
			Content: doc.Content,
		})
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (m *MongoMemory) Clear(ctx context.Context, sessionID string) error {
	_, err := m.collection.DeleteMany(ctx, bson.M{consts.ColSessionID: sessionID})
	return err
}
