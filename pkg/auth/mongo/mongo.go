package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/fixwise/manualiq/pkg/auth"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store implements auth.Store backed by a MongoDB collection.
type Store struct {
	collection *mongo.Collection
}

type userDoc struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Email    string             `bson:"email"`
	Password string             `bson:"password"`
	Role     string             `bson:"role"`
}

// New creates a Store over the given client, database and collection.
func New(client *mongo.Client, dbName, collectionName string) *Store {
	return &Store{
		collection: client.Database(dbName).Collection(collectionName),
	}
}

func (s *Store) Insert(ctx context.Context, user auth.User) (string, error) {
	doc := userDoc{
		Email:    user.Email,
		Password: user.Password,
		Role:     user.Role,
	}
	res, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to insert user: %w", err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id.Hex(), nil
}

func (s *Store) ByEmail(ctx context.Context, email string) (auth.User, error) {
	var doc userDoc
	err := s.collection.FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return doc.toUser(), nil
}

func (s *Store) ByID(ctx context.Context, id string) (auth.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return auth.User{}, auth.ErrUserNotFound
	}
	var doc userDoc
	err = s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return doc.toUser(), nil
}

func (d userDoc) toUser() auth.User {
	return auth.User{
		ID:       d.ID.Hex(),
		Email:    d.Email,
		Password: d.Password,
		Role:     d.Role,
	}
}
