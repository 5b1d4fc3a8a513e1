package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixwise/manualiq/pkg/manuals"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store implements manuals.Store backed by a MongoDB collection.
type Store struct {
	collection *mongo.Collection
}

type manualDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	CompanyName     string             `bson:"company_name"`
	ProductName     string             `bson:"product_name"`
	ProductCode     string             `bson:"product_code,omitempty"`
	Filename        string             `bson:"filename"`
	URI             string             `bson:"uri"`
	StoragePublicID string             `bson:"cloudinary_public_id"`
	QRURI           string             `bson:"qr_uri,omitempty"`
	QRPublicID      string             `bson:"qr_public_id,omitempty"`
	CreatedAt       time.Time          `bson:"created_at"`
}

// New creates a Store over the given client, database and collection.
func New(client *mongo.Client, dbName, collectionName string) *Store {
	return &Store{
		collection: client.Database(dbName).Collection(collectionName),
	}
}

func (s *Store) Insert(ctx context.Context, rec manuals.ManualRecord) (string, error) {
	doc := manualDoc{
		CompanyName:     rec.CompanyName,
		ProductName:     rec.ProductName,
		ProductCode:     rec.ProductCode,
		Filename:        rec.Filename,
		URI:             rec.StorageURI,
		StoragePublicID: rec.StoragePublicID,
		QRURI:           rec.QRURI,
		QRPublicID:      rec.QRPublicID,
		CreatedAt:       time.Now(),
	}

	res, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to insert manual record: %w", err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id.Hex(), nil
}

func (s *Store) Companies(ctx context.Context) ([]string, error) {
	values, err := s.collection.Distinct(ctx, "company_name", bson.M{})
	if err != nil {
		return nil, err
	}
	companies := make([]string, 0, len(values))
	for _, v := range values {
		if name, ok := v.(string); ok {
			companies = append(companies, name)
		}
	}
	return companies, nil
}

func (s *Store) ByCompany(ctx context.Context, company string) ([]manuals.ManualRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"company_name": company})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []manuals.ManualRecord
	for cursor.Next(ctx) {
		var doc manualDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, doc.toRecord())
	}
	return records, cursor.Err()
}

func (s *Store) Latest(ctx context.Context) (*manuals.ManualRecord, error) {
	opts := options.FindOne().SetSort(bson.M{"_id": -1})

	var doc manualDoc
	err := s.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, manuals.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := doc.toRecord()
	return &rec, nil
}

func (s *Store) FindByProduct(ctx context.Context, productName, filename string) (*manuals.ManualRecord, error) {
	var doc manualDoc
	err := s.collection.FindOne(ctx, bson.M{
		"product_name": productName,
		"filename":     filename,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, manuals.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := doc.toRecord()
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, err)
	}
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return manuals.ErrNotFound
	}
	return nil
}

func (s *Store) SetQR(ctx context.Context, id, qrURI, qrPublicID string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, err)
	}
	_, err = s.collection.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"qr_uri": qrURI, "qr_public_id": qrPublicID}},
	)
	return err
}

func (s *Store) WithoutQR(ctx context.Context) ([]manuals.ManualRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"qr_uri": bson.M{"$exists": false}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []manuals.ManualRecord
	for cursor.Next(ctx) {
		var doc manualDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, doc.toRecord())
	}
	return records, cursor.Err()
}

func (d manualDoc) toRecord() manuals.ManualRecord {
	return manuals.ManualRecord{
		ID:              d.ID.Hex(),
		CompanyName:     d.CompanyName,
		ProductName:     d.ProductName,
		ProductCode:     d.ProductCode,
		Filename:        d.Filename,
		StorageURI:      d.URI,
		StoragePublicID: d.StoragePublicID,
		QRURI:           d.QRURI,
		QRPublicID:      d.QRPublicID,
		CreatedAt:       d.CreatedAt,
	}
}
