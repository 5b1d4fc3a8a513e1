package qdrant

import (
	"context"
	"fmt"

	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Store implements knowledge.VectorStore using Qdrant.
type Store struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
}

// Config holds the Qdrant connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
}

// New creates a Store and ensures the target collection exists.
func New(cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &Store{
		client:         client,
		collectionName: cfg.Collection,
		vectorSize:     cfg.VectorSize,
	}

	if err := store.initCollection(context.Background()); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) initCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	return nil
}

// Upsert writes chunks and their vectors as points. Point ids are fresh
// UUIDs unless the chunk already carries one.
func (s *Store) Upsert(ctx context.Context, embeddings []knowledge.Embedding, chunks []knowledge.Chunk) error {
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("number of embeddings and chunks must match")
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(embeddings[i].Vector...),
			Payload: buildPayload(chunk, embeddings[i].Degraded),
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
		Wait:           &wait,
	})
	return err
}

// Search performs a filtered similarity search. Degraded points are
// excluded until they are successfully re-embedded.
func (s *Store) Search(ctx context.Context, query []float32, filter knowledge.Filter, limit int) ([]knowledge.Chunk, error) {
	limit64 := uint64(limit)
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(query...),
		Filter:         buildFilter(filter),
		Limit:          &limit64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]knowledge.Chunk, len(res))
	for i, hit := range res {
		chunks[i] = fromPayload(hit.Id.GetUuid(), hit.Score, hit.Payload)
	}
	return chunks, nil
}

// DeleteByManual removes every point whose db_id references the manual.
func (s *Store) DeleteByManual(ctx context.Context, manualID string) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("db_id", manualID)},
	}
	return s.deleteByFilter(ctx, filter)
}

// DeleteByProduct removes every point matching the product name and
// filename pair.
func (s *Store) DeleteByProduct(ctx context.Context, productName, filename string) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("product_name", productName),
			qdrant.NewMatch("filename", filename),
		},
	}
	return s.deleteByFilter(ctx, filter)
}

func (s *Store) deleteByFilter(ctx context.Context, filter *qdrant.Filter) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	wait := true
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           &wait,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}
	return int(count), nil
}

// Healthy verifies the Qdrant instance responds.
func (s *Store) Healthy(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

func buildFilter(f knowledge.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.CompanyName != "" {
		must = append(must, qdrant.NewMatch("company_name", f.CompanyName))
	}
	if f.ProductName != "" {
		must = append(must, qdrant.NewMatch("product_name", f.ProductName))
	}
	return &qdrant.Filter{
		Must:    must,
		MustNot: []*qdrant.Condition{qdrant.NewMatchBool("degraded", true)},
	}
}

func buildPayload(chunk knowledge.Chunk, degraded bool) map[string]*qdrant.Value {
	m := chunk.Metadata
	payload := map[string]*qdrant.Value{
		"content":      qdrant.NewValueString(chunk.Text),
		"company_name": qdrant.NewValueString(m.CompanyName),
		"product_name": qdrant.NewValueString(m.ProductName),
		"filename":     qdrant.NewValueString(m.Filename),
		"db_id":        qdrant.NewValueString(m.DBID),
		"source":       qdrant.NewValueString(m.Source),
		"page":         qdrant.NewValueInt(int64(m.Page)),
		"total_pages":  qdrant.NewValueInt(int64(m.TotalPages)),
		"degraded":     qdrant.NewValueBool(degraded || m.Degraded),
	}
	if m.ProductCode != "" {
		payload["product_code"] = qdrant.NewValueString(m.ProductCode)
	}
	if m.PageLabel != "" {
		payload["page_label"] = qdrant.NewValueString(m.PageLabel)
	}
	if m.Producer != "" {
		payload["producer"] = qdrant.NewValueString(m.Producer)
	}
	if m.Creator != "" {
		payload["creator"] = qdrant.NewValueString(m.Creator)
	}
	if m.CreationDate != "" {
		payload["creationdate"] = qdrant.NewValueString(m.CreationDate)
	}
	if m.ModDate != "" {
		payload["moddate"] = qdrant.NewValueString(m.ModDate)
	}
	return payload
}

func fromPayload(id string, score float32, payload map[string]*qdrant.Value) knowledge.Chunk {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(key string) int {
		if v, ok := payload[key]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}

	degraded := false
	if v, ok := payload["degraded"]; ok {
		degraded = v.GetBoolValue()
	}

	return knowledge.Chunk{
		ID:    id,
		Text:  get("content"),
		Score: score,
		Metadata: knowledge.ChunkMetadata{
			CompanyName:  get("company_name"),
			ProductName:  get("product_name"),
			ProductCode:  get("product_code"),
			Filename:     get("filename"),
			DBID:         get("db_id"),
			Source:       get("source"),
			Page:         getInt("page"),
			PageLabel:    get("page_label"),
			TotalPages:   getInt("total_pages"),
			Producer:     get("producer"),
			Creator:      get("creator"),
			CreationDate: get("creationdate"),
			ModDate:      get("moddate"),
			Degraded:     degraded,
		},
	}
}
