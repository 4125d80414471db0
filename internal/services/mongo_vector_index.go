package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoVectorIndex implements VectorIndex on a MongoDB Atlas collection with
// a vector search index over the embedding field
type MongoVectorIndex struct {
	coll      *mongo.Collection
	indexName string
}

// NewMongoVectorIndex creates a vector index over the given collection
func NewMongoVectorIndex(coll *mongo.Collection, indexName string) *MongoVectorIndex {
	return &MongoVectorIndex{
		coll:      coll,
		indexName: indexName,
	}
}

type chunkDocument struct {
	ID        string    `bson:"_id"`
	Namespace string    `bson:"namespace"`
	Path      string    `bson:"path"`
	Content   string    `bson:"content"`
	Embedding []float32 `bson:"embedding"`
}

// Upsert replaces or inserts each vector by its deterministic ID, so
// re-indexing a file overwrites the previous chunk instead of duplicating it
func (m *MongoVectorIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(vectors))
	for _, v := range vectors {
		doc := chunkDocument{
			ID:        v.ID,
			Namespace: v.Metadata.Namespace,
			Path:      v.Metadata.Path,
			Content:   v.Metadata.Content,
			Embedding: v.Values,
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": v.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := m.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

// Query runs a vector search filtered to the namespace
func (m *MongoVectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]VectorMatch, error) {
	pipeline := mongo.Pipeline{
		{
			{Key: "$vectorSearch", Value: bson.M{
				"index":         m.indexName,
				"path":          "embedding",
				"queryVector":   vector,
				"numCandidates": topK * 20,
				"limit":         topK,
				"filter":        bson.M{"namespace": namespace},
			}},
		},
		{
			{Key: "$project", Value: bson.M{
				"_id":       1,
				"namespace": 1,
				"path":      1,
				"content":   1,
				"score":     bson.M{"$meta": "vectorSearchScore"},
			}},
		},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		ID        string  `bson:"_id"`
		Namespace string  `bson:"namespace"`
		Path      string  `bson:"path"`
		Content   string  `bson:"content"`
		Score     float64 `bson:"score"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	matches := make([]VectorMatch, 0, len(results))
	for _, result := range results {
		matches = append(matches, VectorMatch{
			ID:    result.ID,
			Score: result.Score,
			Metadata: ChunkMetadata{
				Namespace: result.Namespace,
				Path:      result.Path,
				Content:   result.Content,
			},
		})
	}

	return matches, nil
}
