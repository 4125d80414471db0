package services

import "context"

// EmbeddingProvider converts text into a vector embedding. Embeddings are
// deterministic for a given model version; callers must not assume equality
// across model versions.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatModel generates text from a prompt
type ChatModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChunkMetadata is the metadata stored alongside each indexed chunk
type ChunkMetadata struct {
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// Vector is one embedding plus its identity and metadata
type Vector struct {
	ID       string
	Values   []float32
	Metadata ChunkMetadata
}

// VectorMatch is one retrieval result
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata ChunkMetadata
}

// VectorIndex stores and retrieves embeddings. Upserting a vector with an
// existing ID replaces it; queries are filtered to a single namespace so
// context never leaks across repositories.
type VectorIndex interface {
	Upsert(ctx context.Context, vectors []Vector) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]VectorMatch, error)
}
