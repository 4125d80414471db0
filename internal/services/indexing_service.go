package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/sirupsen/logrus"
)

const (
	// maxChunkChars bounds the cost and latency of embedding large files
	maxChunkChars = 8000
	// upsertBatchSize is the number of vectors sent per upsert call
	upsertBatchSize = 100
	// DefaultTopK is the number of context chunks retrieved per query
	DefaultTopK = 5
)

// IndexingService turns repository files into embeddings in the vector index
// and retrieves the most relevant chunks for a query
type IndexingService struct {
	embedder EmbeddingProvider
	index    VectorIndex
}

// NewIndexingService creates a new IndexingService
func NewIndexingService(embedder EmbeddingProvider, index VectorIndex) *IndexingService {
	return &IndexingService{
		embedder: embedder,
		index:    index,
	}
}

// ChunkID returns the deterministic vector identity for a file path within a
// namespace. Re-indexing the same path overwrites the prior chunk.
func ChunkID(namespace, path string) string {
	return fmt.Sprintf("%s-%s", namespace, strings.ReplaceAll(path, "/", "_"))
}

// IndexRepository embeds every file and upserts the chunks in batches.
// Indexing is best-effort at file granularity: a file whose embedding fails
// is logged and skipped, it never aborts the run. Returns the number of
// files indexed.
func (s *IndexingService) IndexRepository(ctx context.Context, namespace string, files []RepoFile) (int, error) {
	var vectors []Vector

	for _, file := range files {
		content := fmt.Sprintf("File: %s\n\n%s", file.Path, file.Content)
		if len(content) > maxChunkChars {
			content = content[:maxChunkChars]
		}

		embedding, err := s.embedder.Embed(ctx, content)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"namespace": namespace,
				"path":      file.Path,
			}).WithError(err).Error("Failed to generate embedding, skipping file")
			continue
		}

		vectors = append(vectors, Vector{
			ID:     ChunkID(namespace, file.Path),
			Values: embedding,
			Metadata: ChunkMetadata{
				Namespace: namespace,
				Path:      file.Path,
				Content:   content,
			},
		})
	}

	for start := 0; start < len(vectors); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := s.index.Upsert(ctx, vectors[start:end]); err != nil {
			return 0, fmt.Errorf("failed to upsert batch: %w", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"namespace": namespace,
		"indexed":   len(vectors),
		"skipped":   len(files) - len(vectors),
	}).Infof("Indexing complete")

	return len(vectors), nil
}

// RetrieveContext returns the stored content of the topK chunks most relevant
// to the query within the namespace. Matches without content are dropped.
func (s *IndexingService) RetrieveContext(ctx context.Context, query, namespace string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := s.index.Query(ctx, namespace, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector index: %w", err)
	}

	var contents []string
	for _, match := range matches {
		if match.Metadata.Content != "" {
			contents = append(contents, match.Metadata.Content)
		}
	}

	return contents, nil
}
