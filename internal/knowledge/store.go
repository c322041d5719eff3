package knowledge

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// Embedder turns text into vectors. Implemented by GeminiEmbedder in
// production and by fakes in tests.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// MemoryStore keeps embedded document chunks in memory and answers queries
// by cosine similarity. It is loaded once at startup and read-only after
// that; queries never mutate the store.
type MemoryStore struct {
	embedder Embedder
	logger   *logging.Logger

	mu   sync.RWMutex
	docs []storedChunk
}

type storedChunk struct {
	content   string
	source    string
	embedding []float32
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(embedder Embedder, logger *logging.Logger) *MemoryStore {
	if embedder == nil {
		panic("knowledge: embedder cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryStore{embedder: embedder, logger: logger}
}

var (
	_ Retriever = (*MemoryStore)(nil)
	_ Ingestor  = (*MemoryStore)(nil)
)

// AddDocuments embeds and stores the given chunks under one source label.
func (s *MemoryStore) AddDocuments(ctx context.Context, source string, contents []string) error {
	if len(contents) == 0 {
		return nil
	}
	vectors, err := s.embedder.EmbedTexts(ctx, contents)
	if err != nil {
		return err
	}
	if len(vectors) != len(contents) {
		return errors.New("knowledge: embedding response size mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, content := range contents {
		s.docs = append(s.docs, storedChunk{content: content, source: source, embedding: vectors[i]})
	}
	s.logger.Info("knowledge chunks stored", "source", source, "count", len(contents))
	return nil
}

// Query returns the topK passages most similar to text.
func (s *MemoryStore) Query(ctx context.Context, text string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = 3
	}
	vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVec := vectors[0]

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 {
		return nil, nil
	}

	results := make([]Passage, 0, len(s.docs))
	for _, doc := range s.docs {
		results = append(results, Passage{
			Content: doc.content,
			Source:  doc.source,
			Score:   cosineSimilarity(queryVec, doc.embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len reports how many chunks are loaded.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		// Widen before multiplying so large components cannot overflow float32.
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
