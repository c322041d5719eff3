package knowledge

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"

	"github.com/clinicflow/appointment-engine/internal/apperr"
)

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = "text-embedding-004"

// GeminiEmbedder embeds text through the Gemini embedding API.
type GeminiEmbedder struct {
	model *genai.EmbeddingModel
}

// NewGeminiEmbedder wraps a genai client. model falls back to
// DefaultEmbeddingModel when empty.
func NewGeminiEmbedder(client *genai.Client, model string) (*GeminiEmbedder, error) {
	if client == nil {
		return nil, errors.New("knowledge: genai client is required")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &GeminiEmbedder{model: client.EmbeddingModel(model)}, nil
}

var _ Embedder = (*GeminiEmbedder)(nil)

// EmbedTexts embeds the texts in one batch call. API failures are treated
// as transient; the conversational layer degrades to a generic reply.
func (e *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batch := e.model.NewBatch()
	for _, text := range texts {
		batch = batch.AddContent(genai.Text(text))
	}
	resp, err := e.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, apperr.Transientf("knowledge: embed: %w", err)
	}
	if resp == nil {
		return nil, apperr.Transientf("knowledge: embed: empty response")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.Transientf("knowledge: embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, apperr.Transientf("knowledge: embed: empty embedding at index %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
