package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps known words onto fixed axes so cosine ranking is
// deterministic.
type fakeEmbedder struct {
	calls int
	fail  error
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 3)
		for _, word := range []struct {
			token string
			axis  int
		}{
			{"botox", 0}, {"parking", 1}, {"hours", 2},
		} {
			if strings.Contains(text, word.token) {
				vec[word.axis] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

func TestMemoryStoreRanksBySimilarity(t *testing.T) {
	store := NewMemoryStore(&fakeEmbedder{}, nil)
	ctx := context.Background()

	require.NoError(t, store.AddDocuments(ctx, "faq.md", []string{
		"botox aftercare instructions",
		"parking is available behind the clinic",
		"opening hours are 9 to 5",
	}))
	require.Equal(t, 3, store.Len())

	passages, err := store.Query(ctx, "where do I find parking", 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Contains(t, passages[0].Content, "parking")
	assert.Equal(t, "faq.md", passages[0].Source)
	assert.Greater(t, passages[0].Score, 0.9)
}

func TestMemoryStoreTopKBound(t *testing.T) {
	store := NewMemoryStore(&fakeEmbedder{}, nil)
	ctx := context.Background()
	require.NoError(t, store.AddDocuments(ctx, "a", []string{"botox", "botox again", "botox thrice"}))

	passages, err := store.Query(ctx, "botox", 2)
	require.NoError(t, err)
	assert.Len(t, passages, 2)

	passages, err = store.Query(ctx, "botox", 0)
	require.NoError(t, err)
	assert.Len(t, passages, 3, "topK defaults when non-positive")
}

func TestMemoryStoreEmptyStore(t *testing.T) {
	store := NewMemoryStore(&fakeEmbedder{}, nil)
	passages, err := store.Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestMemoryStoreEmbedFailurePropagates(t *testing.T) {
	emb := &fakeEmbedder{fail: assert.AnError}
	store := NewMemoryStore(emb, nil)
	_, err := store.Query(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCosineSimilarityLargeComponents(t *testing.T) {
	// Products of components this size overflow float32; the accumulation
	// must happen in float64.
	v := []float32{1e20, 2e20, 3e20}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)

	w := []float32{-1e20, -2e20, -3e20}
	assert.InDelta(t, -1.0, cosineSimilarity(v, w), 1e-9)
}

func TestNewMemoryStorePanicsOnNilEmbedder(t *testing.T) {
	assert.Panics(t, func() { NewMemoryStore(nil, nil) })
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faq.md"), []byte("botox aftercare"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hours.txt"), []byte("opening hours"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.pdf"), []byte("binary"), 0o644))

	store := NewMemoryStore(&fakeEmbedder{}, nil)
	err := LoadDirectory(context.Background(), LoaderConfig{Dir: dir}, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestLoadDirectoryMissingDirIsNotFatal(t *testing.T) {
	store := NewMemoryStore(&fakeEmbedder{}, nil)
	err := LoadDirectory(context.Background(), LoaderConfig{Dir: "/nonexistent/knowledge"}, store, nil)
	assert.NoError(t, err)
	assert.Zero(t, store.Len())
}
