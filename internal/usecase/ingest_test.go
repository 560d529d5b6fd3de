package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportrag/internal/adapter/cache"
	"supportrag/internal/adapter/chunker"
	"supportrag/internal/adapter/embedding"
	"supportrag/internal/adapter/index"
	"supportrag/internal/adapter/store"
	"supportrag/internal/domain"
)

const refundText = "The refund window is 30 days. Shipping takes 5 business days."

type pipeline struct {
	store     *store.BoltStore
	index     *index.Index
	embedder  *embedding.HashEmbedder
	cache     *cache.RetrievalCache
	ingester  *Ingester
	retriever *Retriever
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewBoltStore(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	emb := embedding.NewHashEmbedder(64)

	ix, err := index.Create(filepath.Join(dir, "vectors.db"), emb.Dimension())
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	ch, err := chunker.New(40, 5)
	require.NoError(t, err)

	rc := cache.NewRetrievalCache(10, time.Minute)

	return &pipeline{
		store:     st,
		index:     ix,
		embedder:  emb,
		cache:     rc,
		ingester:  NewIngester(st, ix, ch, emb, rc),
		retriever: NewRetriever(emb, ix, st, rc, 0),
	}
}

func TestIngestText_AndRetrieve(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	n, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := p.index.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := p.retriever.Retrieve(ctx, "How long is the refund window?", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Contains(t, results[0].Chunk.Text, "30 days")
	assert.Equal(t, "refunds.txt", results[0].Source)
	assert.Equal(t, 1, results[0].Rank)
	assert.Greater(t, results[0].Confidence, results[1].Confidence)
	assert.InDelta(t, (results[0].Score+1)/2, results[0].Confidence, 1e-9)
}

func TestIngestText_EmptyContent(t *testing.T) {
	p := newPipeline(t)

	_, err := p.ingester.IngestText(context.Background(), "empty.txt", "   \n\t ")
	require.Error(t, err)

	var ingErr *domain.IngestionError
	assert.ErrorAs(t, err, &ingErr)
	assert.Equal(t, "empty.txt", ingErr.Source)
}

func TestIngestText_ReingestReplaces(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)

	// Shorter replacement content produces a single chunk; nothing of the
	// old chunk set may survive.
	n, err := p.ingester.IngestText(ctx, "refunds.txt", "The refund window is 30 days.")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := p.index.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	doc, found, err := p.store.GetDocBySource("refunds.txt")
	require.NoError(t, err)
	require.True(t, found)

	chunks, err := p.store.GetChunksByDoc(doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestRetrieve_Deterministic(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)

	first, err := p.retriever.Retrieve(ctx, "refund window", 5)
	require.NoError(t, err)
	second, err := p.retriever.Retrieve(ctx, "refund window", 5)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Chunk.ID, second[i].Chunk.ID)
		assert.Equal(t, first[i].Confidence, second[i].Confidence)
	}
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	p := newPipeline(t)

	results, err := p.retriever.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_MinConfidenceFilter(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)

	strict := NewRetriever(p.embedder, p.index, p.store, nil, 0.9)

	// Querying with a chunk's exact text gives it near-perfect similarity;
	// the unrelated chunk falls below the threshold.
	results, err := strict.Retrieve(ctx, "The refund window is 30 days. ", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Chunk.Text, "refund window")
}

func TestIngestDir(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "refunds.txt"), []byte(refundText), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "shipping.md"), []byte("Orders ship within 2 business days."), 0644))

	var calls int
	result, err := p.ingester.IngestDir(ctx, root, []string{"**/*.txt", "**/*.md"}, nil, func(done, total int) {
		calls++
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DocsIngested)
	assert.Equal(t, 0, result.DocsSkipped)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 2, calls)

	stats, err := p.store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocs)
	assert.Equal(t, result.ChunksCreated, stats.TotalChunks)

	// A second pass over unchanged files skips everything.
	result, err = p.ingester.IngestDir(ctx, root, []string{"**/*.txt", "**/*.md"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DocsIngested)
	assert.Equal(t, 2, result.DocsSkipped)

	// Deleting a file removes its document on the next pass.
	require.NoError(t, os.Remove(filepath.Join(root, "shipping.md")))
	result, err = p.ingester.IngestDir(ctx, root, []string{"**/*.txt", "**/*.md"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DocsRemoved)

	stats, err = p.store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDocs)
}

func TestIngestDir_BadFilesDoNotAbortBatch(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "good.txt"), []byte(refundText), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scan.pdf"), []byte("%PDF-1.4"), 0644))

	result, err := p.ingester.IngestDir(ctx, root, []string{"**/*"}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocsIngested)
	assert.Len(t, result.Errors, 2)
}

func TestRemove(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)

	require.NoError(t, p.ingester.Remove("refunds.txt"))

	count, err := p.index.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, found, err := p.store.GetDocBySource("refunds.txt")
	require.NoError(t, err)
	assert.False(t, found)

	err = p.ingester.Remove("refunds.txt")
	assert.Error(t, err, "removing an unknown source must fail")
}

func TestIngest_InvalidatesRetrievalCache(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)

	results, err := p.retriever.Retrieve(ctx, "refund window", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, 1, p.cache.Len())

	// New content must be visible on the next retrieval, not masked by the
	// cached result set.
	_, err = p.ingester.IngestText(ctx, "warranty.txt", "The warranty covers manufacturing defects for one year.")
	require.NoError(t, err)

	fresh, err := p.retriever.Retrieve(ctx, "refund window", 5)
	require.NoError(t, err)
	assert.Greater(t, len(fresh), len(results))
}

func TestIngestText_EmbedderFailurePropagates(t *testing.T) {
	p := newPipeline(t)

	failing := &failingEmbedder{dimension: 64}
	ing := NewIngester(p.store, p.index, mustChunker(t, 40, 5), failing, nil)

	_, err := ing.IngestText(context.Background(), "refunds.txt", refundText)
	require.Error(t, err)
	assert.ErrorContains(t, err, "refunds.txt")

	// Nothing was written.
	count, err := p.index.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	_, found, err := p.store.GetDocBySource("refunds.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIngestText_FailedReingestKeepsExistingDoc(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	n, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Re-ingest the same source with a broken embedding service. The old
	// chunk set must survive untouched.
	failing := NewIngester(p.store, p.index, mustChunker(t, 40, 5), &failingEmbedder{dimension: 64}, p.cache)
	_, err = failing.IngestText(ctx, "refunds.txt", "Updated refund policy text for the new season.")
	require.Error(t, err)

	count, err := p.index.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	doc, found, err := p.store.GetDocBySource("refunds.txt")
	require.NoError(t, err)
	require.True(t, found)

	chunks, err := p.store.GetChunksByDoc(doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	results, err := p.retriever.Retrieve(ctx, "How long is the refund window?", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Chunk.Text, "30 days")
}

func TestIngestDir_SiblingDirectorySharingPrefixSurvives(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	base := t.TempDir()
	root := filepath.Join(base, "docs")
	sibling := filepath.Join(base, "docs-archive")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.MkdirAll(sibling, 0755))

	siblingFile := filepath.Join(sibling, "old-policy.txt")
	_, err := p.ingester.IngestText(ctx, siblingFile, "Archived refund policy.")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "refunds.txt"), []byte(refundText), 0644))

	result, err := p.ingester.IngestDir(ctx, root, []string{"**/*.txt"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DocsRemoved)

	_, found, err := p.store.GetDocBySource(siblingFile)
	require.NoError(t, err)
	assert.True(t, found, "a sibling directory sharing the root as a name prefix must not be cleaned up")
}

func TestRetrieve_MissingChunkIsAnError(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingester.IngestText(ctx, "refunds.txt", refundText)
	require.NoError(t, err)

	doc, found, err := p.store.GetDocBySource("refunds.txt")
	require.NoError(t, err)
	require.True(t, found)

	// Drop the chunk metadata behind the index's back.
	require.NoError(t, p.store.DeleteChunksByDoc(doc.ID))

	fresh := NewRetriever(p.embedder, p.index, p.store, nil, 0)
	_, err = fresh.Retrieve(ctx, "refund window", 5)
	require.Error(t, err, "an indexed chunk missing from the store must surface, not shrink the results")
}

type failingEmbedder struct {
	dimension int
}

func (e *failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

func (e *failingEmbedder) Dimension() int    { return e.dimension }
func (e *failingEmbedder) ModelName() string { return "failing" }

func mustChunker(t *testing.T, size, overlap int) *chunker.TextChunker {
	t.Helper()
	ch, err := chunker.New(size, overlap)
	require.NoError(t, err)
	return ch
}
