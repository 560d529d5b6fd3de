package usecase

import (
	"context"
	"fmt"

	"supportrag/internal/adapter/cache"
	"supportrag/internal/domain"
	"supportrag/internal/port"
)

// Retriever answers "which chunks are relevant to this question" by
// embedding the question and running exact nearest-neighbor search over
// the vector index.
//
// Confidence is the cosine similarity s mapped from [-1,1] into [0,1] by
// (s+1)/2. The mapping is monotonic and fixed: the same question against
// an unchanged index always yields the same ranks and confidences.
type Retriever struct {
	embedder      port.Embedder
	index         port.VectorIndex
	store         port.DocStore
	cache         *cache.RetrievalCache
	minConfidence float64
}

func NewRetriever(
	embedder port.Embedder,
	index port.VectorIndex,
	store port.DocStore,
	retrievalCache *cache.RetrievalCache,
	minConfidence float64,
) *Retriever {
	return &Retriever{
		embedder:      embedder,
		index:         index,
		store:         store,
		cache:         retrievalCache,
		minConfidence: minConfidence,
	}
}

// Retrieve returns the topK most relevant chunks, ranked by decreasing
// confidence. An empty index yields an empty result, not an error; topK
// beyond the available chunks returns everything ranked.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be > 0 (got %d)", topK)
	}

	if r.cache != nil {
		if results, ok := r.cache.Get(question, topK); ok {
			return results, nil
		}
	}

	if count, err := r.index.Count(); err != nil {
		return nil, err
	} else if count == 0 {
		return nil, nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for question")
	}

	hits, err := r.index.Search(embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]domain.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		confidence := scoreToConfidence(hit.Score)
		if r.minConfidence > 0 && confidence < r.minConfidence {
			continue
		}

		chunk, err := r.store.GetChunk(hit.ID)
		if err != nil {
			// The index and store disagree; hiding that would quietly
			// shrink the result set.
			return nil, fmt.Errorf("chunk %s is indexed but missing from the store: %w", hit.ID, err)
		}
		source := ""
		if doc, err := r.store.GetDoc(hit.DocID); err == nil {
			source = doc.Source
		}

		results = append(results, domain.RetrievalResult{
			Chunk:      chunk,
			Source:     source,
			Score:      hit.Score,
			Confidence: confidence,
			Rank:       len(results) + 1,
		})
	}

	if r.cache != nil {
		r.cache.Put(question, topK, results)
	}
	return results, nil
}

// scoreToConfidence maps cosine similarity from [-1,1] to [0,1], clamped.
func scoreToConfidence(score float64) float64 {
	c := (score + 1) / 2
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
