package rag

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/docqa/internal/index"
	"github.com/mohammad-safakhou/docqa/models"
	"github.com/mohammad-safakhou/docqa/provider"
)

// DefaultTopK is the number of context spans retrieved per query when
// the caller does not override it.
const DefaultTopK = 4

// Retriever embeds a query with the same embedder used at index time
// and asks the vector index for the most similar spans.
type Retriever struct {
	embedder provider.Embedder
	index    *index.Index
}

func NewRetriever(e provider.Embedder, ix *index.Index) *Retriever {
	return &Retriever{embedder: e, index: ix}
}

// Retrieve returns the top-k most similar chunks for the query text,
// best first. Embedding failures are reported as embedding errors;
// index failures propagate as retrieval errors.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	vecs, err := r.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, E(KindEmbedding, fmt.Errorf("embed query: %w", err))
	}
	if len(vecs) != 1 {
		return nil, Errorf(KindEmbedding, "embed query: got %d vectors", len(vecs))
	}
	results, err := r.index.Query(ctx, vecs[0], k)
	if err != nil {
		return nil, E(KindRetrieval, err)
	}
	return results, nil
}
