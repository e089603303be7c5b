package rag

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/docqa/internal/chunker"
	"github.com/mohammad-safakhou/docqa/internal/index"
	"github.com/mohammad-safakhou/docqa/models"
	"github.com/mohammad-safakhou/docqa/provider"
)

// embedBatchSize bounds how many chunk texts go to the embedder in one
// call; each embedded batch is committed to the index before the next
// one is requested.
const embedBatchSize = 64

// Indexer drives the write path: chunk a document, embed the chunks and
// append them to the vector index.
type Indexer struct {
	chunker  *chunker.Chunker
	embedder provider.Embedder
	index    *index.Index
	logger   *log.Logger
}

// NewIndexer wires the write path. The embedder must be the one the
// index was opened with; Open enforces the model id.
func NewIndexer(c *chunker.Chunker, e provider.Embedder, ix *index.Index, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEXER] ", log.LstdFlags)
	}
	return &Indexer{chunker: c, embedder: e, index: ix, logger: logger}
}

// IndexDocument chunks, embeds and stores one document. Batches are
// committed incrementally; on failure the returned IndexingError
// carries how many chunks were already durably committed. Re-indexing
// the same file id appends new entries without removing old ones.
func (in *Indexer) IndexDocument(ctx context.Context, doc models.Document) (models.IndexStats, error) {
	chunks := in.chunker.Split(doc)
	if len(chunks) == 0 {
		return models.IndexStats{}, nil
	}

	committed := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		vecs, err := in.embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return models.IndexStats{ChunksAdded: committed},
				E(KindEmbedding, &IndexingError{Committed: committed, Err: err})
		}
		if len(vecs) != len(batch) {
			return models.IndexStats{ChunksAdded: committed},
				E(KindEmbedding, &IndexingError{Committed: committed, Err: errVectorCount(len(vecs), len(batch))})
		}

		entries := make([]index.Entry, len(batch))
		for i, ch := range batch {
			entries[i] = index.Entry{Vector: vecs[i], Chunk: ch}
		}
		if err := in.index.Add(ctx, entries); err != nil {
			return models.IndexStats{ChunksAdded: committed},
				E(KindIndexing, &IndexingError{Committed: committed, Err: err})
		}
		committed += len(batch)
	}

	in.logger.Printf("indexed file=%s chunks=%d model=%s", doc.FileID, committed, in.embedder.ModelID())
	return models.IndexStats{ChunksAdded: committed}, nil
}

func errVectorCount(got, want int) error {
	return fmt.Errorf("embedder returned %d vectors for %d chunks", got, want)
}
