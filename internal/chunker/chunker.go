// Package chunker splits extracted document text into overlapping
// fixed-size spans suitable for embedding.
package chunker

import (
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/docqa/models"
)

// ErrConfiguration marks invalid chunking parameters. Callers branch
// on it with errors.Is.
var ErrConfiguration = errors.New("chunker: invalid configuration")

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of characters shared with the
// previous chunk.
const DefaultOverlap = 200

// Chunker produces fixed-size character chunks with overlap. Splitting
// is deterministic: the same input and parameters always yield the same
// chunk sequence.
type Chunker struct {
	size    int
	overlap int
}

// New validates the parameters and returns a chunker. The overlap must
// be strictly smaller than the chunk size, otherwise splitting cannot
// make progress.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be > 0, got %d", ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrConfiguration, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split chunks every block of the document in order. No text is
// dropped: concatenating the chunks of a block, minus overlaps,
// reproduces the block exactly. Empty blocks yield no chunks.
func (c *Chunker) Split(doc models.Document) []models.Chunk {
	var chunks []models.Chunk
	ordinal := 0
	step := c.size - c.overlap
	for _, block := range doc.Blocks {
		runes := []rune(block)
		if len(runes) == 0 {
			continue
		}
		for start := 0; start < len(runes); start += step {
			end := start + c.size
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, models.Chunk{
				FileID:  doc.FileID,
				Text:    string(runes[start:end]),
				Ordinal: ordinal,
			})
			ordinal++
			if end == len(runes) {
				break
			}
		}
	}
	return chunks
}
