// Package index provides the persistent vector index: an append-only
// store of (embedding, chunk text, metadata) triples with brute-force
// cosine nearest-neighbor search.
//
// The index lives in a single SQLite file (modernc.org/sqlite, pure Go)
// at a caller-supplied path. Writes go through transactions, so a crash
// mid-add leaves previously committed entries intact. Concurrent reads
// are safe; writes are serialized by an in-process mutex. Concurrent
// writers from multiple processes are not supported.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/mohammad-safakhou/docqa/models"
)

// ErrModelMismatch is returned when the index was built with a
// different embedding model than the one now configured. Similarity
// between vectors from different models is meaningless, so the index
// fails fast instead of returning garbage scores.
var ErrModelMismatch = errors.New("index: embedding model mismatch")

// ErrDimensionMismatch is returned when a vector's length differs from
// the dimension the index was created with.
var ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

const schema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	text    TEXT NOT NULL,
	vector  BLOB NOT NULL
);
`

// Entry is one persisted (embedding, chunk) pair.
type Entry struct {
	Vector []float32
	Chunk  models.Chunk
}

// Index is a handle on one on-disk vector index.
type Index struct {
	db      *sql.DB
	writeMu sync.Mutex

	model string
	// 0 until the first add; atomic because Query reads it while Add
	// runs under writeMu.
	dimension atomic.Int64
}

// Open opens the index at path, creating an empty one if none exists.
// Idempotent: opening an existing index loads it. modelID names the
// embedding model the caller will use; if the stored model differs,
// Open fails with ErrModelMismatch.
func Open(path, modelID string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("index: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: init schema: %w", err)
	}

	ix := &Index{db: db, model: modelID}

	var stored string
	err = db.QueryRow(`SELECT value FROM index_meta WHERE key = 'embedding_model'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO index_meta (key, value) VALUES ('embedding_model', ?)`, modelID); err != nil {
			db.Close()
			return nil, fmt.Errorf("index: record model: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("index: read meta: %w", err)
	case stored != modelID:
		db.Close()
		return nil, fmt.Errorf("%w: index built with %q, configured %q", ErrModelMismatch, stored, modelID)
	}

	var dim string
	if err := db.QueryRow(`SELECT value FROM index_meta WHERE key = 'dimension'`).Scan(&dim); err == nil {
		var d int
		fmt.Sscanf(dim, "%d", &d)
		ix.dimension.Store(int64(d))
	} else if !errors.Is(err, sql.ErrNoRows) {
		db.Close()
		return nil, fmt.Errorf("index: read meta: %w", err)
	}
	return ix, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// ModelID reports the embedding model the index was built with.
func (ix *Index) ModelID() string { return ix.model }

// Add appends entries in one transaction: either all of them commit or
// none do. Re-adding identical entries stores duplicates; the index
// never deduplicates (documented behaviour, callers own re-upload
// semantics).
func (ix *Index) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	dim := int(ix.dimension.Load())
	firstAdd := dim == 0
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("index: entry %d has empty vector", e.Chunk.Ordinal)
		}
		if dim == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(e.Vector), dim)
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin: %w", err)
	}
	defer tx.Rollback()

	if firstAdd {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO index_meta (key, value) VALUES ('dimension', ?)`, fmt.Sprint(dim)); err != nil {
			return fmt.Errorf("index: record dimension: %w", err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (file_id, ordinal, text, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Chunk.FileID, e.Chunk.Ordinal, e.Chunk.Text, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("index: insert entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	ix.dimension.Store(int64(dim))
	return nil
}

// Query returns the k entries most similar to vector by cosine
// similarity, ordered descending by score with ties broken by
// insertion order (earlier wins). k=0 or an empty index yields an
// empty result, not an error.
func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	if dim := int(ix.dimension.Load()); dim != 0 && len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), dim)
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT file_id, ordinal, text, vector FROM entries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			chunk models.Chunk
			blob  []byte
		)
		if err := rows.Scan(&chunk.FileID, &chunk.Ordinal, &chunk.Text, &blob); err != nil {
			return nil, fmt.Errorf("index: scan: %w", err)
		}
		results = append(results, models.SearchResult{
			Chunk: chunk,
			Score: cosine(vector, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: rows: %w", err)
	}

	// Stable sort preserves insertion order among equal scores.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count reports the number of committed entries.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
