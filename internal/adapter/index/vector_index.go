package index

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"supportrag/internal/domain"
	"supportrag/internal/port"
)

var (
	bucketVectors = []byte("vectors")
	bucketMeta    = []byte("meta")
	keyDimension  = []byte("dimension")
)

// Index is a bbolt-backed vector index with exact brute-force cosine
// search over an in-memory copy of the vectors. Vectors are L2-normalized
// on insertion and queries are normalized on search, so similarity is the
// dot product of unit vectors.
//
// Search may run concurrently with other Search calls; Add, RemoveDocument
// and Snapshot take the writer lock.
type Index struct {
	db        *bbolt.DB
	mu        sync.RWMutex
	dimension int
	entries   []entry
	byID      map[string]int
}

// seq is the insertion sequence; ties in similarity are broken by it
// (earliest-added ranks higher) and it survives reload.
type entry struct {
	id     string
	docID  string
	seq    uint64
	vector []float32
}

type storedVector struct {
	DocID  string    `json:"d"`
	Seq    uint64    `json:"s"`
	Vector []float32 `json:"v"`
}

// Create opens a new (or existing) index file, establishing the dimension.
// dimension 0 leaves it unset until the first Add.
func Create(path string, dimension int) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector db: %w", err)
	}

	ix := &Index{db: db, dimension: dimension, byID: make(map[string]int)}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketVectors); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if dimension > 0 {
			return meta.Put(keyDimension, encodeDimension(dimension))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := ix.loadVectors(); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

// Open loads a persisted index. A missing or corrupt file fails with
// domain.ErrIndexLoad; the caller decides whether starting empty instead
// is acceptable.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexLoad, path, err)
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexLoad, path, err)
	}

	ix := &Index{db: db, byID: make(map[string]int)}

	err = db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketVectors) == nil || tx.Bucket(bucketMeta) == nil {
			return fmt.Errorf("%w: %s: missing index buckets", domain.ErrIndexLoad, path)
		}
		if data := tx.Bucket(bucketMeta).Get(keyDimension); data != nil {
			dim, err := decodeDimension(data)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", domain.ErrIndexLoad, path, err)
			}
			ix.dimension = dim
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := ix.loadVectors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexLoad, path, err)
	}
	return ix, nil
}

func (ix *Index) loadVectors() error {
	err := ix.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("corrupt vector entry %q: %w", k, err)
			}
			if ix.dimension > 0 && len(stored.Vector) != ix.dimension {
				return fmt.Errorf("corrupt vector entry %q: dimension %d, expected %d", k, len(stored.Vector), ix.dimension)
			}
			ix.entries = append(ix.entries, entry{
				id:     string(k),
				docID:  stored.DocID,
				seq:    stored.Seq,
				vector: stored.Vector,
			})
			return nil
		})
	})
	if err != nil {
		return err
	}

	sort.Slice(ix.entries, func(i, j int) bool {
		return ix.entries[i].seq < ix.entries[j].seq
	})
	for i, e := range ix.entries {
		ix.byID[e.id] = i
	}
	return nil
}

// Add ingests vectors. Every vector is dimension-checked before anything is
// written; on mismatch the index is left unchanged. The first Add on a
// dimensionless index fixes the dimension.
func (ix *Index) Add(items []port.VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dimension
	if dim == 0 {
		dim = len(items[0].Vector)
		if dim == 0 {
			return fmt.Errorf("%w: empty vector for %s", domain.ErrDimensionMismatch, items[0].ID)
		}
	}
	for _, item := range items {
		if len(item.Vector) != dim {
			return fmt.Errorf("%w: vector %s has dimension %d, expected %d",
				domain.ErrDimensionMismatch, item.ID, len(item.Vector), dim)
		}
	}

	added := make([]entry, 0, len(items))
	err := ix.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if ix.dimension == 0 {
			if err := tx.Bucket(bucketMeta).Put(keyDimension, encodeDimension(dim)); err != nil {
				return err
			}
		}

		for _, item := range items {
			vec := normalize(item.Vector)

			var seq uint64
			if i, ok := ix.byID[item.ID]; ok {
				// Upsert keeps the original insertion sequence.
				seq = ix.entries[i].seq
			} else {
				var err error
				seq, err = b.NextSequence()
				if err != nil {
					return err
				}
			}

			data, err := json.Marshal(storedVector{DocID: item.DocID, Seq: seq, Vector: vec})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}
			added = append(added, entry{id: item.ID, docID: item.DocID, seq: seq, vector: vec})
		}
		return nil
	})
	if err != nil {
		return err
	}

	ix.dimension = dim
	for _, e := range added {
		if i, ok := ix.byID[e.id]; ok {
			ix.entries[i] = e
		} else {
			ix.byID[e.id] = len(ix.entries)
			ix.entries = append(ix.entries, e)
		}
	}
	return nil
}

// Search returns the k nearest vectors by cosine similarity, ranked by
// decreasing score with ties broken by insertion order. An empty index
// yields an empty result; k larger than the index returns everything.
func (ix *Index) Search(query []float32, k int) ([]port.VectorResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be > 0 (got %d)", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 {
		return nil, nil
	}
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, expected %d",
			domain.ErrDimensionMismatch, len(query), ix.dimension)
	}

	q := normalize(query)

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(ix.entries))
	for i, e := range ix.entries {
		scores[i] = scored{idx: i, score: dot(q, e.vector)}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return ix.entries[scores[i].idx].seq < ix.entries[scores[j].idx].seq
	})

	if k > len(scores) {
		k = len(scores)
	}
	results := make([]port.VectorResult, k)
	for i := 0; i < k; i++ {
		e := ix.entries[scores[i].idx]
		results[i] = port.VectorResult{ID: e.id, DocID: e.docID, Score: scores[i].score}
	}
	return results, nil
}

// RemoveDocument deletes all vectors belonging to a document.
func (ix *Index) RemoveDocument(docID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var removeIDs []string
	for _, e := range ix.entries {
		if e.docID == docID {
			removeIDs = append(removeIDs, e.id)
		}
	}
	if len(removeIDs) == 0 {
		return nil
	}

	err := ix.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for _, id := range removeIDs {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	kept := ix.entries[:0]
	for _, e := range ix.entries {
		if e.docID != docID {
			kept = append(kept, e)
		}
	}
	ix.entries = kept
	ix.byID = make(map[string]int, len(ix.entries))
	for i, e := range ix.entries {
		ix.byID[e.id] = i
	}
	return nil
}

// Snapshot writes a consistent copy of the index to dst via a temp file
// and an atomic rename, so a failed persist never leaves a partial
// artifact behind.
func (ix *Index) Snapshot(dst string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".snapshot-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	err = ix.db.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(tmp)
		return err
	})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to snapshot index: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Count returns the number of stored vectors.
func (ix *Index) Count() (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries), nil
}

// Dimension returns the established vector dimension (0 if unset).
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimension
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// normalize returns a unit-length copy of v. Zero vectors stay zero.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func encodeDimension(dim int) []byte {
	return []byte(fmt.Sprintf("%d", dim))
}

func decodeDimension(data []byte) (int, error) {
	var dim int
	if _, err := fmt.Sscanf(string(data), "%d", &dim); err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid dimension metadata %q", data)
	}
	return dim, nil
}
