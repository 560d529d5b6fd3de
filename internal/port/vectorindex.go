package port

// VectorItem is a vector to be stored, keyed by chunk ID.
type VectorItem struct {
	ID     string
	DocID  string
	Vector []float32
}

// VectorResult is one nearest-neighbor hit. Score is cosine similarity.
type VectorResult struct {
	ID    string
	DocID string
	Score float64
}

// VectorIndex stores chunk vectors and supports exact nearest-neighbor
// search. Implementations must keep Search usable concurrently with other
// Search calls while Add/RemoveDocument/Snapshot are mutually exclusive.
type VectorIndex interface {
	// Add ingests vectors. Every vector must match the index dimension;
	// on mismatch nothing is written.
	Add(items []VectorItem) error

	// Search returns the k nearest vectors ranked by decreasing
	// similarity, ties broken by insertion order. An empty index yields
	// an empty result, not an error.
	Search(query []float32, k int) ([]VectorResult, error)

	// RemoveDocument deletes all vectors belonging to a document.
	RemoveDocument(docID string) error

	// Snapshot writes a self-contained copy of the index to dst.
	Snapshot(dst string) error

	// Count returns the number of stored vectors.
	Count() (int, error)

	Close() error
}
