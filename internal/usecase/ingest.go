package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"supportrag/internal/adapter/cache"
	"supportrag/internal/adapter/fs"
	"supportrag/internal/domain"
	"supportrag/internal/port"
)

// supportedExtensions lists document formats whose text can be read
// directly. PDF extraction happens upstream; by the time text reaches the
// ingester it is plain text.
var supportedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// Ingester turns documents into indexed, searchable chunks:
// chunk -> embed -> add to the vector index, with metadata in the store.
// Re-ingesting a source replaces its prior chunk set, never merges.
type Ingester struct {
	store    port.DocStore
	index    port.VectorIndex
	chunker  port.Chunker
	embedder port.Embedder
	cache    *cache.RetrievalCache
}

func NewIngester(
	store port.DocStore,
	index port.VectorIndex,
	chunker port.Chunker,
	embedder port.Embedder,
	retrievalCache *cache.RetrievalCache,
) *Ingester {
	return &Ingester{
		store:    store,
		index:    index,
		chunker:  chunker,
		embedder: embedder,
		cache:    retrievalCache,
	}
}

// IngestResult summarizes a batch ingestion. Per-document failures are
// collected in Errors; they never abort the rest of the batch.
type IngestResult struct {
	DocsIngested  int
	DocsSkipped   int
	DocsRemoved   int
	ChunksCreated int
	Errors        []string
}

// IngestText ingests raw text under a source identifier. Empty or
// whitespace-only content is an IngestionError. Any prior chunk set for
// the same source is replaced, but only once the new chunks have embedded
// successfully: a failed re-ingest leaves the old set fully intact.
func (u *Ingester) IngestText(ctx context.Context, source, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, &domain.IngestionError{Source: source, Reason: "empty content"}
	}

	doc := domain.Document{
		ID:         generateDocID(source),
		Source:     source,
		UploadedAt: time.Now(),
	}

	chunks, err := u.chunker.Chunk(doc, text)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, &domain.IngestionError{Source: source, Reason: "no chunks produced"}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", source, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	items := make([]port.VectorItem, len(chunks))
	for i, c := range chunks {
		items[i] = port.VectorItem{ID: c.ID, DocID: c.DocID, Vector: vectors[i]}
	}

	// The new vectors are in hand; now the prior set can go.
	if existing, found, err := u.store.GetDocBySource(source); err != nil {
		return 0, err
	} else if found {
		if err := u.removeDocument(existing.ID); err != nil {
			return 0, fmt.Errorf("failed to replace %s: %w", source, err)
		}
	}

	if err := u.store.PutDoc(doc); err != nil {
		return 0, err
	}
	if err := u.store.PutChunks(chunks); err != nil {
		return 0, err
	}
	if err := u.index.Add(items); err != nil {
		return 0, err
	}

	u.invalidate()
	return len(chunks), nil
}

// IngestDir ingests every matching file under root. Unchanged files
// (by modification time) are skipped; files deleted from disk are removed
// from the index. The optional progress callback receives (done, total).
func (u *Ingester) IngestDir(ctx context.Context, root string, includes, excludes []string, progress func(done, total int)) (*IngestResult, error) {
	result := &IngestResult{}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	walker := fs.NewWalker(includes, excludes)
	files, err := walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	existingDocs, err := u.store.ListDocs()
	if err != nil {
		return nil, fmt.Errorf("failed to list existing docs: %w", err)
	}
	existingBySource := make(map[string]domain.Document, len(existingDocs))
	for _, doc := range existingDocs {
		existingBySource[doc.Source] = doc
	}

	seen := make(map[string]bool, len(files))

	for i, file := range files {
		seen[file.Path] = true

		if existing, ok := existingBySource[file.Path]; ok && existing.UploadedAt.Unix() >= file.ModTime {
			result.DocsSkipped++
		} else if n, err := u.ingestFile(ctx, file.Path); err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.DocsIngested++
			result.ChunksCreated += n
		}

		if progress != nil {
			progress(i+1, len(files))
		}
	}

	// The separator guard keeps a sibling directory sharing the root as a
	// name prefix (docs vs docs-archive) out of the cleanup.
	prefix := root + string(filepath.Separator)
	for source, doc := range existingBySource {
		if !seen[source] && strings.HasPrefix(source, prefix) {
			if err := u.removeDocument(doc.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to remove %s: %v", source, err))
			} else {
				result.DocsRemoved++
			}
		}
	}

	if err := u.refreshStats(); err != nil {
		return nil, err
	}
	return result, nil
}

func (u *Ingester) ingestFile(ctx context.Context, path string) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return 0, &domain.IngestionError{Source: path, Reason: fmt.Sprintf("unsupported file type %q", ext)}
	}

	text, err := fs.ReadFile(path)
	if err != nil {
		return 0, &domain.IngestionError{Source: path, Reason: fmt.Sprintf("unreadable: %v", err)}
	}

	return u.IngestText(ctx, path, text)
}

// Remove drops a document (by source identifier) from the index and store.
func (u *Ingester) Remove(source string) error {
	doc, found, err := u.store.GetDocBySource(source)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no document ingested from %s", source)
	}
	if err := u.removeDocument(doc.ID); err != nil {
		return err
	}
	return u.refreshStats()
}

func (u *Ingester) removeDocument(docID string) error {
	if err := u.index.RemoveDocument(docID); err != nil {
		return err
	}
	if err := u.store.DeleteChunksByDoc(docID); err != nil {
		return err
	}
	if err := u.store.DeleteDoc(docID); err != nil {
		return err
	}
	u.invalidate()
	return nil
}

func (u *Ingester) invalidate() {
	if u.cache != nil {
		u.cache.Invalidate()
	}
}

func (u *Ingester) refreshStats() error {
	docs, err := u.store.ListDocs()
	if err != nil {
		return err
	}

	totalChunks := 0
	totalLen := 0
	for _, doc := range docs {
		chunks, err := u.store.GetChunksByDoc(doc.ID)
		if err != nil {
			return err
		}
		totalChunks += len(chunks)
		for _, c := range chunks {
			totalLen += len(c.Text)
		}
	}

	stats := domain.Stats{
		TotalDocs:   len(docs),
		TotalChunks: totalChunks,
	}
	if totalChunks > 0 {
		stats.AvgChunkLen = float64(totalLen) / float64(totalChunks)
	}
	return u.store.UpdateStats(stats)
}

func generateDocID(source string) string {
	hash := sha256.Sum256([]byte(source))
	return hex.EncodeToString(hash[:8])
}
