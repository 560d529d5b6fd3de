package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"supportrag/internal/domain"
)

var (
	bucketDocs      = []byte("docs")
	bucketSources   = []byte("sources")
	bucketChunks    = []byte("chunks")
	bucketBlobs     = []byte("blobs")
	bucketDocChunks = []byte("doc_chunks")
	bucketAnswers   = []byte("answers")
	bucketFeedback  = []byte("feedback")
	bucketStats     = []byte("stats")
	keyStats        = []byte("corpus_stats")
)

// BoltStore persists documents, chunks, answers and feedback in a single
// bbolt file. Chunk text lives in its own blobs bucket, separate from the
// chunk metadata, mirroring how the vector index keeps vectors apart.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open meta db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketDocs, bucketSources, bucketChunks, bucketBlobs, bucketDocChunks, bucketAnswers, bucketFeedback, bucketStats}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// OpenBoltStore loads an existing store; a missing or unopenable file is a
// domain.ErrIndexLoad (the store is half of the persisted index artifact).
func OpenBoltStore(path string) (*BoltStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexLoad, path, err)
	}
	return NewBoltStore(path)
}

type docMeta struct {
	Source     string `json:"source"`
	UploadedAt int64  `json:"uploaded_at"`
}

type chunkMeta struct {
	DocID     string `json:"doc_id"`
	Position  int    `json:"position"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

type feedbackMeta struct {
	Vote      string `json:"vote"`
	CreatedAt int64  `json:"created_at"`
}

func (s *BoltStore) PutDoc(doc domain.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := docMeta{
			Source:     doc.Source,
			UploadedAt: doc.UploadedAt.Unix(),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketSources).Put([]byte(doc.Source), []byte(doc.ID))
	})
}

func (s *BoltStore) GetDoc(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document not found: %s", id)
		}
		var meta docMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		doc = domain.Document{
			ID:         id,
			Source:     meta.Source,
			UploadedAt: time.Unix(meta.UploadedAt, 0),
		}
		return nil
	})
	return doc, err
}

func (s *BoltStore) GetDocBySource(source string) (domain.Document, bool, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketSources).Get([]byte(source)); data != nil {
			id = string(data)
		}
		return nil
	})
	if err != nil || id == "" {
		return domain.Document{}, false, err
	}
	doc, err := s.GetDoc(id)
	if err != nil {
		return domain.Document{}, false, err
	}
	return doc, true, nil
}

func (s *BoltStore) DeleteDoc(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketDocs).Get([]byte(id)); data != nil {
			var meta docMeta
			if err := json.Unmarshal(data, &meta); err == nil {
				tx.Bucket(bucketSources).Delete([]byte(meta.Source))
			}
		}
		return tx.Bucket(bucketDocs).Delete([]byte(id))
	})
}

func (s *BoltStore) ListDocs() ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var meta docMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			docs = append(docs, domain.Document{
				ID:         string(k),
				Source:     meta.Source,
				UploadedAt: time.Unix(meta.UploadedAt, 0),
			})
			return nil
		})
	})
	return docs, err
}

// PutChunks stores a document's chunk set in one transaction.
func (s *BoltStore) PutChunks(chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		docChunks := tx.Bucket(bucketDocChunks)
		byDoc := make(map[string][]string)

		for _, chunk := range chunks {
			meta := chunkMeta{
				DocID:     chunk.DocID,
				Position:  chunk.Position,
				CharStart: chunk.CharStart,
				CharEnd:   chunk.CharEnd,
			}
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketChunks).Put([]byte(chunk.ID), data); err != nil {
				return err
			}
			if err := tx.Bucket(bucketBlobs).Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
				return err
			}
			byDoc[chunk.DocID] = append(byDoc[chunk.DocID], chunk.ID)
		}

		for docID, ids := range byDoc {
			var chunkIDs []string
			if existing := docChunks.Get([]byte(docID)); existing != nil {
				json.Unmarshal(existing, &chunkIDs)
			}
			chunkIDs = append(chunkIDs, ids...)
			data, err := json.Marshal(chunkIDs)
			if err != nil {
				return err
			}
			if err := docChunks.Put([]byte(docID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetChunk(id string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chunk not found: %s", id)
		}
		var meta chunkMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		chunk = domain.Chunk{
			ID:        id,
			DocID:     meta.DocID,
			Position:  meta.Position,
			CharStart: meta.CharStart,
			CharEnd:   meta.CharEnd,
			Text:      string(tx.Bucket(bucketBlobs).Get([]byte(id))),
		}
		return nil
	})
	return chunk, err
}

func (s *BoltStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	var chunkIDs []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketDocChunks).Get([]byte(docID)); data != nil {
			return json.Unmarshal(data, &chunkIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		chunk, err := s.GetChunk(id)
		if err != nil {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (s *BoltStore) DeleteChunksByDoc(docID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		docChunks := tx.Bucket(bucketDocChunks)
		data := docChunks.Get([]byte(docID))
		if data == nil {
			return nil
		}
		var chunkIDs []string
		if err := json.Unmarshal(data, &chunkIDs); err != nil {
			return err
		}
		for _, id := range chunkIDs {
			if err := tx.Bucket(bucketChunks).Delete([]byte(id)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketBlobs).Delete([]byte(id)); err != nil {
				return err
			}
		}
		return docChunks.Delete([]byte(docID))
	})
}

func (s *BoltStore) PutAnswer(ans domain.Answer) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(ans)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAnswers).Put([]byte(ans.ID), data)
	})
}

func (s *BoltStore) GetAnswer(id string) (domain.Answer, error) {
	var ans domain.Answer
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAnswers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("answer not found: %s", id)
		}
		return json.Unmarshal(data, &ans)
	})
	return ans, err
}

// RecordFeedback appends a feedback entry. The log is append-only: entries
// are keyed answerID/sequence and never overwritten.
func (s *BoltStore) RecordFeedback(fb domain.Feedback) error {
	if _, err := s.GetAnswer(fb.AnswerID); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFeedback)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(feedbackMeta{
			Vote:      string(fb.Vote),
			CreatedAt: fb.CreatedAt.Unix(),
		})
		if err != nil {
			return err
		}
		return b.Put(feedbackKey(fb.AnswerID, seq), data)
	})
}

// FeedbackCounts aggregates votes recorded for an answer.
func (s *BoltStore) FeedbackCounts(answerID string) (domain.FeedbackCounts, error) {
	var counts domain.FeedbackCounts
	prefix := []byte(answerID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFeedback).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var meta feedbackMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				continue
			}
			switch domain.Vote(meta.Vote) {
			case domain.VoteUp:
				counts.Up++
			case domain.VoteDown:
				counts.Down++
			}
		}
		return nil
	})
	return counts, err
}

func feedbackKey(answerID string, seq uint64) []byte {
	key := make([]byte, 0, len(answerID)+9)
	key = append(key, answerID...)
	key = append(key, '/')
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(key, seqBytes[:]...)
}

func (s *BoltStore) GetStats() (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketStats).Get(keyStats); data != nil {
			return json.Unmarshal(data, &stats)
		}
		return nil
	})
	return stats, err
}

func (s *BoltStore) UpdateStats(stats domain.Stats) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStats).Put(keyStats, data)
	})
}

// Snapshot writes a consistent copy of the store to dst via a temp file
// and an atomic rename.
func (s *BoltStore) Snapshot(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".snapshot-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	err = s.db.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(tmp)
		return err
	})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to snapshot store: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
