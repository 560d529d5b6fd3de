package port

import "supportrag/internal/domain"

// DocStore persists documents, chunks, answers and feedback.
type DocStore interface {
	PutDoc(doc domain.Document) error

	GetDoc(id string) (domain.Document, error)

	GetDocBySource(source string) (domain.Document, bool, error)

	DeleteDoc(id string) error

	ListDocs() ([]domain.Document, error)

	PutChunks(chunks []domain.Chunk) error

	GetChunk(id string) (domain.Chunk, error)

	GetChunksByDoc(docID string) ([]domain.Chunk, error)

	DeleteChunksByDoc(docID string) error

	PutAnswer(ans domain.Answer) error

	GetAnswer(id string) (domain.Answer, error)

	RecordFeedback(fb domain.Feedback) error

	FeedbackCounts(answerID string) (domain.FeedbackCounts, error)

	GetStats() (domain.Stats, error)

	UpdateStats(stats domain.Stats) error

	Close() error
}
