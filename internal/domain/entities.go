package domain

import "time"

type Document struct {
	ID         string
	Source     string
	UploadedAt time.Time
}

// Chunk is a bounded contiguous span of a document's text. CharStart and
// CharEnd are rune offsets into the original document text; adjacent chunks
// overlap by the configured overlap width.
type Chunk struct {
	ID        string
	DocID     string
	Text      string
	Position  int
	CharStart int
	CharEnd   int
}

// RetrievalResult is one ranked hit from a semantic search. Score is the raw
// cosine similarity; Confidence is its normalized form in [0,1]. Rank is
// 1-based.
type RetrievalResult struct {
	Chunk      Chunk
	Source     string
	Score      float64
	Confidence float64
	Rank       int
}

type Citation struct {
	DocID      string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id"`
	Source     string  `json:"source"`
	Position   int     `json:"position"`
	Excerpt    string  `json:"excerpt"`
	Confidence float64 `json:"confidence"`
}

// Answer is the result of one chat turn. Immutable once produced; Feedback
// entries reference it by ID. Grounded is false only for the explicit
// "no relevant documents" answer.
type Answer struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Grounded   bool       `json:"grounded"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Vote string

const (
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

type Feedback struct {
	AnswerID  string
	Vote      Vote
	CreatedAt time.Time
}

type FeedbackCounts struct {
	Up   int
	Down int
}

type Stats struct {
	TotalDocs   int
	TotalChunks int
	AvgChunkLen float64
}
