package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"supportrag/internal/domain"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocRoundTrip(t *testing.T) {
	s := newTestStore(t)

	doc := domain.Document{
		ID:         "doc1",
		Source:     "/kb/refunds.md",
		UploadedAt: time.Unix(1700000000, 0),
	}
	if err := s.PutDoc(doc); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDoc("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != doc.Source || !got.UploadedAt.Equal(doc.UploadedAt) {
		t.Errorf("document mismatch: %+v", got)
	}

	bySource, found, err := s.GetDocBySource("/kb/refunds.md")
	if err != nil {
		t.Fatal(err)
	}
	if !found || bySource.ID != "doc1" {
		t.Errorf("source lookup failed: found=%v doc=%+v", found, bySource)
	}

	_, found, err = s.GetDocBySource("/kb/missing.md")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("unknown source should not resolve")
	}
}

func TestDeleteDoc_ClearsSourceMapping(t *testing.T) {
	s := newTestStore(t)

	doc := domain.Document{ID: "doc1", Source: "/kb/a.txt", UploadedAt: time.Now()}
	if err := s.PutDoc(doc); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDoc("doc1"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetDoc("doc1"); err == nil {
		t.Error("deleted document should not be found")
	}
	_, found, err := s.GetDocBySource("/kb/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("source mapping should be cleared with the document")
	}
}

func TestChunkLifecycle(t *testing.T) {
	s := newTestStore(t)

	chunks := []domain.Chunk{
		{ID: "c1", DocID: "doc1", Text: "first chunk", Position: 0, CharStart: 0, CharEnd: 11},
		{ID: "c2", DocID: "doc1", Text: "second chunk", Position: 1, CharStart: 8, CharEnd: 20},
		{ID: "c3", DocID: "doc2", Text: "other doc", Position: 0, CharStart: 0, CharEnd: 9},
	}
	if err := s.PutChunks(chunks); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetChunk("c2")
	if err != nil {
		t.Fatal(err)
	}
	if got != chunks[1] {
		t.Errorf("chunk mismatch: %+v", got)
	}

	byDoc, err := s.GetChunksByDoc("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byDoc) != 2 {
		t.Fatalf("expected 2 chunks for doc1, got %d", len(byDoc))
	}
	if byDoc[0].ID != "c1" || byDoc[1].ID != "c2" {
		t.Error("chunks should come back in insertion order")
	}

	if err := s.DeleteChunksByDoc("doc1"); err != nil {
		t.Fatal(err)
	}
	byDoc, err = s.GetChunksByDoc("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byDoc) != 0 {
		t.Errorf("expected no chunks after delete, got %d", len(byDoc))
	}
	if _, err := s.GetChunk("c1"); err == nil {
		t.Error("deleted chunk should not be found")
	}

	// doc2's chunks are untouched.
	if _, err := s.GetChunk("c3"); err != nil {
		t.Errorf("doc2 chunk should survive: %v", err)
	}
}

func TestAnswerRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ans := domain.Answer{
		ID:    "ans1",
		Query: "How long is the refund window?",
		Text:  "The refund window is 30 days.",
		Citations: []domain.Citation{
			{DocID: "doc1", ChunkID: "c1", Source: "/kb/refunds.md", Position: 0, Excerpt: "The refund window is 30 days.", Confidence: 0.91},
		},
		Confidence: 0.91,
		Grounded:   true,
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}
	if err := s.PutAnswer(ans); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAnswer("ans1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != ans.Text || got.Confidence != ans.Confidence || !got.Grounded {
		t.Errorf("answer mismatch: %+v", got)
	}
	if len(got.Citations) != 1 || got.Citations[0].ChunkID != "c1" {
		t.Errorf("citations mismatch: %+v", got.Citations)
	}
}

func TestFeedback_AppendOnly(t *testing.T) {
	s := newTestStore(t)

	ans := domain.Answer{ID: "ans1", Query: "q", Text: "a", CreatedAt: time.Now()}
	if err := s.PutAnswer(ans); err != nil {
		t.Fatal(err)
	}

	votes := []domain.Vote{domain.VoteUp, domain.VoteUp, domain.VoteDown, domain.VoteUp}
	for _, v := range votes {
		err := s.RecordFeedback(domain.Feedback{AnswerID: "ans1", Vote: v, CreatedAt: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.FeedbackCounts("ans1")
	if err != nil {
		t.Fatal(err)
	}
	if counts.Up != 3 || counts.Down != 1 {
		t.Errorf("expected 3 up / 1 down, got %d/%d", counts.Up, counts.Down)
	}
}

func TestFeedback_UnknownAnswer(t *testing.T) {
	s := newTestStore(t)

	err := s.RecordFeedback(domain.Feedback{AnswerID: "nope", Vote: domain.VoteUp, CreatedAt: time.Now()})
	if err == nil {
		t.Error("feedback for an unknown answer must fail")
	}
}

func TestStatsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Fresh store reports zero stats.
	stats, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocs != 0 || stats.TotalChunks != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}

	want := domain.Stats{TotalDocs: 4, TotalChunks: 120, AvgChunkLen: 987.5}
	if err := s.UpdateStats(want); err != nil {
		t.Fatal(err)
	}
	stats, err = s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats != want {
		t.Errorf("stats mismatch: got %+v, want %+v", stats, want)
	}
}

func TestOpenBoltStore_Missing(t *testing.T) {
	_, err := OpenBoltStore(filepath.Join(t.TempDir(), "nope.db"))
	if !errors.Is(err, domain.ErrIndexLoad) {
		t.Errorf("expected ErrIndexLoad, got %v", err)
	}
}
