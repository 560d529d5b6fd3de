package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"supportrag/internal/domain"
	"supportrag/internal/port"
)

const answerSystemPrompt = `You are a helpful support assistant. Answer the question using ONLY the provided context.
Give a clear, concise answer (2-4 sentences maximum).
Cite the source tags when relevant.
If the answer is not in the context, say "I cannot find this information in the documents."`

// NoDocumentsAnswer is the fixed text returned when retrieval finds
// nothing; the model is never asked to answer from its own knowledge.
const NoDocumentsAnswer = "I couldn't find any relevant information in the knowledge base to answer your question. Try ingesting the documents that cover this topic first."

const excerptLimit = 160

// Synthesizer turns retrieval results into a grounded answer: it builds a
// prompt from the ranked chunks, calls the generation service, and attaches
// one citation per chunk actually placed in the prompt.
type Synthesizer struct {
	retriever       *Retriever
	generator       port.Generator
	store           port.DocStore
	maxContextChars int
}

func NewSynthesizer(retriever *Retriever, generator port.Generator, store port.DocStore, maxContextChars int) *Synthesizer {
	return &Synthesizer{
		retriever:       retriever,
		generator:       generator,
		store:           store,
		maxContextChars: maxContextChars,
	}
}

// Ask runs one full chat turn: retrieve, synthesize, persist the answer.
//
// Aggregate confidence is the weighted mean of the used results'
// confidences with weight 1/sqrt(rank), so the top hit dominates but
// supporting hits still count. The rule is fixed; the number is shown to
// the user as a trust signal.
func (s *Synthesizer) Ask(ctx context.Context, question string, topK int) (domain.Answer, error) {
	results, err := s.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return domain.Answer{}, err
	}

	now := time.Now()

	if len(results) == 0 {
		ans := domain.Answer{
			ID:         generateAnswerID(question, now),
			Query:      question,
			Text:       NoDocumentsAnswer,
			Citations:  []domain.Citation{},
			Confidence: 0,
			Grounded:   false,
			CreatedAt:  now,
		}
		if err := s.store.PutAnswer(ans); err != nil {
			return domain.Answer{}, err
		}
		return ans, nil
	}

	used := s.fitToBudget(results)
	prompt := buildPrompt(question, used)

	text, err := s.generator.Generate(ctx, answerSystemPrompt, prompt)
	if domain.IsTransient(err) {
		// One retry for transient failures, then the turn fails.
		text, err = s.generator.Generate(ctx, answerSystemPrompt, prompt)
	}
	if err != nil {
		// Failed turn: no partial or fabricated answer.
		return domain.Answer{}, err
	}

	ans := domain.Answer{
		ID:         generateAnswerID(question, now),
		Query:      question,
		Text:       strings.TrimSpace(text),
		Citations:  buildCitations(used),
		Confidence: aggregateConfidence(used),
		Grounded:   true,
		CreatedAt:  now,
	}
	if err := s.store.PutAnswer(ans); err != nil {
		return domain.Answer{}, err
	}
	return ans, nil
}

// sourceTagOverhead covers the "[Source: ... §N]" tag and separators
// around each chunk, in runes.
const sourceTagOverhead = 32

// fitToBudget keeps results in rank order until the context budget is
// spent, dropping the lowest-confidence chunks first. The top result is
// always kept, truncated if it alone exceeds the budget. All accounting
// is in runes, matching the truncation unit.
func (s *Synthesizer) fitToBudget(results []domain.RetrievalResult) []domain.RetrievalResult {
	budget := s.maxContextChars
	var used []domain.RetrievalResult

	for _, r := range results {
		overhead := utf8.RuneCountInString(r.Source) + sourceTagOverhead
		cost := utf8.RuneCountInString(r.Chunk.Text) + overhead
		if cost > budget {
			if len(used) == 0 {
				keep := budget - overhead
				if keep < 1 {
					keep = 1
				}
				r.Chunk.Text = truncateRunes(r.Chunk.Text, keep)
				used = append(used, r)
			}
			break
		}
		used = append(used, r)
		budget -= cost
	}
	return used
}

func buildPrompt(question string, results []domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[Source: %s §%d]\n%s\n", r.Source, r.Chunk.Position+1, r.Chunk.Text)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}

// buildCitations emits one citation per used chunk, in descending
// confidence order (the rank order they were retrieved in).
func buildCitations(results []domain.RetrievalResult) []domain.Citation {
	citations := make([]domain.Citation, len(results))
	for i, r := range results {
		citations[i] = domain.Citation{
			DocID:      r.Chunk.DocID,
			ChunkID:    r.Chunk.ID,
			Source:     r.Source,
			Position:   r.Chunk.Position,
			Excerpt:    truncateRunes(strings.TrimSpace(r.Chunk.Text), excerptLimit),
			Confidence: r.Confidence,
		}
	}
	return citations
}

func aggregateConfidence(results []domain.RetrievalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum, weights float64
	for _, r := range results {
		w := 1 / math.Sqrt(float64(r.Rank))
		sum += r.Confidence * w
		weights += w
	}
	return sum / weights
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func generateAnswerID(question string, t time.Time) string {
	data := fmt.Sprintf("%s@%d", question, t.UnixNano())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
