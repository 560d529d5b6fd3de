package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"supportrag/internal/domain"
)

// modelDimensions maps known embedding model identifiers to their output
// width. Unknown identifiers must come with an explicit configured
// dimension, otherwise construction fails.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batchSize int
	client    *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIEmbedder creates an embedder for the OpenAI embeddings API.
func NewOpenAIEmbedder(apiKeyEnv, model string, dimension, batchSize int, timeout time.Duration) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.openai.com/v1", dimension, batchSize, timeout)
}

// NewOllamaEmbedder creates an embedder against a local Ollama server, which
// exposes an OpenAI-compatible endpoint and needs no API key.
func NewOllamaEmbedder(model, baseURL string, dimension, batchSize int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	dim, err := resolveDimension(model, dimension)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{
		apiKey:    "ollama",
		model:     model,
		baseURL:   baseURL,
		dimension: dim,
		batchSize: normalizeBatchSize(batchSize),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// NewOpenAICompatibleEmbedder creates an embedder for any OpenAI-compatible
// /embeddings endpoint. The model must be a known identifier or dimension
// must be set explicitly; this is checked here so a bad model id fails at
// startup, not at first query.
func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, dimension, batchSize int, timeout time.Duration) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not found in environment variable %s", domain.ErrInvalidConfig, apiKeyEnv)
	}
	dim, err := resolveDimension(model, dimension)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dim,
		batchSize: normalizeBatchSize(batchSize),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func resolveDimension(model string, configured int) (int, error) {
	if configured > 0 {
		return configured, nil
	}
	if dim, ok := modelDimensions[model]; ok {
		return dim, nil
	}
	return 0, fmt.Errorf("%w: unknown embedding model %q and no dimension configured", domain.ErrInvalidConfig, model)
}

func normalizeBatchSize(batchSize int) int {
	if batchSize <= 0 {
		return 64
	}
	return batchSize
}

// Embed generates embeddings for the given texts in bounded batches,
// preserving input order. A failed batch fails the whole call; no partial
// or zero vectors are ever returned.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if domain.IsTransient(err) {
			embeddings, err = e.embedBatch(ctx, texts[i:end])
		}
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Input: texts,
		Model: e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &domain.ServiceError{Service: "embedding", Transient: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ServiceError{Service: "embedding", Transient: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ServiceError{
			Service:   "embedding",
			Transient: isRetryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateBody(body)),
		}
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, &domain.ServiceError{
			Service: "embedding",
			Err:     fmt.Errorf("failed to parse response (body: %s): %w", truncateBody(body), err),
		}
	}

	if embResp.Error != nil {
		return nil, &domain.ServiceError{
			Service: "embedding",
			Err:     fmt.Errorf("API error: %s", embResp.Error.Message),
		}
	}

	if len(embResp.Data) != len(texts) {
		return nil, &domain.ServiceError{
			Service: "embedding",
			Err:     fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Data)),
		}
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, &domain.ServiceError{
				Service: "embedding",
				Err:     fmt.Errorf("embedding index %d out of range", data.Index),
			}
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, v := range embeddings {
		if len(v) != e.dimension {
			return nil, &domain.ServiceError{
				Service: "embedding",
				Err:     fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), e.dimension),
			}
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
