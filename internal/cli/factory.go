package cli

import (
	"fmt"
	"time"

	"supportrag/config"
	"supportrag/internal/adapter/embedding"
	"supportrag/internal/adapter/index"
	"supportrag/internal/adapter/llm"
	"supportrag/internal/adapter/store"
	"supportrag/internal/port"
)

func buildEmbedder(cfg *config.Config) (port.Embedder, error) {
	e := cfg.Embedding
	timeout := time.Duration(e.TimeoutSecs) * time.Second

	switch e.Provider {
	case "openai":
		if e.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(e.APIKeyEnv, e.Model, e.BaseURL, e.Dimension, e.BatchSize, timeout)
		}
		return embedding.NewOpenAIEmbedder(e.APIKeyEnv, e.Model, e.Dimension, e.BatchSize, timeout)
	case "ollama":
		return embedding.NewOllamaEmbedder(e.Model, e.BaseURL, e.Dimension, e.BatchSize, timeout)
	case "local":
		return embedding.NewHashEmbedder(e.Dimension), nil
	case "mock":
		dim := e.Dimension
		if dim <= 0 {
			dim = 256
		}
		return embedding.NewMockEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", e.Provider)
	}
}

func buildGenerator(cfg *config.Config) (port.Generator, error) {
	g := cfg.Generation
	return llm.NewOpenAIGenerator(
		g.APIKeyEnv,
		g.Model,
		g.BaseURL,
		g.MaxTokens,
		g.Temperature,
		time.Duration(g.TimeoutSecs)*time.Second,
	)
}

// openKnowledgeBase opens the persisted index pair (vectors + metadata).
// With create=false a missing file is an index-load failure the caller
// surfaces; with create=true missing files start empty.
func openKnowledgeBase(dir string, embedderDim int, create bool) (*store.BoltStore, *index.Index, error) {
	var st *store.BoltStore
	var err error

	if create {
		if err := config.EnsureStorageDir(dir); err != nil {
			return nil, nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		st, err = store.NewBoltStore(config.MetaDBPath(dir))
	} else {
		st, err = store.OpenBoltStore(config.MetaDBPath(dir))
	}
	if err != nil {
		return nil, nil, err
	}

	var ix *index.Index
	if create {
		ix, err = index.Create(config.VectorDBPath(dir), embedderDim)
	} else {
		ix, err = index.Open(config.VectorDBPath(dir))
	}
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	if dim := ix.Dimension(); dim > 0 && embedderDim > 0 && dim != embedderDim {
		st.Close()
		ix.Close()
		return nil, nil, fmt.Errorf("index was built with dimension %d but the configured embedding model produces %d; re-ingest with the original model or rebuild", dim, embedderDim)
	}

	return st, ix, nil
}
