// Package rag owns the per-corpus vector indexes: lazy build from source
// documents, persistence on disk, explicit rebuild, and similarity retrieval.
package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/ingestion"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/metrics"
	"github.com/chatcfd/backend/pkg/config"
	"github.com/chatcfd/backend/pkg/logger"
	"github.com/chatcfd/backend/pkg/utils"
)

// ErrCorpusNotReady signals that a corpus has neither a persisted index nor
// source documents. Recoverable: callers degrade to "no retrieved context".
var ErrCorpusNotReady = errors.New("corpus not ready")

// ErrUnknownCorpus signals a corpus name absent from configuration.
var ErrUnknownCorpus = errors.New("unknown corpus")

const embeddingCacheTTL = time.Hour

// EmbeddingCache is the optional query-embedding cache the store consults
// before calling the embedding backend.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Store is the registry of corpus indexes. Handles are built lazily on first
// use and shared read-only afterwards; a per-corpus lock serializes
// build/rebuild against concurrent loads of the same corpus without blocking
// other corpora.
type Store struct {
	storageDir string
	corpora    map[string]config.Corpus
	embedder   llm.Embedder
	reader     *ingestion.Reader
	cache      EmbeddingCache

	mu      sync.Mutex
	entries map[string]*corpusEntry
}

type corpusEntry struct {
	mu    sync.Mutex
	index *Index
}

func NewStore(storageDir string, corpora map[string]config.Corpus, embedder llm.Embedder, cache EmbeddingCache) *Store {
	return &Store{
		storageDir: storageDir,
		corpora:    corpora,
		embedder:   embedder,
		reader:     ingestion.NewReader(),
		cache:      cache,
		entries:    make(map[string]*corpusEntry),
	}
}

// Load returns the index handle for corpus, building or deserializing it on
// first use.
func (s *Store) Load(ctx context.Context, corpus string) (*Index, error) {
	entry, cfg, err := s.entry(corpus)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.index != nil {
		return entry.index, nil
	}

	index, err := s.loadOrBuild(ctx, cfg)
	if err != nil {
		return nil, err
	}
	entry.index = index
	return index, nil
}

// Retrieve embeds query and returns at most the corpus's configured top-k
// matches, ordered by non-increasing similarity. ErrCorpusNotReady propagates
// unchanged; embedding failures surface to the caller without retry.
func (s *Store) Retrieve(ctx context.Context, corpus, query string) ([]ScoredChunk, error) {
	index, err := s.Load(ctx, corpus)
	if err != nil {
		return nil, err
	}

	queryVector, err := s.embedQuery(ctx, query)
	if err != nil {
		logger.Error("Retrieval failed", zap.String("corpus", corpus), zap.Error(err))
		return nil, err
	}

	results := index.Search(queryVector, s.corpora[corpus].TopK)
	metrics.RetrievalResults.WithLabelValues(corpus).Observe(float64(len(results)))

	return results, nil
}

// Rebuild deletes the persisted index artifacts for corpus, evicts the cached
// handle, and rebuilds from the source directory. Only the corpus's own store
// directory is touched.
func (s *Store) Rebuild(ctx context.Context, corpus string) error {
	entry, cfg, err := s.entry(corpus)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	storeDir := s.storeDir(corpus)
	items, err := os.ReadDir(storeDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read store directory: %w", err)
	}
	for _, item := range items {
		if err := os.RemoveAll(filepath.Join(storeDir, item.Name())); err != nil {
			return fmt.Errorf("failed to delete index artifact %s: %w", item.Name(), err)
		}
	}

	entry.index = nil

	index, err := s.loadOrBuild(ctx, cfg)
	if err != nil {
		return err
	}
	entry.index = index

	metrics.CorpusRebuilds.WithLabelValues(corpus).Inc()
	logger.Info("Corpus rebuilt",
		zap.String("corpus", corpus),
		zap.String("build_id", index.BuildID()),
		zap.Int("chunks", index.Len()),
	)

	return nil
}

// Corpora lists the configured corpus names.
func (s *Store) Corpora() []string {
	names := make([]string, 0, len(s.corpora))
	for name := range s.corpora {
		names = append(names, name)
	}
	return names
}

func (s *Store) entry(corpus string) (*corpusEntry, config.Corpus, error) {
	cfg, ok := s.corpora[corpus]
	if !ok {
		return nil, config.Corpus{}, fmt.Errorf("%w: %q", ErrUnknownCorpus, corpus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[corpus]
	if !ok {
		entry = &corpusEntry{}
		s.entries[corpus] = entry
	}
	return entry, cfg, nil
}

func (s *Store) storeDir(corpus string) string {
	return filepath.Join(s.storageDir, corpus)
}

func (s *Store) loadOrBuild(ctx context.Context, cfg config.Corpus) (*Index, error) {
	storeDir := s.storeDir(cfg.Name)

	if indexExists(storeDir) {
		index, err := loadIndex(storeDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted index for %q: %w", cfg.Name, err)
		}
		logger.Info("Corpus index loaded from disk",
			zap.String("corpus", cfg.Name),
			zap.Int("chunks", index.Len()),
		)
		return index, nil
	}

	return s.build(ctx, cfg, storeDir)
}

func (s *Store) build(ctx context.Context, cfg config.Corpus, storeDir string) (*Index, error) {
	docs, err := s.reader.LoadDirectory(cfg.DocsDir)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no source documents for corpus %q in %s", ErrCorpusNotReady, cfg.Name, cfg.DocsDir)
		}
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no source documents for corpus %q in %s", ErrCorpusNotReady, cfg.Name, cfg.DocsDir)
	}

	chunks := s.reader.ChunkDocuments(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no indexable text for corpus %q in %s", ErrCorpusNotReady, cfg.Name, cfg.DocsDir)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed corpus %q: %w", cfg.Name, err)
	}

	indexChunks := make([]Chunk, len(chunks))
	for i, chunk := range chunks {
		indexChunks[i] = Chunk{ID: chunk.ID, Text: chunk.Text, Source: chunk.Source}
	}

	index, err := newIndex(uuid.New().String(), cfg.Name, indexChunks, vectors)
	if err != nil {
		return nil, err
	}

	if err := index.persist(storeDir); err != nil {
		return nil, fmt.Errorf("failed to persist index for %q: %w", cfg.Name, err)
	}

	metrics.DocumentsIndexed.Add(float64(len(docs)))
	logger.Info("Corpus index built",
		zap.String("corpus", cfg.Name),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", index.Len()),
	)

	return index, nil
}

func (s *Store) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.cache == nil {
		return s.embedder.Embed(ctx, query)
	}

	key := utils.Hash(query)
	if cached, ok, err := s.cache.GetEmbedding(ctx, key); err == nil && ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetEmbedding(ctx, key, vector, embeddingCacheTTL); err != nil {
		logger.Warn("Failed to cache query embedding", zap.Error(err))
	}

	return vector, nil
}
