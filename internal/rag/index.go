package rag

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Persisted layout of one corpus store directory. The docstore manifest
// doubles as the "already built" marker: its presence selects load-from-disk
// over rebuild-from-source.
const (
	docstoreFile = "docstore.json"
	vectorsFile  = "vectors.json"
)

// Chunk is one retrievable unit of indexed text.
type Chunk struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// ScoredChunk is a retrieval match: a chunk plus its similarity score against
// the query, cosine convention.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Index is an immutable in-memory similarity index for one corpus. Shared
// read-only across requests once constructed.
type Index struct {
	buildID   string
	corpus    string
	createdAt time.Time
	chunks    []Chunk
	vectors   [][]float32
}

type docstoreManifest struct {
	BuildID   string    `json:"build_id"`
	Corpus    string    `json:"corpus"`
	CreatedAt time.Time `json:"created_at"`
	Chunks    []Chunk   `json:"chunks"`
}

type vectorStore struct {
	Dim     int         `json:"dim"`
	Vectors [][]float32 `json:"vectors"`
}

func newIndex(buildID, corpus string, chunks []Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	return &Index{
		buildID:   buildID,
		corpus:    corpus,
		createdAt: time.Now(),
		chunks:    chunks,
		vectors:   vectors,
	}, nil
}

// BuildID identifies one build of the index; rebuilds always produce a fresh
// value, so callers can tell a reloaded handle from a reused one.
func (idx *Index) BuildID() string { return idx.buildID }

// Len returns the number of indexed chunks.
func (idx *Index) Len() int { return len(idx.chunks) }

// Search scores every chunk against queryVector and returns at most topK
// matches ordered by non-increasing similarity.
func (idx *Index) Search(queryVector []float32, topK int) []ScoredChunk {
	if topK <= 0 || len(idx.chunks) == 0 {
		return nil
	}

	scored := make([]ScoredChunk, 0, len(idx.chunks))
	for i, chunk := range idx.chunks {
		scored = append(scored, ScoredChunk{
			Chunk: chunk,
			Score: CosineSimilarity(queryVector, idx.vectors[i]),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func (idx *Index) persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	dim := 0
	if len(idx.vectors) > 0 {
		dim = len(idx.vectors[0])
	}

	vectors, err := json.Marshal(vectorStore{Dim: dim, Vectors: idx.vectors})
	if err != nil {
		return fmt.Errorf("failed to marshal vector store: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, vectorsFile), vectors, 0o644); err != nil {
		return fmt.Errorf("failed to write vector store: %w", err)
	}

	manifest, err := json.Marshal(docstoreManifest{
		BuildID:   idx.buildID,
		Corpus:    idx.corpus,
		CreatedAt: idx.createdAt,
		Chunks:    idx.chunks,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal docstore: %w", err)
	}
	// Docstore last: it is the built marker, so a crash mid-persist leaves no
	// half-valid store behind.
	if err := os.WriteFile(filepath.Join(dir, docstoreFile), manifest, 0o644); err != nil {
		return fmt.Errorf("failed to write docstore: %w", err)
	}

	return nil
}

func loadIndex(dir string) (*Index, error) {
	manifestData, err := os.ReadFile(filepath.Join(dir, docstoreFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read docstore: %w", err)
	}

	var manifest docstoreManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse docstore: %w", err)
	}

	vectorData, err := os.ReadFile(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read vector store: %w", err)
	}

	var vectors vectorStore
	if err := json.Unmarshal(vectorData, &vectors); err != nil {
		return nil, fmt.Errorf("failed to parse vector store: %w", err)
	}

	idx, err := newIndex(manifest.BuildID, manifest.Corpus, manifest.Chunks, vectors.Vectors)
	if err != nil {
		return nil, err
	}
	idx.createdAt = manifest.CreatedAt
	return idx, nil
}

func indexExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, docstoreFile))
	return err == nil
}

// CosineSimilarity scores two embedding vectors; mismatched or zero-length
// vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
