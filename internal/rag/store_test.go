package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcfd/backend/pkg/config"
)

// fakeEmbedder maps text to fixed two-dimensional vectors by keyword, so
// similarity ordering in tests is predictable.
type fakeEmbedder struct {
	batchErr   error
	embedErr   error
	batchCalls int
}

func (f *fakeEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "alpha"):
		return []float32{1, 0}
	case strings.Contains(lower, "beta"):
		return []float32{0, 1}
	default:
		return []float32{0.7, 0.7}
	}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.vector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vector(text)
	}
	return vectors, nil
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func testCorpora(docsDir string) map[string]config.Corpus {
	return map[string]config.Corpus{
		config.CorpusGeneral: {Name: config.CorpusGeneral, DocsDir: docsDir, TopK: 3},
	}
}

func newPopulatedDocsDir(t *testing.T) string {
	t.Helper()
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "alpha.txt", "alpha program overview and schedule")
	writeDoc(t, docsDir, "beta.txt", "beta benefits enrollment guide")
	return docsDir
}

func TestRetrieveBuildsAndRanks(t *testing.T) {
	docsDir := newPopulatedDocsDir(t)
	storageDir := t.TempDir()
	embedder := &fakeEmbedder{}
	store := NewStore(storageDir, testCorpora(docsDir), embedder, nil)

	results, err := store.Retrieve(context.Background(), config.CorpusGeneral, "alpha schedule")

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha.txt", results[0].Source)
	assert.Equal(t, "beta.txt", results[1].Source)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestBuildPersistsIndexArtifacts(t *testing.T) {
	docsDir := newPopulatedDocsDir(t)
	storageDir := t.TempDir()
	store := NewStore(storageDir, testCorpora(docsDir), &fakeEmbedder{}, nil)

	_, err := store.Load(context.Background(), config.CorpusGeneral)
	require.NoError(t, err)

	corpusDir := filepath.Join(storageDir, config.CorpusGeneral)
	assert.FileExists(t, filepath.Join(corpusDir, docstoreFile))
	assert.FileExists(t, filepath.Join(corpusDir, vectorsFile))
}

func TestLoadUsesPersistedIndexWithoutReembedding(t *testing.T) {
	docsDir := newPopulatedDocsDir(t)
	storageDir := t.TempDir()

	first := NewStore(storageDir, testCorpora(docsDir), &fakeEmbedder{}, nil)
	_, err := first.Load(context.Background(), config.CorpusGeneral)
	require.NoError(t, err)

	// A fresh store with a broken batch embedder must still serve queries from
	// the persisted index.
	broken := &fakeEmbedder{batchErr: errors.New("embedding backend down")}
	second := NewStore(storageDir, testCorpora(docsDir), broken, nil)

	results, err := second.Retrieve(context.Background(), config.CorpusGeneral, "beta enrollment")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "beta.txt", results[0].Source)
	assert.Zero(t, broken.batchCalls)
}

func TestLoadCachesIndexHandle(t *testing.T) {
	docsDir := newPopulatedDocsDir(t)
	embedder := &fakeEmbedder{}
	store := NewStore(t.TempDir(), testCorpora(docsDir), embedder, nil)

	first, err := store.Load(context.Background(), config.CorpusGeneral)
	require.NoError(t, err)
	second, err := store.Load(context.Background(), config.CorpusGeneral)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, embedder.batchCalls)
}

func TestLoadMissingDocsDirIsCorpusNotReady(t *testing.T) {
	store := NewStore(t.TempDir(), testCorpora(filepath.Join(t.TempDir(), "missing")), &fakeEmbedder{}, nil)

	_, err := store.Load(context.Background(), config.CorpusGeneral)

	assert.ErrorIs(t, err, ErrCorpusNotReady)
}

func TestLoadEmptyDocsDirIsCorpusNotReady(t *testing.T) {
	store := NewStore(t.TempDir(), testCorpora(t.TempDir()), &fakeEmbedder{}, nil)

	_, err := store.Load(context.Background(), config.CorpusGeneral)

	assert.ErrorIs(t, err, ErrCorpusNotReady)
}

func TestUnknownCorpus(t *testing.T) {
	store := NewStore(t.TempDir(), testCorpora(t.TempDir()), &fakeEmbedder{}, nil)

	_, err := store.Retrieve(context.Background(), "nonexistent", "query")
	assert.ErrorIs(t, err, ErrUnknownCorpus)

	err = store.Rebuild(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrUnknownCorpus)
}

func TestRebuildReplacesIndex(t *testing.T) {
	docsDir := newPopulatedDocsDir(t)
	storageDir := t.TempDir()
	store := NewStore(storageDir, testCorpora(docsDir), &fakeEmbedder{}, nil)

	before, err := store.Load(context.Background(), config.CorpusGeneral)
	require.NoError(t, err)

	writeDoc(t, docsDir, "gamma.txt", "gamma policy addendum")
	require.NoError(t, store.Rebuild(context.Background(), config.CorpusGeneral))

	after, err := store.Load(context.Background(), config.CorpusGeneral)
	require.NoError(t, err)

	assert.NotEqual(t, before.BuildID(), after.BuildID())
	assert.Equal(t, 3, after.Len())
}

func TestRebuildOnlyTouchesOwnCorpusDir(t *testing.T) {
	docsDir := newPopulatedDocsDir(t)
	storageDir := t.TempDir()
	store := NewStore(storageDir, testCorpora(docsDir), &fakeEmbedder{}, nil)

	_, err := store.Load(context.Background(), config.CorpusGeneral)
	require.NoError(t, err)

	otherDir := filepath.Join(storageDir, "benefits")
	require.NoError(t, os.MkdirAll(otherDir, 0o755))
	writeDoc(t, otherDir, "docstore.json", "{}")

	require.NoError(t, store.Rebuild(context.Background(), config.CorpusGeneral))

	assert.FileExists(t, filepath.Join(otherDir, "docstore.json"))
}
