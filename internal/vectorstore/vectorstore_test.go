package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/config"
)

func openTestStore(t *testing.T, dims int) *Store {
	t.Helper()
	cfg := config.VectorConfig{
		Path:       filepath.Join(t.TempDir(), "vectors.db"),
		Dimensions: dims,
	}
	s, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func meta(projectID, name string) Metadata {
	return Metadata{Kind: "function", FilePath: "m.py", Name: name, ProjectID: projectID}
}

func TestStoreEmbeddingValidatesMetadata(t *testing.T) {
	s := openTestStore(t, 3)
	err := s.StoreEmbedding(context.Background(), "e1", []float32{1, 0, 0},
		Metadata{Kind: "function", FilePath: "m.py"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}

func TestStoreEmbeddingValidatesDimension(t *testing.T) {
	s := openTestStore(t, 3)
	err := s.StoreEmbedding(context.Background(), "e1", []float32{1, 0}, meta("P", "a"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}

func TestSemanticSearchRanksAndFilters(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.BatchStore(ctx, []Entry{
		{EntityID: "close", Vector: []float32{1, 0, 0}, Metadata: meta("P", "close")},
		{EntityID: "mid", Vector: []float32{1, 1, 0}, Metadata: meta("P", "mid")},
		{EntityID: "far", Vector: []float32{0, 0, 1}, Metadata: meta("P", "far")},
	}))

	hits, err := s.SemanticSearch(ctx, []float32{1, 0, 0}, []string{"P"}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "close", hits[0].EntityID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "mid", hits[1].EntityID)
}

func TestSemanticSearchMergesProjects(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.BatchStore(ctx, []Entry{
		{EntityID: "p1", Vector: []float32{1, 0, 0}, Metadata: meta("P1", "a")},
		{EntityID: "p2", Vector: []float32{1, 0.1, 0}, Metadata: meta("P2", "b")},
	}))

	hits, err := s.SemanticSearch(ctx, []float32{1, 0, 0}, []string{"P1", "P2"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].EntityID)
}

func TestSemanticSearchEmptyProjectIsNoRows(t *testing.T) {
	s := openTestStore(t, 3)
	hits, err := s.SemanticSearch(context.Background(), []float32{1, 0, 0}, []string{"missing"}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFindSimilarExcludesSelf(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.BatchStore(ctx, []Entry{
		{EntityID: "a", Vector: []float32{1, 0, 0}, Metadata: meta("P", "a")},
		{EntityID: "b", Vector: []float32{0.9, 0.1, 0}, Metadata: meta("P", "b")},
		{EntityID: "c", Vector: []float32{0, 1, 0}, Metadata: meta("P", "c")},
	}))

	hits, err := s.FindSimilar(ctx, "a", "P", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].EntityID)
	for _, hit := range hits {
		assert.NotEqual(t, "a", hit.EntityID)
	}
}

func TestFindSimilarMissingEntity(t *testing.T) {
	s := openTestStore(t, 3)
	_, err := s.FindSimilar(context.Background(), "ghost", "P", 3)
	assert.Equal(t, apperr.CodeEntityNotFound, apperr.CodeOf(err))
}

func TestBatchStoreUpserts(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.StoreEmbedding(ctx, "a", []float32{1, 0, 0}, meta("P", "a")))
	require.NoError(t, s.StoreEmbedding(ctx, "a", []float32{0, 1, 0}, meta("P", "a")))

	count, err := s.CountEmbeddings(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hits, err := s.SemanticSearch(ctx, []float32{0, 1, 0}, []string{"P"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestDeleteProjectIsIdempotent(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.StoreEmbedding(ctx, "a", []float32{1, 0, 0}, meta("P", "a")))
	deleted, err := s.DeleteProject(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = s.DeleteProject(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
