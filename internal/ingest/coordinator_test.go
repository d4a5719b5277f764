package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/config"
	"github.com/codeatlas/atlas/internal/embed"
	"github.com/codeatlas/atlas/internal/graphstore"
	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/vectorstore"
)

type stubProvider struct {
	dims  int
	fail  map[string]bool
	calls int
}

func (p *stubProvider) Embed(ctx context.Context, text string, task embed.Task) ([]float32, error) {
	p.calls++
	if p.fail[text] {
		return nil, apperr.New(apperr.CodeEmbedding, "provider rejected input")
	}
	v := make([]float32, p.dims)
	for i := range v {
		v[i] = float32(len(text)%7) + float32(i)
	}
	return v, nil
}

func (p *stubProvider) Dimensions() int { return p.dims }
func (p *stubProvider) Name() string    { return "stub" }
func (p *stubProvider) Close() error    { return nil }

type testHarness struct {
	coord    *Coordinator
	graph    *graphstore.Store
	vectors  *vectorstore.Store
	sessions *SessionStore
	provider *stubProvider
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{}
	cfg.Upload.MaxUploadFiles = 100
	cfg.Upload.MaxFilesPerProject = 100
	cfg.Upload.MaxFileSizeMB = 1
	cfg.Embedding.BatchSize = 2
	cfg.Embedding.Dimensions = 4

	graph, err := graphstore.Open(config.StorageConfig{
		Backend:        "sqlite",
		Path:           filepath.Join(dir, "graph.db"),
		QueryTimeoutMS: 5000,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	vectors, err := vectorstore.Open(config.VectorConfig{
		Path:       filepath.Join(dir, "vectors.db"),
		Dimensions: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	provider := &stubProvider{dims: 4, fail: map[string]bool{}}
	client := embed.NewClient(provider, 6000, logger)
	t.Cleanup(func() { client.Close() })

	sessions, err := NewSessionStore(filepath.Join(dir, "sessions"))
	require.NoError(t, err)

	coord := NewCoordinator(cfg, graph, vectors, client, sessions, nil, nil, logger)
	return &testHarness{coord: coord, graph: graph, vectors: vectors, sessions: sessions, provider: provider}
}

const mainPy = `import os

def helper():
    return os.getpid()

def main():
    return helper()
`

func TestUploadProjectValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.UploadProject(ctx, "  ", []model.SourceFile{{Path: "a.py", Content: "x = 1\n"}}, "u1")
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))

	_, err = h.coord.UploadProject(ctx, "demo", nil, "u1")
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))

	big := make([]byte, 2*1024*1024)
	_, err = h.coord.UploadProject(ctx, "demo",
		[]model.SourceFile{{Path: "big.py", Content: string(big)}}, "u1")
	assert.Equal(t, apperr.CodeFileSizeExceeded, apperr.CodeOf(err))
}

func TestProcessProjectCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	projectID := NewProjectID()
	session, err := h.sessions.Create(projectID, 1)
	require.NoError(t, err)

	h.coord.ProcessProject(ctx, Job{
		SessionID: session.SessionID,
		ProjectID: projectID,
		Name:      "demo",
		OwnerID:   "u1",
		Files:     []model.SourceFile{{Path: "main.py", Content: mainPy}},
	})

	got, err := h.sessions.Get(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	assert.InDelta(t, 1.0, got.Progress, 1e-9)
	assert.Equal(t, 1, got.FilesProcessed)

	// One file entity, the os import, and two functions.
	require.NotNil(t, got.Statistics)
	assert.EqualValues(t, 1, got.Statistics["file_count"])
	assert.EqualValues(t, 4, got.Statistics["entity_count"])
	assert.EqualValues(t, 4, got.Statistics["embedding_count"])
	assert.EqualValues(t, 0, got.Statistics["error_count"])

	project, err := h.graph.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 4, project.EntityCount)

	count, err := h.vectors.CountEmbeddings(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestProcessProjectSkipsFailedEmbeddings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Reject the file entity's content; the functions still embed.
	h.provider.fail[embed.EntityContent(model.Entity{
		Kind: model.KindFile, Name: "main.py", Body: "",
	})] = true

	projectID := NewProjectID()
	session, err := h.sessions.Create(projectID, 1)
	require.NoError(t, err)

	h.coord.ProcessProject(ctx, Job{
		SessionID: session.SessionID,
		ProjectID: projectID,
		Name:      "demo",
		Files:     []model.SourceFile{{Path: "main.py", Content: mainPy}},
	})

	got, err := h.sessions.Get(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	assert.EqualValues(t, 3, got.Statistics["embedding_count"])
	assert.EqualValues(t, 1, got.Statistics["error_count"])
}

func TestProcessProjectGraphFailureMarksSessionFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	projectID := NewProjectID()
	// Pre-create the project so the atomic write collides.
	_, err := h.graph.CreateProject(ctx, model.Project{ID: projectID, Name: "existing"}, nil, nil)
	require.NoError(t, err)

	session, err := h.sessions.Create(projectID, 1)
	require.NoError(t, err)

	h.coord.ProcessProject(ctx, Job{
		SessionID: session.SessionID,
		ProjectID: projectID,
		Name:      "demo",
		Files:     []model.SourceFile{{Path: "main.py", Content: mainPy}},
	})

	got, err := h.sessions.Get(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionFailed, got.Status)
	require.NotEmpty(t, got.Errors)
	assert.Contains(t, got.Errors[len(got.Errors)-1], "graph write")
}

func TestUploadProjectRunsInProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.coord.UploadProject(ctx, "demo",
		[]model.SourceFile{{Path: "main.py", Content: mainPy}}, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionPending, session.Status)

	require.Eventually(t, func() bool {
		got, err := h.sessions.Get(session.SessionID)
		return err == nil && got.Status == model.SessionCompleted
	}, 10*time.Second, 20*time.Millisecond)
}

func TestDeleteProjectCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	projectID := NewProjectID()
	session, err := h.sessions.Create(projectID, 1)
	require.NoError(t, err)
	h.coord.ProcessProject(ctx, Job{
		SessionID: session.SessionID,
		ProjectID: projectID,
		Name:      "demo",
		Files:     []model.SourceFile{{Path: "main.py", Content: mainPy}},
	})

	require.NoError(t, h.coord.DeleteProject(ctx, projectID))

	_, err = h.graph.GetProject(ctx, projectID)
	assert.Equal(t, apperr.CodeProjectNotFound, apperr.CodeOf(err))
	count, err := h.vectors.CountEmbeddings(ctx, projectID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUploadFromSourceControlRejectsBadURL(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.UploadFromSourceControl(context.Background(), "demo",
		"http://github.com/o/r", "u1", "")
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}
