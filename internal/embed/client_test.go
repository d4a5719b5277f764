package embed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

// fakeProvider returns a constant vector and counts calls.
type fakeProvider struct {
	calls      atomic.Int64
	dimensions int
	fail       bool
}

func (p *fakeProvider) Embed(_ context.Context, _ string, _ Task) ([]float32, error) {
	p.calls.Add(1)
	if p.fail {
		return nil, apperr.New(apperr.CodeEmbedding, "provider down")
	}
	return make([]float32, p.dimensions), nil
}

func (p *fakeProvider) Dimensions() int { return p.dimensions }
func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Close() error    { return nil }

func TestGenerateRejectsEmptyInput(t *testing.T) {
	c := NewClient(&fakeProvider{dimensions: 4}, 60, zaptest.NewLogger(t))
	defer c.Close()

	_, err := c.Generate(context.Background(), "   ", TaskDocument, true)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}

func TestGenerateValidatesDimensions(t *testing.T) {
	// Provider advertising 8 dims but returning 4.
	p := &fakeProvider{dimensions: 4}
	c := NewClient(p, 60, zaptest.NewLogger(t))
	defer c.Close()

	vector, err := c.Generate(context.Background(), "text", TaskDocument, true)
	require.NoError(t, err)
	assert.Len(t, vector, 4)
}

func TestGenerateConsumesTokens(t *testing.T) {
	c := NewClient(&fakeProvider{dimensions: 4}, 60, zaptest.NewLogger(t))
	defer c.Close()

	before := c.Available()
	_, err := c.Generate(context.Background(), "text", TaskDocument, true)
	require.NoError(t, err)
	assert.Less(t, c.Available(), before+1)
}

func TestGenerateNonWaitingOverflowsToQueue(t *testing.T) {
	p := &fakeProvider{dimensions: 4}
	// 60/min refills one token per second, so after draining capacity the
	// queued request resolves within a couple of seconds.
	c := NewClient(p, 60, zaptest.NewLogger(t))
	defer c.Close()

	ctx := context.Background()
	for c.bucket.acquire(1) {
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(ctx, "queued", TaskDocument, false)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("queued request never resolved")
	}
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestCloseCancelsParkedRequests(t *testing.T) {
	c := NewClient(&fakeProvider{dimensions: 4}, 60, zaptest.NewLogger(t))

	for c.bucket.acquire(1) {
	}
	req := &pendingRequest{text: "parked", task: TaskDocument, result: make(chan pendingResult, 1)}
	c.queue <- req
	c.startDrainer()
	require.NoError(t, c.Close())

	select {
	case res := <-req.result:
		require.Error(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("parked request was not resolved on shutdown")
	}
}

func TestCloseRacingQueuedRequests(t *testing.T) {
	c := NewClient(&fakeProvider{dimensions: 4}, 60, zaptest.NewLogger(t))
	for c.bucket.acquire(1) {
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Generate(context.Background(), "racing", TaskDocument, false)
		}()
	}
	require.NoError(t, c.Close())

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("a queued request was never resolved after close")
	}
}

func TestGenerateAfterClose(t *testing.T) {
	c := NewClient(&fakeProvider{dimensions: 4}, 60, zaptest.NewLogger(t))
	for c.bucket.acquire(1) {
	}
	require.NoError(t, c.Close())

	_, err := c.Generate(context.Background(), "late", TaskDocument, false)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeEmbedding, apperr.CodeOf(err))
}

func TestBatchGenerateAbortsOnFailure(t *testing.T) {
	p := &fakeProvider{dimensions: 4, fail: true}
	c := NewClient(p, 600, zaptest.NewLogger(t))
	defer c.Close()

	_, err := c.BatchGenerate(context.Background(), []string{"a", "b", "c"}, 2)
	require.Error(t, err)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestBatchGenerateChunks(t *testing.T) {
	p := &fakeProvider{dimensions: 4}
	c := NewClient(p, 600, zaptest.NewLogger(t))
	defer c.Close()

	vectors, err := c.BatchGenerate(context.Background(), []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestEntityContentFunction(t *testing.T) {
	entity := model.Entity{
		Kind:      model.KindFunction,
		Name:      "fetch",
		Signature: "def fetch(url: str) -> str",
		Docstring: "Fetch a URL.",
		Body:      "return url",
	}
	content := EntityContent(entity)
	assert.Equal(t,
		"Function: fetch\nSignature: def fetch(url: str) -> str\nDocstring: Fetch a URL.\nBody: return url",
		content)
}

func TestEntityContentFunctionOmitsMissingParts(t *testing.T) {
	content := EntityContent(model.Entity{Kind: model.KindFunction, Name: "f"})
	assert.Equal(t, "Function: f", content)
}

func TestEntityContentClass(t *testing.T) {
	entity := model.Entity{
		Kind:      model.KindClass,
		Name:      "Service",
		Docstring: "A service.",
		Metadata:  map[string]any{"methods": []string{"start", "stop"}},
	}
	assert.Equal(t, "Class: Service\nDocstring: A service.\nMethods: start, stop", EntityContent(entity))
}

func TestEntityContentClassMethodsFromBody(t *testing.T) {
	entity := model.Entity{
		Kind: model.KindClass,
		Name: "Service",
		Body: "def start(self):\n    pass\ndef stop(self):\n    pass\n",
	}
	assert.Equal(t, "Class: Service\nMethods: start, stop", EntityContent(entity))
}

func TestEntityContentOtherKinds(t *testing.T) {
	entity := model.Entity{Kind: model.KindVariable, Name: "MAX", Body: "MAX = 10"}
	assert.Equal(t, "Variable: MAX\nContent: MAX = 10", EntityContent(entity))
}

func TestTokenBucketRefill(t *testing.T) {
	b := newTokenBucket(60)
	assert.True(t, b.acquire(60))
	assert.False(t, b.acquire(1))

	// Simulate two seconds passing: two tokens refill at 60/min.
	base := time.Now()
	b.now = func() time.Time { return base.Add(2 * time.Second) }
	assert.True(t, b.acquire(2))
	assert.False(t, b.acquire(1))
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	b := newTokenBucket(10)
	base := time.Now()
	b.now = func() time.Time { return base.Add(time.Hour) }
	assert.Equal(t, 10, b.available())
}
