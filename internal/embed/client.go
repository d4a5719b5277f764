package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

// maxContentChars bounds the body text included in embedding content.
const maxContentChars = 500

// Client wraps a Provider with rate limiting and an overflow queue.
// Callers either wait for a token or get queued behind a single background
// drainer that resolves their pending result.
type Client struct {
	provider Provider
	bucket   *tokenBucket
	logger   *zap.Logger

	mu      sync.Mutex
	queue   chan *pendingRequest
	drainer sync.Once
	done    chan struct{}
	closed  bool
}

type pendingRequest struct {
	text   string
	task   Task
	result chan pendingResult
}

type pendingResult struct {
	vector []float32
	err    error
}

// NewClient creates a rate-limited embedding client.
func NewClient(provider Provider, ratePerMinute int, logger *zap.Logger) *Client {
	return &Client{
		provider: provider,
		bucket:   newTokenBucket(ratePerMinute),
		logger:   logger,
		queue:    make(chan *pendingRequest, 1024),
		done:     make(chan struct{}),
	}
}

// Generate produces a vector for the text. With wait=true the call blocks
// on the rate limiter; with wait=false it is queued for the background
// drainer and still blocks only on the result, never on the limiter itself.
func (c *Client) Generate(ctx context.Context, text string, task Task, wait bool) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "embedding input is empty")
	}

	if wait {
		if err := c.bucket.waitForToken(ctx); err != nil {
			return nil, apperr.Wrap(apperr.CodeEmbedding, "rate limit wait cancelled", err)
		}
		return c.callProvider(ctx, text, task)
	}

	if c.bucket.acquire(1) {
		return c.callProvider(ctx, text, task)
	}

	// Out of tokens and the caller refuses to wait: park the request on
	// the overflow queue.
	req := &pendingRequest{text: text, task: task, result: make(chan pendingResult, 1)}
	c.startDrainer()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperr.New(apperr.CodeEmbedding, "embedding client is shut down")
	}
	c.mu.Unlock()

	select {
	case c.queue <- req:
	default:
		return nil, apperr.New(apperr.CodeRateLimitExceeded, "embedding overflow queue is full")
	}

	// Close may have drained the queue between the check above and the
	// enqueue. Sweep again so the request is always resolved.
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.drainQueueCancelled()
	}

	select {
	case res := <-req.result:
		return res.vector, res.err
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.CodeEmbedding, "embedding cancelled", ctx.Err())
	}
}

// startDrainer lazily starts the single background drainer.
func (c *Client) startDrainer() {
	c.drainer.Do(func() {
		go func() {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-c.done
				cancel()
			}()
			for {
				select {
				case <-c.done:
					c.drainQueueCancelled()
					return
				case req := <-c.queue:
					if err := c.bucket.waitForToken(ctx); err != nil {
						req.result <- pendingResult{err: apperr.Wrap(apperr.CodeEmbedding, "embedding cancelled on shutdown", err)}
						continue
					}
					vector, err := c.callProvider(ctx, req.text, req.task)
					req.result <- pendingResult{vector: vector, err: err}
				}
			}
		}()
	})
}

// drainQueueCancelled resolves every parked request with a cancellation
// error on shutdown.
func (c *Client) drainQueueCancelled() {
	for {
		select {
		case req := <-c.queue:
			req.result <- pendingResult{err: apperr.New(apperr.CodeEmbedding, "embedding client shut down")}
		default:
			return
		}
	}
}

func (c *Client) callProvider(ctx context.Context, text string, task Task) ([]float32, error) {
	vector, err := c.provider.Embed(ctx, text, task)
	if err != nil {
		return nil, err
	}
	if want := c.provider.Dimensions(); want > 0 && len(vector) != want {
		return nil, apperr.Newf(apperr.CodeInvalidRequest,
			"provider returned %d dimensions, expected %d", len(vector), want)
	}
	return vector, nil
}

// GenerateForEntity formats an entity into embedding content per kind and
// generates its document vector.
func (c *Client) GenerateForEntity(ctx context.Context, entity model.Entity, wait bool) ([]float32, error) {
	return c.Generate(ctx, EntityContent(entity), TaskDocument, wait)
}

// BatchGenerate issues individual requests in chunks of batchSize, subject
// to rate limiting, aborting on the first failure.
func (c *Client) BatchGenerate(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, text := range texts[start:end] {
			vector, err := c.Generate(ctx, text, TaskDocument, true)
			if err != nil {
				return nil, fmt.Errorf("batch aborted at item %d: %w", len(out), err)
			}
			out = append(out, vector)
		}
	}
	return out, nil
}

// Available exposes the current token count.
func (c *Client) Available() int {
	return c.bucket.available()
}

// Dimensions returns the provider's output dimension.
func (c *Client) Dimensions() int {
	return c.provider.Dimensions()
}

// Close stops the drainer, cancels parked requests, and closes the
// provider.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	return c.provider.Close()
}

// EntityContent formats an entity for document embedding. Functions carry
// signature, docstring, and a bounded body slice; classes carry docstring
// and method names; everything else is kind-prefixed content.
func EntityContent(entity model.Entity) string {
	switch entity.Kind {
	case model.KindFunction:
		parts := []string{"Function: " + entity.Name}
		if entity.Signature != "" {
			parts = append(parts, "Signature: "+entity.Signature)
		}
		if entity.Docstring != "" {
			parts = append(parts, "Docstring: "+entity.Docstring)
		}
		if entity.Body != "" {
			parts = append(parts, "Body: "+truncate(entity.Body, maxContentChars))
		}
		return strings.Join(parts, "\n")
	case model.KindClass:
		parts := []string{"Class: " + entity.Name}
		if entity.Docstring != "" {
			parts = append(parts, "Docstring: "+entity.Docstring)
		}
		if methods := methodNames(entity); len(methods) > 0 {
			parts = append(parts, "Methods: "+strings.Join(methods, ", "))
		}
		return strings.Join(parts, "\n")
	default:
		content := fmt.Sprintf("%s: %s", titleKind(entity.Kind), entity.Name)
		if entity.Body != "" {
			content += "\nContent: " + truncate(entity.Body, maxContentChars)
		}
		return content
	}
}

// methodNames prefers the extractor's metadata and falls back to scanning
// the body for definition lines.
func methodNames(entity model.Entity) []string {
	if raw, ok := entity.Metadata["methods"]; ok {
		switch v := raw.(type) {
		case []string:
			return v
		case []any:
			var out []string
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	var out []string
	for _, line := range strings.Split(entity.Body, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "def "); ok {
			if idx := strings.IndexByte(name, '('); idx > 0 {
				out = append(out, name[:idx])
			}
		}
	}
	return out
}

func titleKind(kind model.EntityKind) string {
	if label := kind.Label(); label != "" {
		return label
	}
	return string(kind)
}

func truncate(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
