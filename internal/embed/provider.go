// Package embed produces fixed-dimension vectors for code entities and
// search queries, with token-bucket rate limiting and an overflow queue for
// callers that opt out of waiting.
package embed

import "context"

// Task selects the embedding task kind.
type Task string

const (
	// TaskDocument embeds stored code for retrieval.
	TaskDocument Task = "RETRIEVAL_DOCUMENT"
	// TaskQuery embeds search input.
	TaskQuery Task = "RETRIEVAL_QUERY"
)

// Provider is one embedding backend.
type Provider interface {
	Embed(ctx context.Context, text string, task Task) ([]float32, error)
	Dimensions() int
	Name() string
	Close() error
}
