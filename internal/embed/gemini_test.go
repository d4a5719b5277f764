package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskTypeMapping(t *testing.T) {
	assert.Equal(t, "RETRIEVAL_QUERY", taskType(TaskQuery))
	assert.Equal(t, "RETRIEVAL_DOCUMENT", taskType(TaskDocument))
}
