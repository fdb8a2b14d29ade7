package embeddings

import (
	"testing"

	"github.com/govindex/engine/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestCacheKeyIsStableAndContentAddressed(t *testing.T) {
	a := CacheKey("hello world")
	b := CacheKey("hello world")
	c := CacheKey("hello world!")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, cacheKeyPrefix)
}

func TestNewAppliesDefaultsForEmptyConfig(t *testing.T) {
	c := New(Config{Host: "localhost", Port: "11434"}, nil, logging.New("error", "console"))

	assert.Equal(t, defaultModel, c.model)
	assert.Equal(t, defaultBatchSize, c.batchSize)
	assert.Equal(t, "http://localhost:11434", c.baseURL)
}

func TestNewHonorsExplicitConfig(t *testing.T) {
	c := New(Config{Host: "ollama.internal", Port: "9999", Model: "custom-embed", BatchSize: 8}, nil, logging.New("error", "console"))

	assert.Equal(t, "custom-embed", c.model)
	assert.Equal(t, 8, c.batchSize)
	assert.Equal(t, "http://ollama.internal:9999", c.baseURL)
}
