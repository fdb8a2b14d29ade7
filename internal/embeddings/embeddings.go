// Package embeddings talks to an Ollama-compatible embedding endpoint
// and caches vectors in Redis, keyed by a hash of the input text
// (spec.md §4.11).
package embeddings

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/rediscache"
)

const (
	// Dimension is the fixed vector size for the deployed model
	// (nomic-embed-text).
	Dimension = 768

	cacheTTL       = 0 // cached vectors are immutable once written; never expire
	cacheKeyPrefix = "embedding:"

	defaultModel     = "nomic-embed-text"
	defaultBatchSize = 32
)

// Config configures Client's upstream endpoint and batching.
type Config struct {
	Host      string
	Port      string
	Model     string
	BatchSize int
}

// Client computes and caches text embeddings.
type Client struct {
	baseURL   string
	model     string
	batchSize int
	http      *http.Client
	cache     rediscache.Client
	logger    *logging.Logger
}

// New builds a Client. BatchSize and Model fall back to their spec
// defaults when unset.
func New(cfg Config, cache rediscache.Client, logger *logging.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &Client{
		baseURL:   fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port),
		model:     model,
		batchSize: batchSize,
		http:      &http.Client{Timeout: 30 * time.Second},
		cache:     cache,
		logger:    logger.Named("embeddings"),
	}
}

// CacheKey hashes input the way every cache lookup/write does.
func CacheKey(input string) string {
	sum := sha256.Sum256([]byte(input))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns input's vector, serving from the Redis cache when
// present and requesting from Ollama on a miss.
func (c *Client) Embed(ctx context.Context, input string) ([]float64, error) {
	key := CacheKey(input)

	if cached, err := c.cache.Get(ctx, key); err == nil {
		var vec []float64
		if jsonErr := json.Unmarshal([]byte(cached), &vec); jsonErr == nil {
			return vec, nil
		}
	} else if !rediscache.IsNotFound(err) {
		c.logger.Warn("embedding cache read failed", zap.Error(err))
	}

	vec, err := c.request(ctx, input)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(vec); jsonErr == nil {
		if err := c.cache.Set(ctx, key, raw, cacheTTL); err != nil {
			c.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}

	return vec, nil
}

// EmbedBatch embeds every input. Cache misses are walked in chunks of
// c.batchSize, but each input is still sent to the upstream service as
// its own request; inputs are not combined into one request. Cache hits
// never touch the network.
func (c *Client) EmbedBatch(ctx context.Context, inputs []string) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	var misses []int

	for i, input := range inputs {
		key := CacheKey(input)
		cached, err := c.cache.Get(ctx, key)
		if err != nil {
			misses = append(misses, i)
			continue
		}
		var vec []float64
		if jsonErr := json.Unmarshal([]byte(cached), &vec); jsonErr != nil {
			misses = append(misses, i)
			continue
		}
		out[i] = vec
	}

	for start := 0; start < len(misses); start += c.batchSize {
		end := start + c.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		for _, idx := range misses[start:end] {
			vec, err := c.request(ctx, inputs[idx])
			if err != nil {
				return nil, fmt.Errorf("embed batch item %d: %w", idx, err)
			}
			out[idx] = vec

			if raw, jsonErr := json.Marshal(vec); jsonErr == nil {
				if err := c.cache.Set(ctx, CacheKey(inputs[idx]), raw, cacheTTL); err != nil {
					c.logger.Warn("embedding cache write failed", zap.Error(err))
				}
			}
		}
	}

	return out, nil
}

func (c *Client) request(ctx context.Context, input string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return parsed.Embedding, nil
}
