package retrieval

import (
	"context"
	"sync"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/embedding"
	"golang.org/x/time/rate"
)

// EmbedCache is a content-hash-keyed, write-through cache in front of
// an embedding.EmbeddingProvider, per spec §4.C stage 5.
type EmbedCache struct {
	provider embedding.EmbeddingProvider
	mu       sync.RWMutex
	byHash   map[string][]float32
	limiter  *rate.Limiter // nil disables throttling
}

func NewEmbedCache(provider embedding.EmbeddingProvider) *EmbedCache {
	return &EmbedCache{provider: provider, byHash: make(map[string][]float32)}
}

// WithRateLimit throttles outbound embedding calls to textsPerMinute
// cache-missed texts per minute, bursting up to burst texts in one
// call. Mirrors the teacher's tokens-per-minute provider-client
// limiter (middleware.AdaptiveRateLimiter), scaled down to a fixed
// budget since embedding batches don't carry a retryable 429 signal
// to adapt against.
func (c *EmbedCache) WithRateLimit(textsPerMinute float64, burst int) *EmbedCache {
	c.limiter = rate.NewLimiter(rate.Limit(textsPerMinute/60.0), burst)
	return c
}

// EmbedBatch resolves vectors for texts, keyed by their content hash.
// Cache misses are embedded in one batched provider call, throttled by
// the configured rate limit if one is set; successes are written
// through to the cache before returning.
func (c *EmbedCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.RLock()
	for i, t := range texts {
		h := ContentHash(t)
		hashes[i] = h
		if v, ok := c.byHash[h]; ok {
			out[i] = v
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	}
	c.mu.RUnlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	if c.limiter != nil {
		if err := c.limiter.WaitN(ctx, len(missTexts)); err != nil {
			return nil, corekind.Wrap(corekind.Cancelled, "embed rate limit wait", err)
		}
	}

	result, err := c.provider.Embed(embedding.EmbedRequest{Texts: missTexts})
	if err != nil {
		return nil, corekind.Wrap(corekind.ProviderError, "embed batch", err)
	}
	if len(result.Embeddings) != len(missTexts) {
		return nil, corekind.Newf(corekind.ProviderError, "embedding provider returned %d vectors for %d inputs", len(result.Embeddings), len(missTexts))
	}

	c.mu.Lock()
	for j, emb := range result.Embeddings {
		v := toFloat32(emb.Vector)
		idx := missIdx[j]
		out[idx] = v
		c.byHash[hashes[idx]] = v
	}
	c.mu.Unlock()
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
