// Package mock provides a deterministic in-memory embeddings.Provider for
// tests.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"talkwise/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with deterministic pseudo-vectors
// derived from the input text, so identical texts always produce identical
// embeddings.
type Provider struct {
	// Dim is the vector dimensionality. Zero defaults to 8.
	Dim int

	// Err, when non-nil, is returned by every Embed/EmbedBatch call.
	Err error

	mu    sync.Mutex
	calls []string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls = append(p.calls, text)
	p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dim <= 0 {
		return 8
	}
	return p.Dim
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embeddings" }

// Calls returns every text passed to Embed, in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// vector derives a unit-ish pseudo-embedding from the FNV hash of text.
func (p *Provider) vector(text string) []float32 {
	dim := p.Dimensions()
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	out := make([]float32, dim)
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		out[i] = float32(int64(seed>>32)) / float32(1<<31)
	}
	return out
}
