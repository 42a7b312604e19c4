// Package mock provides a scriptable in-memory llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"talkwise/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider. Responses are served from the Responses
// queue in order; once exhausted, the last one repeats. Err, when set, is
// returned by every call instead.
type Provider struct {
	// Responses is the queue of completion texts to serve.
	Responses []string

	// Err, when non-nil, is returned by every Complete call.
	Err error

	mu       sync.Mutex
	requests []llm.CompletionRequest
	served   int
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.Err != nil {
		return nil, p.Err
	}

	content := ""
	if len(p.Responses) > 0 {
		i := p.served
		if i >= len(p.Responses) {
			i = len(p.Responses) - 1
		}
		content = p.Responses[i]
		p.served++
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// Calls reports how many Complete calls have been made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Request returns the i-th recorded request, or a zero value if it does not
// exist.
func (p *Provider) Request(i int) llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.requests) {
		return llm.CompletionRequest{}
	}
	return p.requests[i]
}
