// Package mock provides a scriptable in-memory stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"talkwise/pkg/provider/stt"
)

// Compile-time interface checks.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// Provider implements stt.Provider. Each StartStream call returns a fresh
// [Session] that the test drives via EmitPartial, EmitFinal, and End.
type Provider struct {
	// StartErr, when non-nil, is returned by every StartStream call.
	StartErr error

	mu       sync.Mutex
	attempts int
	sessions []*Session
	configs  []stt.StreamConfig
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := NewSession()
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	p.mu.Unlock()
	return s, nil
}

// StartCalls reports how many sessions have been opened.
func (p *Provider) StartCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// StartAttempts reports how many StartStream calls were made, failed ones
// included.
func (p *Provider) StartAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Session returns the i-th opened session, or nil if it does not exist.
func (p *Provider) Session(i int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.sessions) {
		return nil
	}
	return p.sessions[i]
}

// Config returns the StreamConfig the i-th session was opened with.
func (p *Provider) Config(i int) stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.configs) {
		return stt.StreamConfig{}
	}
	return p.configs[i]
}

// Session is a test-controlled stt.SessionHandle.
type Session struct {
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	audio  [][]byte
	err    error
	closed bool
}

// NewSession creates an open session with buffered result channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// EmitPartial delivers an interim transcript to the consumer.
func (s *Session) EmitPartial(text string) {
	s.partials <- stt.Transcript{Text: text}
}

// EmitFinal delivers a final transcript to the consumer.
func (s *Session) EmitFinal(text string) {
	s.finals <- stt.Transcript{Text: text, IsFinal: true}
}

// End terminates the session from the provider side with the given error
// (nil for a clean end). Both channels are closed.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.partials)
	close(s.finals)
}

// SentAudio returns every chunk passed to SendAudio, in order.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// SendAudio implements stt.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	dup := make([]byte, len(chunk))
	copy(dup, chunk)
	s.audio = append(s.audio, dup)
	return nil
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Err implements stt.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements stt.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	s.mu.Unlock()
	return nil
}
