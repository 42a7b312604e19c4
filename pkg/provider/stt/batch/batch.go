// Package batch adapts one-shot transcription engines to the streaming
// [stt.SessionHandle] contract.
//
// A batch engine transcribes one complete audio clip per call. Session
// simulates streaming on top of that: it buffers incoming PCM, segments
// utterances with an energy-based silence detector, and hands each completed
// utterance to the engine's transcribe function. Each utterance is emitted
// once on Partials (for UI liveness) and once on Finals.
package batch

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"talkwise/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the signed little-endian PCM audio
	// every engine in this module consumes.
	bitsPerSample = 16

	// DefaultRMSThreshold is the root-mean-square level (in 16-bit PCM units)
	// below which audio counts as silence. 300 of 32767 is near-silence.
	DefaultRMSThreshold = 300.0

	// DefaultSilenceThresholdMs is the consecutive-silence duration that
	// triggers a flush of the accumulated speech buffer.
	DefaultSilenceThresholdMs = 500

	// DefaultMaxBufferMs caps how much audio may accumulate before a flush is
	// forced regardless of silence.
	DefaultMaxBufferMs = 10_000
)

// TranscribeFunc submits one utterance of raw 16-bit little-endian PCM to the
// engine and returns the recognized text. Errors should wrap the stt sentinel
// errors where they can be classified.
type TranscribeFunc func(ctx context.Context, pcm []byte) (string, error)

// Config describes the audio format and segmentation tuning for a [Session].
// Zero values fall back to the package defaults.
type Config struct {
	SampleRate         int
	Channels           int
	SilenceThresholdMs int
	MaxBufferMs        int
	RMSThreshold       float64
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.SilenceThresholdMs <= 0 {
		c.SilenceThresholdMs = DefaultSilenceThresholdMs
	}
	if c.MaxBufferMs <= 0 {
		c.MaxBufferMs = DefaultMaxBufferMs
	}
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = DefaultRMSThreshold
	}
	return c
}

var _ stt.SessionHandle = (*Session)(nil)

// Session implements stt.SessionHandle on top of a [TranscribeFunc].
type Session struct {
	cfg        Config
	transcribe TranscribeFunc

	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte
	done     chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
	err    error

	started time.Time
}

// NewSession starts a session that segments audio and transcribes each
// utterance via fn. ctx bounds the lifetime of the background goroutine.
func NewSession(ctx context.Context, cfg Config, fn TranscribeFunc) *Session {
	s := &Session{
		cfg:        cfg.withDefaults(),
		transcribe: fn,
		partials:   make(chan stt.Transcript, 16),
		finals:     make(chan stt.Transcript, 16),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s
}

// SendAudio implements stt.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return stt.ErrSessionClosed
	}
	dup := make([]byte, len(chunk))
	copy(dup, chunk)
	select {
	case s.audio <- dup:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
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

// Close implements stt.SessionHandle. The first call flushes any buffered
// speech before the channels close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

// run buffers audio, detects utterance boundaries by consecutive silence, and
// flushes each utterance to the engine.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	s.started = time.Now()

	var (
		speech    []byte // accumulated utterance audio
		silenceMs int    // consecutive silence observed after speech
	)

	bytesPerMs := s.cfg.SampleRate * s.cfg.Channels * (bitsPerSample / 8) / 1000
	maxBufferBytes := s.cfg.MaxBufferMs * bytesPerMs

	flush := func() {
		if len(speech) == 0 {
			return
		}
		s.emit(ctx, speech)
		speech = nil
		silenceMs = 0
	}

	for {
		select {
		case <-ctx.Done():
			s.setErr(fmt.Errorf("%w: %w", stt.ErrAborted, ctx.Err()))
			return
		case <-s.done:
			flush()
			return
		case chunk := <-s.audio:
			chunkMs := 0
			if bytesPerMs > 0 {
				chunkMs = len(chunk) / bytesPerMs
			}
			if RMS(chunk) < s.cfg.RMSThreshold {
				if len(speech) == 0 {
					continue // leading silence, nothing to commit
				}
				silenceMs += chunkMs
				speech = append(speech, chunk...)
				if silenceMs >= s.cfg.SilenceThresholdMs {
					flush()
				}
				continue
			}
			silenceMs = 0
			speech = append(speech, chunk...)
			if len(speech) >= maxBufferBytes {
				flush()
			}
		}
	}
}

// emit transcribes one utterance and delivers the result.
func (s *Session) emit(ctx context.Context, pcm []byte) {
	text, err := s.transcribe(ctx, pcm)
	if err != nil {
		s.setErr(err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	tr := stt.Transcript{
		Text:      text,
		Timestamp: time.Since(s.started),
		Duration:  time.Duration(len(pcm)/(s.cfg.SampleRate*s.cfg.Channels*2/1000)) * time.Millisecond,
	}
	// Batch engine: partial and final carry the same text.
	select {
	case s.partials <- tr:
	default:
	}
	tr.IsFinal = true
	select {
	case s.finals <- tr:
	case <-ctx.Done():
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// WAV wraps raw 16-bit PCM in a minimal RIFF/WAVE header.
func WAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := make([]byte, 0, 44+len(pcm))
	w := bytes.NewBuffer(buf)

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+len(pcm)))
	w.WriteString("WAVE")
	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(channels))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(byteRate))
	binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w, binary.LittleEndian, uint16(bitsPerSample))
	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(len(pcm)))
	w.Write(pcm)

	return w.Bytes()
}

// RMS computes the root-mean-square amplitude of 16-bit little-endian PCM.
func RMS(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(n))
}
