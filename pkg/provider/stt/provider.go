// Package stt defines the Provider interface for speech-recognition backends.
//
// A provider wraps a streaming or batch transcription engine (Deepgram, a
// local whisper server, the OpenAI transcription API) behind one uniform
// session abstraction: once opened, a session accepts raw PCM audio and emits
// two streams of [Transcript] values — revisable interim results for live
// display and authoritative finals for the transcript log.
//
// Implementations must be safe for concurrent use. The Partials and Finals
// channels are closed by the implementation when the session ends; after that
// Err reports why.
package stt

import (
	"context"
	"errors"
)

// Session termination and capability errors. Providers wrap platform-specific
// failures into these sentinels so callers can classify them without knowing
// the backend.
var (
	// ErrPermissionDenied indicates the audio source or recognition service
	// refused access (bad credentials, denied capture permission). Fatal to
	// the session; restarting will not help.
	ErrPermissionDenied = errors.New("stt: permission denied")

	// ErrUnsupported indicates the recognition capability is not available in
	// this environment (no provider configured, unsupported platform).
	ErrUnsupported = errors.New("stt: speech recognition unsupported")

	// ErrNoSpeech indicates the session ended because no speech was detected.
	// Transient; a restart is expected to succeed.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrNetwork indicates the session was torn down by a network failure.
	// Transient; a restart is expected to succeed.
	ErrNetwork = errors.New("stt: network failure")

	// ErrAborted indicates the backend aborted the session on its own
	// (one-shot session lifetime, server-side idle timeout). Transient.
	ErrAborted = errors.New("stt: session aborted")

	// ErrSessionClosed is returned by SendAudio after Close.
	ErrSessionClosed = errors.New("stt: session closed")
)

// Transient reports whether err is one of the session errors that a restart
// is expected to recover from.
func Transient(err error) bool {
	return errors.Is(err, ErrNoSpeech) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrAborted)
}

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// providers; implementors may downmix internally).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "id-ID"). Empty lets the provider auto-detect where supported.
	Language string
}

// SessionHandle is an open recognition session.
//
// Callers must call Close when done; failing to do so may leak goroutines and
// connections inside the provider. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM to the
	// provider. Returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim (revisable) transcripts. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals emits authoritative transcripts the engine will not revise.
	// Closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended. It is valid only after both
	// channels are closed: nil for a clean Close, otherwise one of the
	// sentinel errors above (possibly wrapped).
	Err() error

	// Close terminates the session, flushes pending audio, and releases all
	// resources. Safe to call more than once; subsequent calls return nil.
	Close() error
}

// Provider is the abstraction over any speech-recognition backend.
type Provider interface {
	// StartStream opens a new recognition session. The returned handle is
	// ready to accept audio immediately. The caller owns the handle and must
	// call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
