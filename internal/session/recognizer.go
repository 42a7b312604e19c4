// Package session runs recording sessions: capturing audio, streaming it to
// a speech recognizer, folding results into the live transcript, and
// archiving the finished recording.
//
// One recording is active at a time. The [Recognizer] keeps speech
// recognition alive across engine restarts (network blips, one-shot session
// lifetimes) without user intervention; only a permission failure ends the
// recording early. The [Manager] owns the recording lifecycle and tears its
// pieces down in reverse start order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"talkwise/internal/observe"
	"talkwise/internal/resilience"
	"talkwise/internal/transcript"
	"talkwise/pkg/audio"
	"talkwise/pkg/provider/stt"
)

// defaultRestartDelay is the pause before reopening a recognition session
// that ended on its own.
const defaultRestartDelay = 300 * time.Millisecond

// startPolicy bounds retries when opening a recognition session fails
// outright (as opposed to a session ending after it was up).
var startPolicy = resilience.Policy{MaxAttempts: 3, Backoff: 200 * time.Millisecond}

// Recognizer streams audio frames into an [stt.Provider] and folds the
// results into a [transcript.Accumulator].
//
// Recognition engines end sessions on their own: networks drop, batch
// engines close after each utterance, cloud endpoints idle out. The
// recognizer reopens the session whenever that happens and keeps feeding it,
// so a multi-hour recording survives any number of engine restarts. Pending
// interim text is discarded on every restart; committed text is never lost,
// and the accumulator's replay guard keeps a re-delivered final from being
// committed twice.
type Recognizer struct {
	provider     stt.Provider
	providerName string
	cfg          stt.StreamConfig
	acc          *transcript.Accumulator
	metrics      *observe.Metrics

	restartDelay time.Duration
}

// RecognizerConfig configures a [Recognizer].
type RecognizerConfig struct {
	// Provider is the speech recognition backend.
	Provider stt.Provider

	// ProviderName labels provider metrics, e.g. "deepgram". Empty is
	// recorded as "unknown".
	ProviderName string

	// Stream is the audio format and language passed to the provider.
	Stream stt.StreamConfig

	// Accumulator receives every recognition result.
	Accumulator *transcript.Accumulator

	// Metrics records restarts and provider calls. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// RestartDelay is the pause before reopening an ended session.
	// Defaults to 300 ms.
	RestartDelay time.Duration
}

// NewRecognizer creates a Recognizer with the given configuration.
func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	delay := cfg.RestartDelay
	if delay <= 0 {
		delay = defaultRestartDelay
	}
	name := cfg.ProviderName
	if name == "" {
		name = "unknown"
	}
	return &Recognizer{
		provider:     cfg.Provider,
		providerName: name,
		cfg:          cfg.Stream,
		acc:          cfg.Accumulator,
		metrics:      m,
		restartDelay: delay,
	}
}

// Run consumes frames until the channel is closed or ctx is cancelled,
// restarting the recognition session as needed.
//
// It returns nil when frames is closed (the recording ended normally) and an
// error only for failures a restart cannot fix: [stt.ErrPermissionDenied],
// repeated failure to open a session, or context cancellation.
func (r *Recognizer) Run(ctx context.Context, frames <-chan audio.Frame) error {
	for {
		handle, err := r.start(ctx)
		if err != nil {
			return err
		}

		done, sessionErr := r.pump(ctx, handle, frames)
		if done {
			return sessionErr
		}

		// The engine ended the session on its own; whatever it had not
		// finalized is gone.
		r.acc.DiscardInterim()

		if errors.Is(sessionErr, stt.ErrPermissionDenied) {
			return fmt.Errorf("session: recognition: %w", sessionErr)
		}

		reason := restartReason(sessionErr)
		r.metrics.RecordRecognitionRestart(ctx, reason)
		if stt.Transient(sessionErr) {
			slog.Debug("recognition session restarting", "reason", reason, "error", sessionErr)
		} else {
			slog.Warn("recognition session ended unexpectedly, restarting",
				"reason", reason, "error", sessionErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.restartDelay):
		}
	}
}

// start opens a recognition session, retrying transient failures.
func (r *Recognizer) start(ctx context.Context) (stt.SessionHandle, error) {
	var handle stt.SessionHandle
	err := resilience.Do(ctx, startPolicy, func(ctx context.Context) error {
		var err error
		handle, err = r.provider.StartStream(ctx, r.cfg)
		r.metrics.RecordProviderRequest(ctx, r.providerName, "stt", requestStatus(err))
		if err != nil {
			r.metrics.RecordProviderError(ctx, r.providerName, "stt")
		}
		if errors.Is(err, stt.ErrPermissionDenied) || errors.Is(err, stt.ErrUnsupported) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("session: open recognition session: %w", err)
	}
	return handle, nil
}

// pump feeds frames into handle and routes its transcripts to the
// accumulator. It returns done=true when the recording is over (frames
// closed or ctx cancelled) and done=false when the engine ended the session,
// in which case the error is the session's termination cause.
func (r *Recognizer) pump(ctx context.Context, handle stt.SessionHandle, frames <-chan audio.Frame) (done bool, err error) {
	partials := handle.Partials()
	finals := handle.Finals()

	for {
		select {
		case <-ctx.Done():
			handle.Close()
			r.drain(partials, finals)
			return true, ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				// Recording stopped. Close flushes buffered audio in batch
				// engines, which may still produce a final result.
				handle.Close()
				r.drain(partials, finals)
				return true, nil
			}
			if err := handle.SendAudio(frame.Data); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
				slog.Warn("recognition send failed", "error", err)
			}

		case t, ok := <-partials:
			if !ok {
				partials = nil
				if finals == nil {
					return false, handle.Err()
				}
				continue
			}
			r.acc.Apply(transcript.Fragment{Text: t.Text})

		case t, ok := <-finals:
			if !ok {
				finals = nil
				if partials == nil {
					return false, handle.Err()
				}
				continue
			}
			r.acc.Apply(transcript.Fragment{Text: t.Text, IsFinal: true})
		}
	}
}

// drain applies every result still buffered on a closing session. Batch
// engines flush their last utterance only on Close, so this is where the
// tail of the recording lands.
func (r *Recognizer) drain(partials, finals <-chan stt.Transcript) {
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r.acc.Apply(transcript.Fragment{Text: t.Text})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			r.acc.Apply(transcript.Fragment{Text: t.Text, IsFinal: true})
		}
	}
	r.acc.DiscardInterim()
}

// requestStatus maps a provider call outcome to a metrics status label.
func requestStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// restartReason maps a session termination error to a metrics label.
func restartReason(err error) string {
	switch {
	case errors.Is(err, stt.ErrNetwork):
		return "network"
	case errors.Is(err, stt.ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, stt.ErrAborted):
		return "aborted"
	default:
		return "unknown"
	}
}
