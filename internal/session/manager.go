package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"talkwise/internal/history"
	"talkwise/internal/observe"
	"talkwise/internal/transcript"
	"talkwise/pkg/audio"
	"talkwise/pkg/provider/stt"
)

// Lifecycle errors.
var (
	// ErrSessionActive is returned by Start while a recording is running.
	ErrSessionActive = errors.New("session: recording already in progress")

	// ErrNoSession is returned by Stop when nothing is recording.
	ErrNoSession = errors.New("session: no recording in progress")
)

// State is the recording lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// Info describes the current recording.
type Info struct {
	// State is the lifecycle state.
	State State

	// Source is the audio source of the active recording.
	Source audio.Source

	// Language is the recognition language, empty for auto-detect.
	Language string

	// StartedAt is when the recording began. Zero when idle.
	StartedAt time.Time

	// LastError is the most recent fatal recognition error, cleared on the
	// next Start.
	LastError string
}

// StartConfig describes one recording.
type StartConfig struct {
	// Source selects mic, system, or mixed capture.
	Source audio.Source

	// DeviceID is the preferred microphone device.
	DeviceID string

	// Language is the BCP-47 recognition language, empty for auto-detect.
	Language string

	// SampleRate in Hz. Defaults to [audio.DefaultSampleRate].
	SampleRate int

	// MicGain scales microphone samples for mixed capture. Zero means 1.0.
	MicGain float64

	// SliceInterval is the duration of each captured audio frame. Defaults
	// to [audio.DefaultSliceInterval].
	SliceInterval time.Duration
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Audio captures host audio.
	Audio *audio.Manager

	// STT is the speech recognition backend.
	STT stt.Provider

	// STTName labels provider metrics, e.g. "deepgram". May be empty.
	STTName string

	// History archives finished recordings. May be nil (nothing persisted).
	History history.Store

	// Transcript is the live transcript store. Must not be nil.
	Transcript *transcript.Store

	// OnUpdate, when non-nil, is invoked after every live transcript change
	// (the websocket hub hangs off this).
	OnUpdate func(transcript.Update)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Manager manages the lifecycle of recording sessions. Only one recording
// can be active at a time. All exported methods are safe for concurrent use.
type Manager struct {
	audio      *audio.Manager
	sttProv    stt.Provider
	sttName    string
	store      history.Store
	transcript *transcript.Store
	onUpdate   func(transcript.Update)
	metrics    *observe.Metrics

	mu        sync.Mutex
	state     State
	info      Info
	acc       *transcript.Accumulator
	cancel    context.CancelFunc
	recogDone chan error
	flac      *audio.FLACRecorder
	lastFLAC  []byte
	lastErr   error

	// lastPermanent tracks committed-text growth for the fragment counter.
	lastPermanent string
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Manager{
		audio:      cfg.Audio,
		sttProv:    cfg.STT,
		sttName:    cfg.STTName,
		store:      cfg.History,
		transcript: cfg.Transcript,
		onUpdate:   cfg.OnUpdate,
		metrics:    m,
		state:      StateIdle,
	}
}

// Start begins a new recording: it opens the audio devices, starts the
// recognizer, and begins folding results into the live transcript.
//
// Returns ErrSessionActive if a recording is already running.
func (m *Manager) Start(ctx context.Context, cfg StartConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return ErrSessionActive
	}

	m.transcript.Reset()
	m.lastErr = nil
	m.lastPermanent = ""

	acc := transcript.NewAccumulator(m.pushUpdate)

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	frames, err := m.audio.Start(audio.Config{
		Source:        cfg.Source,
		DeviceID:      cfg.DeviceID,
		SampleRate:    sampleRate,
		MicGain:       cfg.MicGain,
		SliceInterval: cfg.SliceInterval,
		OnDrop: func() {
			m.metrics.RecordDroppedFrame(context.Background())
		},
	})
	if err != nil {
		return fmt.Errorf("session: start capture: %w", err)
	}

	flac, err := audio.NewFLACRecorder(sampleRate)
	if err != nil {
		m.audio.Stop()
		return fmt.Errorf("session: create recorder: %w", err)
	}

	recognizer := NewRecognizer(RecognizerConfig{
		Provider:     m.sttProv,
		ProviderName: m.sttName,
		Stream: stt.StreamConfig{
			SampleRate: sampleRate,
			Channels:   1,
			Language:   cfg.Language,
		},
		Accumulator: acc,
		Metrics:     m.metrics,
	})

	sessionCtx, cancel := context.WithCancel(context.Background())

	// Tee frames: archive to FLAC, forward to the recognizer. The forward
	// must not outlive the recognizer: when it dies early, the session
	// context unblocks the send so audio.Stop can still drain frames.
	sttFrames := make(chan audio.Frame, 32)
	go func() {
		defer close(sttFrames)
		for frame := range frames {
			if err := flac.Write(frame.Data); err != nil {
				slog.Warn("recording write failed", "error", err)
			}
			select {
			case sttFrames <- frame:
			case <-sessionCtx.Done():
			}
		}
	}()

	recogDone := make(chan error, 1)
	go func() {
		err := recognizer.Run(sessionCtx, sttFrames)
		recogDone <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("recognition failed", "error", err)
			m.recognitionFailed(err)
		}
	}()

	now := time.Now()
	m.state = StateRecording
	m.acc = acc
	m.cancel = cancel
	m.recogDone = recogDone
	m.flac = flac
	m.info = Info{
		State:     StateRecording,
		Source:    cfg.Source,
		Language:  cfg.Language,
		StartedAt: now,
	}

	m.metrics.ActiveRecordings.Add(ctx, 1)
	slog.Info("recording started",
		"source", cfg.Source,
		"language", cfg.Language,
		"sample_rate", sampleRate,
	)
	return nil
}

// Stop ends the active recording, archives the transcript to history, and
// returns the archived record. The record's Title, Summary, KeyPoints, and
// ActionItems are empty; they are filled in by a later summarize call.
//
// Returns ErrNoSession if nothing is recording.
func (m *Manager) Stop(ctx context.Context) (history.Record, error) {
	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return history.Record{}, ErrNoSession
	}
	m.state = StateStopping
	m.info.State = StateStopping
	cancel := m.cancel
	recogDone := m.recogDone
	flac := m.flac
	info := m.info
	m.mu.Unlock()

	// Teardown in reverse start order: stop capture first (closes the frame
	// channel, which lets the recognizer flush and finish), then cancel the
	// session context, then close the recorder.
	m.audio.Stop()

	select {
	case err := <-recogDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("recognition ended with error", "error", err)
		}
	case <-time.After(10 * time.Second):
		slog.Warn("recognizer did not finish in time, cancelling")
		cancel()
		<-recogDone
	}
	cancel()

	if err := flac.Close(); err != nil {
		slog.Warn("recording close failed", "error", err)
	}

	text := m.transcript.Final()
	rec := history.Record{
		ID:        history.NewID("rec"),
		Text:      text,
		Source:    string(info.Source),
		Language:  info.Language,
		Duration:  time.Since(info.StartedAt),
		CreatedAt: time.Now(),
	}

	if m.store != nil && text != "" {
		if err := m.store.SaveRecord(ctx, rec); err != nil {
			slog.Warn("archive recording failed", "record_id", rec.ID, "error", err)
		}
	}

	m.mu.Lock()
	m.state = StateIdle
	m.acc = nil
	m.cancel = nil
	m.recogDone = nil
	m.flac = nil
	m.lastFLAC = flac.Bytes()
	lastErr := m.lastErr
	m.info = Info{State: StateIdle}
	if lastErr != nil {
		m.info.LastError = lastErr.Error()
	}
	m.mu.Unlock()

	m.metrics.ActiveRecordings.Add(ctx, -1)
	slog.Info("recording stopped",
		"record_id", rec.ID,
		"duration", rec.Duration,
		"transcript_chars", len(text),
	)
	return rec, nil
}

// Status returns the current recording info.
func (m *Manager) Status() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.info
	if info.State == "" {
		info.State = StateIdle
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

// Recording returns the FLAC encoding of the most recently finished
// recording, or nil when none exists.
func (m *Manager) Recording() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFLAC
}

// pushUpdate mirrors accumulator updates into the live transcript store and
// the broadcast callback.
func (m *Manager) pushUpdate(u transcript.Update) {
	m.transcript.SetLive(u)

	m.mu.Lock()
	committed := u.Permanent != m.lastPermanent
	m.lastPermanent = u.Permanent
	m.mu.Unlock()
	if committed {
		m.metrics.RecordCommittedFragment(context.Background())
	}

	if m.onUpdate != nil {
		m.onUpdate(u)
	}
}

// recognitionFailed records a fatal recognition error and stops the
// recording. Invoked from the recognizer goroutine.
func (m *Manager) recognitionFailed(err error) {
	m.mu.Lock()
	m.lastErr = err
	active := m.state == StateRecording
	m.mu.Unlock()

	if !active {
		return
	}
	// The audio capture is still running but nothing is transcribing it.
	// Stop the session so the user sees a stopped recording with an error
	// instead of a silently frozen transcript.
	if _, stopErr := m.Stop(context.Background()); stopErr != nil && !errors.Is(stopErr, ErrNoSession) {
		slog.Warn("auto-stop after recognition failure failed", "error", stopErr)
	}
}
