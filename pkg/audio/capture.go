package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSampleRate is the capture sample rate requested from devices.
	// 16 kHz mono is what every transcription backend consumes.
	DefaultSampleRate = 16000

	// DefaultSliceInterval is the frame duration emitted by a [Manager].
	DefaultSliceInterval = 250 * time.Millisecond

	// DefaultMicGain is the boost applied to the microphone when mixing it
	// with system audio, keeping nearby speech intelligible over meeting
	// playback.
	DefaultMicGain = 1.5
)

// ErrAlreadyRecording is returned by Start while a recording is in progress.
var ErrAlreadyRecording = errors.New("audio: recording already in progress")

// Config describes one recording.
type Config struct {
	// Source selects mic, system, or mixed capture. Defaults to SourceMic.
	Source Source

	// DeviceID is the preferred microphone device. When empty or no longer
	// present, the first available microphone is used (platform default when
	// none are enumerable).
	DeviceID string

	// SampleRate in Hz. Defaults to DefaultSampleRate.
	SampleRate int

	// SliceInterval is the duration of each emitted Frame. Defaults to
	// DefaultSliceInterval.
	SliceInterval time.Duration

	// MicGain is the microphone boost for mixed capture. Defaults to
	// DefaultMicGain.
	MicGain float64

	// OnDrop, when non-nil, is invoked once per frame dropped because the
	// consumer fell behind. Called from the slicing goroutine; must not
	// block.
	OnDrop func()
}

func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = SourceMic
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.SliceInterval <= 0 {
		c.SliceInterval = DefaultSliceInterval
	}
	if c.MicGain <= 0 {
		c.MicGain = DefaultMicGain
	}
	return c
}

// Manager drives one recording at a time on top of a platform [Context].
// All methods are safe for concurrent use; Stop is idempotent.
type Manager struct {
	ctx Context

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	micDev  CaptureDevice
	sysDev  CaptureDevice
}

// NewManager creates a Manager using the given platform backend.
func NewManager(ctx Context) *Manager {
	return &Manager{ctx: ctx}
}

// Start opens the devices cfg.Source requires and begins emitting frames.
// The returned channel is closed after [Manager.Stop]. Frames are dropped,
// not buffered without bound, when the consumer falls behind.
//
// Mixed capture acquires its two sources independently: when only one of them
// can be opened, the recording degrades to the surviving source with a
// warning. Start fails only when no source at all is available.
func (m *Manager) Start(cfg Config) (<-chan Frame, error) {
	cfg = cfg.withDefaults()
	if !cfg.Source.Valid() {
		return nil, fmt.Errorf("audio: unknown source %q", cfg.Source)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, ErrAlreadyRecording
	}

	micBuf := &pcmBuffer{}
	systemBuf := &pcmBuffer{}

	var micDev, sysDev CaptureDevice
	switch cfg.Source {
	case SourceMic:
		dev, err := m.openMic(cfg, micBuf)
		if err != nil {
			return nil, err
		}
		micDev = dev
	case SourceSystem:
		dev, err := m.openSystem(cfg, systemBuf)
		if err != nil {
			return nil, err
		}
		sysDev = dev
	case SourceMixed:
		var micErr, sysErr error
		micDev, micErr = m.openMic(cfg, micBuf)
		sysDev, sysErr = m.openSystem(cfg, systemBuf)
		switch {
		case micErr != nil && sysErr != nil:
			return nil, fmt.Errorf("audio: mixed capture: %w", errors.Join(micErr, sysErr))
		case sysErr != nil:
			slog.Warn("system audio unavailable, recording microphone only", "error", sysErr)
			cfg.Source = SourceMic
		case micErr != nil:
			slog.Warn("microphone unavailable, recording system audio only", "error", micErr)
			cfg.Source = SourceSystem
		}
	}

	opened := make([]CaptureDevice, 0, 2)
	if micDev != nil {
		opened = append(opened, micDev)
	}
	if sysDev != nil {
		opened = append(opened, sysDev)
	}
	for _, d := range opened {
		if err := d.Start(); err != nil {
			for _, o := range opened {
				o.Close()
			}
			return nil, fmt.Errorf("audio: start capture: %w", err)
		}
	}

	lost := make(chan Source, 2)
	if micDev != nil {
		watchDevice(micDev, SourceMic, lost)
	}
	if sysDev != nil {
		watchDevice(sysDev, SourceSystem, lost)
	}

	frames := make(chan Frame, 32)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.micDev = micDev
	m.sysDev = sysDev
	m.running = true

	go m.slice(cfg, micBuf, systemBuf, frames, lost, m.stop, m.done)
	return frames, nil
}

// Stop ends the recording and closes the frame channel. Calling Stop when no
// recording is in progress is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	micDev, sysDev := m.micDev, m.sysDev
	m.micDev, m.sysDev = nil, nil
	m.mu.Unlock()

	close(stop)
	<-done
	for _, d := range []CaptureDevice{micDev, sysDev} {
		if d == nil {
			continue
		}
		d.SetStopCallback(nil)
		d.ClearCallback()
		d.Close()
	}
}

// watchDevice routes an unexpected device stop into the lost channel without
// blocking the audio thread.
func watchDevice(dev CaptureDevice, kind Source, lost chan<- Source) {
	dev.SetStopCallback(func() {
		select {
		case lost <- kind:
		default:
		}
	})
}

// replaceDevice reopens a capture source whose device stopped mid-recording,
// falling back to whatever device is now available. When nothing can be
// opened the recording keeps running on its remaining sources.
func (m *Manager) replaceDevice(kind Source, cfg Config, micBuf, systemBuf *pcmBuffer, lost chan Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	var (
		dev CaptureDevice
		err error
	)
	if kind == SourceMic {
		dev, err = m.openMic(cfg, micBuf)
	} else {
		dev, err = m.openSystem(cfg, systemBuf)
	}
	if err != nil {
		slog.Warn("capture device lost with no replacement available", "source", kind, "error", err)
		return
	}
	if err := dev.Start(); err != nil {
		dev.Close()
		slog.Warn("replacement capture device failed to start", "source", kind, "error", err)
		return
	}
	watchDevice(dev, kind, lost)

	var old CaptureDevice
	if kind == SourceMic {
		old, m.micDev = m.micDev, dev
	} else {
		old, m.sysDev = m.sysDev, dev
	}
	if old != nil {
		old.SetStopCallback(nil)
		old.ClearCallback()
		old.Close()
	}
	slog.Warn("capture device lost, switched to replacement", "source", kind)
}

// openMic opens the preferred microphone, falling back to the first
// available one when the preferred device has disappeared.
func (m *Manager) openMic(cfg Config, buf *pcmBuffer) (CaptureDevice, error) {
	devices, err := m.ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}

	var pick *DeviceInfo
	for i := range devices {
		d := devices[i]
		if d.Monitor {
			continue
		}
		if d.ID == cfg.DeviceID {
			pick = &devices[i]
			break
		}
		if pick == nil {
			pick = &devices[i]
		}
	}
	// pick == nil falls through to the platform default device.

	dev, err := m.ctx.NewCapture(pick, CaptureConfig{SampleRate: cfg.SampleRate, Channels: 1})
	if err != nil {
		return nil, fmt.Errorf("audio: open microphone: %w", err)
	}
	dev.SetCallback(func(pcm []byte) { buf.append(pcm) })
	return dev, nil
}

// openSystem opens the first monitor source. Monitor audio is captured in
// stereo and downmixed, since meeting playback is almost always stereo.
func (m *Manager) openSystem(cfg Config, buf *pcmBuffer) (CaptureDevice, error) {
	devices, err := m.ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}

	var pick *DeviceInfo
	for i := range devices {
		if devices[i].Monitor {
			pick = &devices[i]
			break
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("%w: no monitor source", ErrSourceUnsupported)
	}

	dev, err := m.ctx.NewCapture(pick, CaptureConfig{SampleRate: cfg.SampleRate, Channels: 2})
	if err != nil {
		return nil, fmt.Errorf("audio: open system audio: %w", err)
	}
	dev.SetCallback(func(pcm []byte) {
		buf.append(Normalize(pcm, cfg.SampleRate, 2, cfg.SampleRate))
	})
	return dev, nil
}

// slice emits one Frame per SliceInterval until stopped.
func (m *Manager) slice(cfg Config, micBuf, systemBuf *pcmBuffer, frames chan<- Frame, lost chan Source, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(frames)

	sliceBytes := cfg.SampleRate * 2 * int(cfg.SliceInterval/time.Millisecond) / 1000
	ticker := time.NewTicker(cfg.SliceInterval)
	defer ticker.Stop()
	started := time.Now()

	emit := func() {
		var data []byte
		switch cfg.Source {
		case SourceMic:
			data = micBuf.take(sliceBytes)
		case SourceSystem:
			data = systemBuf.take(sliceBytes)
		case SourceMixed:
			data = MixGain(micBuf.take(sliceBytes), systemBuf.take(sliceBytes), cfg.MicGain)
		}
		if len(data) == 0 {
			return
		}
		select {
		case frames <- Frame{Data: data, SampleRate: cfg.SampleRate, Timestamp: time.Since(started)}:
		default:
			// Consumer fell behind; drop rather than stall the audio thread.
			if cfg.OnDrop != nil {
				cfg.OnDrop()
			}
		}
	}

	for {
		select {
		case <-stop:
			emit() // flush the partial tail slice
			return
		case kind := <-lost:
			m.replaceDevice(kind, cfg, micBuf, systemBuf, lost)
		case <-ticker.C:
			emit()
		}
	}
}

// pcmBuffer is a mutex-guarded byte accumulator fed from audio threads.
type pcmBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *pcmBuffer) append(pcm []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, pcm...)
	b.mu.Unlock()
}

// take removes and returns up to n bytes. Whatever is available is returned
// without padding; an empty buffer yields nil.
func (b *pcmBuffer) take(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil
	}
	if n > len(b.buf) {
		n = len(b.buf)
	}
	out := make([]byte, n)
	copy(out, b.buf[:n])
	b.buf = b.buf[n:]
	return out
}
