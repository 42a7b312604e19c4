// Package audio provides host audio capture for meeting recording.
//
// The two primary abstractions are:
//
//   - [Context] — enumerates capture devices and opens a [CaptureDevice].
//   - [Manager] — drives one recording: it opens the devices a [Source]
//     requires, normalizes and mixes their PCM, and emits fixed-duration
//     [Frame] slices to a consumer.
//
// Platform backends are selected at build time: PulseAudio on Linux (the only
// platform that exposes monitor sources for system audio) and miniaudio via
// malgo everywhere else.
//
// This package lives under pkg/ because external code is expected to
// implement [Context] for alternative capture backends.
package audio

import (
	"errors"
	"time"
)

// Capture errors. Backends wrap platform failures into these sentinels.
var (
	// ErrNoDevice indicates no capture device matching the request exists.
	ErrNoDevice = errors.New("audio: no capture device available")

	// ErrSourceUnsupported indicates the requested source kind cannot be
	// captured on this platform (e.g. system audio without monitor sources).
	ErrSourceUnsupported = errors.New("audio: source not supported on this platform")
)

// Source selects which audio the recording captures.
type Source string

const (
	// SourceMic captures the microphone only.
	SourceMic Source = "mic"

	// SourceSystem captures system playback audio (what the speakers play).
	SourceSystem Source = "system"

	// SourceMixed captures both and sums them into one mono stream, with the
	// microphone boosted so nearby speech stays intelligible over meeting
	// playback.
	SourceMixed Source = "mixed"
)

// Valid reports whether s is one of the defined source kinds.
func (s Source) Valid() bool {
	switch s {
	case SourceMic, SourceSystem, SourceMixed:
		return true
	}
	return false
}

// DeviceInfo identifies one capture device.
type DeviceInfo struct {
	// ID is an opaque platform-specific identifier.
	ID string

	// Name is the human-readable device name.
	Name string

	// Monitor is true for loopback sources that carry system playback audio
	// rather than a physical input.
	Monitor bool
}

// CaptureConfig describes the PCM format requested from a device.
type CaptureConfig struct {
	SampleRate int
	Channels   int
}

// DataCallback receives raw 16-bit little-endian PCM from a device. It is
// invoked on the backend's audio thread and must not block.
type DataCallback func(pcm []byte)

// Frame is one fixed-duration slice of captured audio emitted by a [Manager].
type Frame struct {
	// Data is 16-bit little-endian mono PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to recording
	// start.
	Timestamp time.Duration
}

// Context is the platform audio backend.
type Context interface {
	// Devices enumerates the available capture devices, including monitor
	// sources on platforms that expose them.
	Devices() ([]DeviceInfo, error)

	// NewCapture opens the given device (nil for the platform default) with
	// the requested format. The device is created stopped; call Start on it.
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)

	// Close releases the backend. All capture devices must be closed first.
	Close()
}

// CaptureDevice is one open capture stream.
type CaptureDevice interface {
	// Start begins delivering audio to the registered callback.
	Start() error

	// Stop halts delivery. The device may be started again.
	Stop()

	// Close releases the device. Implies Stop.
	Close()

	// SetCallback registers cb to receive captured PCM, replacing any
	// previous registration.
	SetCallback(cb DataCallback)

	// ClearCallback removes the registered callback.
	ClearCallback()

	// SetStopCallback registers cb to be invoked when the device stops
	// delivering audio without Stop or Close having been called (the device
	// was unplugged, the host tore the stream down). A nil cb clears the
	// registration.
	SetStopCallback(cb func())
}

// Drain reads from ch until it is closed, discarding all values. Use this to
// prevent goroutine leaks when the remaining frames of a stopped recording
// are not needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
