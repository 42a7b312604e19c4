package stt

import "time"

// Transcript is a single recognition result. Both interim and final results
// use this type; IsFinal tells them apart.
type Transcript struct {
	// Text is the recognized speech content.
	Text string

	// IsFinal marks an authoritative result the engine will not revise.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report one.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}
