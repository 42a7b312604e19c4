package audio

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	flacBlockSize     = 4096
	flacBitsPerSample = 16
)

// FLACRecorder accumulates captured mono PCM and encodes it to an in-memory
// FLAC stream, so a finished recording can be downloaded without a lossless
// re-encode step.
type FLACRecorder struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	enc        *flac.Encoder
	pending    []int32
	sampleRate int
	samples    uint64
	closed     bool
}

// NewFLACRecorder creates a recorder for 16-bit mono PCM at sampleRate.
func NewFLACRecorder(sampleRate int) (*FLACRecorder, error) {
	r := &FLACRecorder{sampleRate: sampleRate}
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     1,
		BitsPerSample: flacBitsPerSample,
	}
	enc, err := flac.NewEncoder(&r.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	r.enc = enc
	return r, nil
}

// Write appends little-endian 16-bit mono PCM to the stream. Complete blocks
// are encoded immediately; the remainder waits for more data or Close.
func (r *FLACRecorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("flac recorder: already closed")
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		r.pending = append(r.pending, int32(int16(pcm[i])|int16(pcm[i+1])<<8))
	}
	for len(r.pending) >= flacBlockSize {
		if err := r.encodeBlock(r.pending[:flacBlockSize]); err != nil {
			return err
		}
		r.pending = r.pending[flacBlockSize:]
	}
	return nil
}

// Close flushes the trailing partial block and finalizes the stream.
func (r *FLACRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if len(r.pending) > 0 {
		if err := r.encodeBlock(r.pending); err != nil {
			return err
		}
		r.pending = nil
	}
	return r.enc.Close()
}

// Bytes returns the encoded FLAC stream. Valid after Close.
func (r *FLACRecorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Bytes()
}

// Samples reports how many PCM samples have been encoded.
func (r *FLACRecorder) Samples() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func (r *FLACRecorder) encodeBlock(block []int32) error {
	samples := make([]int32, len(block))
	copy(samples, block)

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples,
		NSamples: len(samples),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(samples)),
			SampleRate:    uint32(r.sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: flacBitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := r.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	r.samples += uint64(len(samples))
	return nil
}
