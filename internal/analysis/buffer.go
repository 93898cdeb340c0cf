package analysis

import (
	"sync"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

// FrameBuffer keeps the most recent capacity samples written by the audio
// producer. The analysis side only ever sees copies.
type FrameBuffer struct {
	mu         sync.Mutex
	ring       []float32
	pos        int
	filled     int
	sampleRate int
}

// NewFrameBuffer creates an empty buffer holding capacity samples
func NewFrameBuffer(capacity, sampleRate int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{
		ring:       make([]float32, capacity),
		sampleRate: sampleRate,
	}
}

// Write appends samples, discarding the oldest once the buffer is full
func (fb *FrameBuffer) Write(samples []float32) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	capacity := len(fb.ring)
	if len(samples) >= capacity {
		copy(fb.ring, samples[len(samples)-capacity:])
		fb.pos = 0
		fb.filled = capacity
		return
	}

	for len(samples) > 0 {
		n := copy(fb.ring[fb.pos:], samples)
		samples = samples[n:]
		fb.pos = (fb.pos + n) % capacity
		fb.filled = min(fb.filled+n, capacity)
	}
}

// Snapshot returns the buffered samples oldest first. ok is false until the
// buffer has been filled once.
func (fb *FrameBuffer) Snapshot() (frame common.AudioFrame, ok bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.filled < len(fb.ring) {
		return common.AudioFrame{SampleRate: fb.sampleRate}, false
	}

	out := make([]float32, len(fb.ring))
	n := copy(out, fb.ring[fb.pos:])
	copy(out[n:], fb.ring[:fb.pos])
	return common.AudioFrame{Samples: out, SampleRate: fb.sampleRate}, true
}

// Len returns how many samples are buffered
func (fb *FrameBuffer) Len() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.filled
}

// Capacity returns the frame size
func (fb *FrameBuffer) Capacity() int {
	return len(fb.ring)
}

// SampleRate returns the rate stamped on snapshots
func (fb *FrameBuffer) SampleRate() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.sampleRate
}

// Reset empties the buffer and sets a new sample rate
func (fb *FrameBuffer) Reset(sampleRate int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	clear(fb.ring)
	fb.pos = 0
	fb.filled = 0
	fb.sampleRate = sampleRate
}
