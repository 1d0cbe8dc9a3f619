package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrRange is returned by [Buffer.Extract] and the range-based level queries
// when the requested start index lies outside the retained window.
var ErrRange = errors.New("audio: range outside buffer")

// ErrNotFinite is returned by [Buffer.Append] when the input contains NaN or
// infinite samples.
var ErrNotFinite = errors.New("audio: sample is not finite")

// Buffer is an append-only store of normalized float samples addressed by
// absolute sample index. Trimming the prefix never re-indexes retained
// samples: the sample appended as index i keeps index i for as long as it is
// retained. This lets segmentation bookkeeping hold plain indices while the
// buffer independently discards old audio.
//
// Samples are clipped to [-1, 1] on append. All methods are safe for
// concurrent use.
type Buffer struct {
	mu         sync.RWMutex
	samples    []float32
	sampleRate int
	baseOffset int64
}

// NewBuffer creates an empty buffer for audio at the given sample rate.
func NewBuffer(sampleRate int) *Buffer {
	return &Buffer{sampleRate: sampleRate}
}

// Append clips each sample to [-1, 1] and appends it. An empty input is a
// no-op. Returns [ErrNotFinite] without appending anything if any sample is
// NaN or infinite.
func (b *Buffer) Append(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return fmt.Errorf("%w: %v", ErrNotFinite, s)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		b.samples = append(b.samples, s)
	}
	return nil
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Duration returns the retained audio length in seconds.
func (b *Buffer) Duration() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return float64(len(b.samples)) / float64(b.sampleRate)
}

// SampleRate returns the buffer's fixed sample rate in Hz.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// BaseOffset returns the absolute index of the oldest retained sample.
func (b *Buffer) BaseOffset() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.baseOffset
}

// End returns the absolute index one past the newest sample. This is the
// write position: the next appended sample receives exactly this index.
func (b *Buffer) End() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.baseOffset + int64(len(b.samples))
}

// Extract copies the half-open absolute range [start, end). end is clamped to
// the current write position; passing end ≤ start yields an empty slice. The
// start index must lie inside [BaseOffset, End]; otherwise [ErrRange] is
// returned.
func (b *Buffer) Extract(start, end int64) ([]float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bufEnd := b.baseOffset + int64(len(b.samples))
	if start < b.baseOffset || start > bufEnd {
		return nil, fmt.Errorf("%w: start %d not in [%d, %d]", ErrRange, start, b.baseOffset, bufEnd)
	}
	if end > bufEnd {
		end = bufEnd
	}
	if end <= start {
		return nil, nil
	}

	out := make([]float32, end-start)
	copy(out, b.samples[start-b.baseOffset:end-b.baseOffset])
	return out, nil
}

// TrimBefore drops every sample with absolute index < abs and advances the
// base offset. It is idempotent when abs ≤ BaseOffset. Trimming past End
// empties the buffer and places the base offset at abs, so later appends
// continue absolute numbering from there.
func (b *Buffer) TrimBefore(abs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if abs <= b.baseOffset {
		return
	}
	bufEnd := b.baseOffset + int64(len(b.samples))
	if abs >= bufEnd {
		b.samples = nil
		b.baseOffset = abs
		return
	}

	keep := b.samples[abs-b.baseOffset:]
	// Copy to a fresh slice so the trimmed prefix can be garbage collected.
	fresh := make([]float32, len(keep))
	copy(fresh, keep)
	b.samples = fresh
	b.baseOffset = abs
}

// RMS returns the root-mean-square level of the absolute range [start, end),
// with end clamped like [Buffer.Extract]. An empty range yields 0.
func (b *Buffer) RMS(start, end int64) (float64, error) {
	seg, err := b.Extract(start, end)
	if err != nil {
		return 0, err
	}
	return RMS(seg), nil
}

// Peak returns the maximum absolute sample value of the range [start, end).
func (b *Buffer) Peak(start, end int64) (float64, error) {
	seg, err := b.Extract(start, end)
	if err != nil {
		return 0, err
	}
	return Peak(seg), nil
}

// Clear drops all samples and resets the base offset to zero.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
	b.baseOffset = 0
}
