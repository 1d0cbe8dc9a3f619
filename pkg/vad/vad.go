// Package vad implements streaming voice activity detection over pushed
// sample batches.
//
// An [Engine] accepts arbitrarily sized slices of normalized mono samples,
// slices them into fixed hop-size frames, and runs a frame [Classifier] over
// each complete frame. Partial frames are carried over to the next push, so
// callers never need to align their pushes to the hop size. The result of a
// push reflects the classification of the last complete frame it contained;
// a push too short to complete a frame leaves the speaking state unchanged.
//
// When no classifier is configured, or when the classifier fails on a frame,
// the engine falls back to an energy gate over the frame's RMS level. An
// Engine serves a single audio stream and is not safe for concurrent use;
// create one per stream.
package vad

import "errors"

// ErrEmptyInput is returned by [Engine.Process] when called with no samples.
var ErrEmptyInput = errors.New("vad: empty input")

// Classifier decides whether a single hop-size frame contains speech.
// Implementations may keep internal state across frames of one stream;
// Reset clears it when the stream restarts.
type Classifier interface {
	// Classify returns the speech probability and flag for one frame. The
	// frame length always equals the engine's hop size.
	Classify(frame []float32) (probability float64, speech bool, err error)

	// Reset clears accumulated detection state without releasing resources.
	Reset()

	// Close releases the classifier's resources. Calling Close more than
	// once is safe.
	Close() error
}

// Result is the outcome of one [Engine.Process] call.
type Result struct {
	// IsSpeaking is the speaking state after this push.
	IsSpeaking bool

	// StateChanged reports whether this push flipped the speaking state.
	StateChanged bool

	// ChangeOffset is the sample offset, relative to the start of this
	// push, of the frame that produced the new state. Only meaningful when
	// StateChanged is true. It can be negative when the deciding frame
	// began in residual samples carried over from an earlier push.
	ChangeOffset int

	// Probability is the speech probability of the last classified frame.
	Probability float64

	// RMS is the root-mean-square level of the pushed samples.
	RMS float64

	// Peak is the maximum absolute sample value of the pushed samples.
	Peak float64

	// SilenceTimeout reports that the stream has been continuously
	// non-speaking for at least the configured silence duration. The
	// interval is measured in audio time, not wall-clock time, so results
	// stay deterministic when pushes arrive faster or slower than real
	// time. Purely advisory.
	SilenceTimeout bool
}

// Span is a detected speech region inside a clip, as half-open sample
// indices.
type Span struct {
	Start int
	End   int
}
