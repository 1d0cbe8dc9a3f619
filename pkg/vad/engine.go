package vad

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Defaults for the tunable engine parameters. The hop size matches the
// Silero model's native window.
const (
	DefaultHopSize         = 512
	DefaultThreshold       = 0.5
	DefaultSilenceDuration = 0.8
)

// energyGate is the RMS level above which a frame counts as speech when the
// classifier is unavailable for that frame.
const energyGate = 0.01

// Option configures an [Engine].
type Option func(*Engine)

// WithClassifier sets the frame classifier. Without one the engine runs on
// the energy gate alone, comparing frame RMS against the threshold.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithThreshold sets the speech threshold in [0, 1]. In energy mode it is
// compared against frame RMS.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithHopSize sets the frame length in samples.
func WithHopSize(n int) Option {
	return func(e *Engine) { e.hopSize = n }
}

// WithSilenceDuration sets how much continuous non-speech audio arms the
// silence-timeout hint, in seconds.
func WithSilenceDuration(seconds float64) Option {
	return func(e *Engine) { e.silenceDuration = seconds }
}

// Engine is a stateful frame-level speech detector for one audio stream.
type Engine struct {
	sampleRate      int
	hopSize         int
	threshold       float64
	silenceDuration float64
	classifier      Classifier

	pending        []float32
	speaking       bool
	probability    float64
	silenceSamples int64
	warnedFallback bool
}

// New creates an engine for audio at the given sample rate.
func New(sampleRate int, opts ...Option) (*Engine, error) {
	e := &Engine{
		sampleRate:      sampleRate,
		hopSize:         DefaultHopSize,
		threshold:       DefaultThreshold,
		silenceDuration: DefaultSilenceDuration,
	}
	for _, opt := range opts {
		opt(e)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("vad: sample rate must be positive, got %d", sampleRate)
	}
	if e.hopSize <= 0 {
		return nil, fmt.Errorf("vad: hop size must be positive, got %d", e.hopSize)
	}
	if e.threshold < 0 || e.threshold > 1 {
		return nil, fmt.Errorf("vad: threshold must be in [0, 1], got %v", e.threshold)
	}
	if e.silenceDuration <= 0 {
		return nil, fmt.Errorf("vad: silence duration must be positive, got %v", e.silenceDuration)
	}
	return e, nil
}

// Process pushes samples into the engine and returns the updated detection
// state. When the push completes several frames, the last frame's
// classification wins. Returns [ErrEmptyInput] for an empty push.
func (e *Engine) Process(samples []float32) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptyInput
	}

	carried := len(e.pending)
	e.pending = append(e.pending, samples...)

	var (
		prob    float64
		flag    bool
		haveHop bool
	)
	// Offset of the frame that last flipped the running flag, relative to
	// the start of this push. Frames that begin in carried-over samples
	// yield a negative offset.
	changeAt := 0
	running := e.speaking
	consumed := 0
	for len(e.pending)-consumed >= e.hopSize {
		frame := e.pending[consumed : consumed+e.hopSize]
		prob, flag = e.classifyFrame(frame)
		if flag != running {
			changeAt = consumed - carried
			running = flag
		}
		haveHop = true
		consumed += e.hopSize
	}
	if consumed > 0 {
		rest := e.pending[consumed:]
		fresh := make([]float32, len(rest))
		copy(fresh, rest)
		e.pending = fresh
	}

	speaking := e.speaking
	if haveHop {
		speaking = flag
		e.probability = prob
	}
	changed := speaking != e.speaking
	e.speaking = speaking

	switch {
	case speaking:
		e.silenceSamples = 0
	case changed:
		// The silence clock starts at the transition, not before it.
		e.silenceSamples = 0
	default:
		e.silenceSamples += int64(len(samples))
	}

	return Result{
		IsSpeaking:     speaking,
		StateChanged:   changed,
		ChangeOffset:   changeAt,
		Probability:    e.probability,
		RMS:            audio.RMS(samples),
		Peak:           audio.Peak(samples),
		SilenceTimeout: !speaking && e.silenceSamples >= int64(e.silenceDuration*float64(e.sampleRate)),
	}, nil
}

// classifyFrame runs the classifier on one frame, dropping to the energy
// gate when none is configured or the classifier fails.
func (e *Engine) classifyFrame(frame []float32) (float64, bool) {
	rms := audio.RMS(frame)
	if e.classifier == nil {
		return rms, rms > e.threshold
	}
	prob, speech, err := e.classifier.Classify(frame)
	if err != nil {
		if !e.warnedFallback {
			slog.Warn("vad classifier failed, using energy gate", "error", err)
			e.warnedFallback = true
		}
		return rms, rms > energyGate
	}
	return prob, speech
}

// ScanSegments runs the whole clip through the engine and returns the
// detected speech regions. The engine's streaming state is reset before and
// after the scan, so a scan must not be interleaved with Process calls on a
// live stream.
func (e *Engine) ScanSegments(samples []float32) []Span {
	e.Reset()
	var spans []Span
	open := -1
	for pos := 0; pos < len(samples); pos += e.hopSize {
		endPos := min(pos+e.hopSize, len(samples))
		res, err := e.Process(samples[pos:endPos])
		if err != nil {
			continue
		}
		if !res.StateChanged {
			continue
		}
		if res.IsSpeaking {
			open = pos
		} else if open >= 0 {
			spans = append(spans, Span{Start: open, End: pos})
			open = -1
		}
	}
	if open >= 0 {
		spans = append(spans, Span{Start: open, End: len(samples)})
	}
	e.Reset()
	return spans
}

// Speaking returns the current speaking state.
func (e *Engine) Speaking() bool { return e.speaking }

// Probability returns the speech probability of the last classified frame.
func (e *Engine) Probability() float64 { return e.probability }

// Reset clears the residual frame buffer and all detection state. The
// classifier, when present, is reset as well.
func (e *Engine) Reset() {
	e.pending = nil
	e.speaking = false
	e.probability = 0
	e.silenceSamples = 0
	if e.classifier != nil {
		e.classifier.Reset()
	}
}

// Close releases the classifier, when present.
func (e *Engine) Close() error {
	if e.classifier != nil {
		return e.classifier.Close()
	}
	return nil
}
