package vad

import (
	"fmt"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

var _ Classifier = (*Silero)(nil)

// Hysteresis tuning for the sherpa detector. The gateway's segmentation
// layer applies its own silence rules, so these stay short to keep the
// frame-level flag responsive. The buffer only needs to cover the frames
// between drains.
const (
	sileroMinSilence    = 0.25
	sileroMinSpeech     = 0.1
	sileroBufferSeconds = 5
)

// Silero classifies frames with the Silero ONNX model through sherpa-onnx.
// One instance serves one audio stream.
type Silero struct {
	vad *sherpa.VoiceActivityDetector
}

// NewSilero loads the model at modelPath. windowSize must equal the engine
// hop size feeding this classifier; the Silero model expects 512-sample
// windows at 16 kHz.
func NewSilero(modelPath string, sampleRate, windowSize int, threshold float64) (*Silero, error) {
	cfg := sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              modelPath,
			Threshold:          float32(threshold),
			MinSilenceDuration: sileroMinSilence,
			MinSpeechDuration:  sileroMinSpeech,
			WindowSize:         windowSize,
		},
		SampleRate: sampleRate,
		NumThreads: 1,
		Debug:      0,
	}
	v := sherpa.NewVoiceActivityDetector(&cfg, sileroBufferSeconds)
	if v == nil {
		return nil, fmt.Errorf("vad: create silero detector from %s", modelPath)
	}
	return &Silero{vad: v}, nil
}

// Classify feeds one frame to the detector. sherpa does not expose raw
// probabilities, so the flag maps to 1 or 0.
func (s *Silero) Classify(frame []float32) (float64, bool, error) {
	s.vad.AcceptWaveform(frame)

	// Segment extraction is not used here; drain the queue so the internal
	// buffer does not fill up on long streams.
	for !s.vad.IsEmpty() {
		s.vad.Pop()
	}

	if s.vad.IsSpeech() {
		return 1, true, nil
	}
	return 0, false, nil
}

// Reset clears the detector state between streams.
func (s *Silero) Reset() {
	s.vad.Reset()
}

// Close releases the underlying detector.
func (s *Silero) Close() error {
	if s.vad != nil {
		sherpa.DeleteVoiceActivityDetector(s.vad)
		s.vad = nil
	}
	return nil
}
