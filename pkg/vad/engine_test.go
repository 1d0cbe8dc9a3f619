package vad_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxgate/pkg/vad"
)

// ---- helpers ----

// scriptedClassifier replays a fixed sequence of speech flags, repeating the
// last entry once the script runs out.
type scriptedClassifier struct {
	flags  []bool
	err    error
	calls  int
	resets int
	closed bool
}

func (c *scriptedClassifier) Classify(frame []float32) (float64, bool, error) {
	i := c.calls
	c.calls++
	if c.err != nil {
		return 0, false, c.err
	}
	if i >= len(c.flags) {
		i = len(c.flags) - 1
	}
	if c.flags[i] {
		return 0.9, true, nil
	}
	return 0.1, false, nil
}

func (c *scriptedClassifier) Reset()       { c.resets++ }
func (c *scriptedClassifier) Close() error { c.closed = true; return nil }

// tone returns n samples at a constant amplitude, so RMS equals the
// amplitude exactly.
func tone(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude
	}
	return out
}

func newEngine(t *testing.T, opts ...vad.Option) *vad.Engine {
	t.Helper()
	e, err := vad.New(16000, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

// ---- tests ----

func TestEngine_EmptyInput(t *testing.T) {
	e := newEngine(t)
	if _, err := e.Process(nil); !errors.Is(err, vad.ErrEmptyInput) {
		t.Errorf("got %v, want ErrEmptyInput", err)
	}
}

func TestEngine_New_Validation(t *testing.T) {
	cases := []struct {
		name string
		rate int
		opts []vad.Option
	}{
		{"zero rate", 0, nil},
		{"negative hop", 16000, []vad.Option{vad.WithHopSize(-1)}},
		{"threshold above one", 16000, []vad.Option{vad.WithThreshold(1.5)}},
		{"negative threshold", 16000, []vad.Option{vad.WithThreshold(-0.1)}},
		{"zero silence duration", 16000, []vad.Option{vad.WithSilenceDuration(0)}},
	}
	for _, tc := range cases {
		if _, err := vad.New(tc.rate, tc.opts...); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestEngine_BuffersPartialFrames(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{true}}
	e := newEngine(t, vad.WithHopSize(4), vad.WithClassifier(c))

	res, err := e.Process(tone(2, 0.1))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if c.calls != 0 {
		t.Errorf("classifier ran on a partial frame: %d calls", c.calls)
	}
	if res.IsSpeaking || res.StateChanged {
		t.Errorf("partial frame changed state: %+v", res)
	}

	res, err = e.Process(tone(2, 0.1))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if c.calls != 1 {
		t.Errorf("expected 1 classification after frame completed, got %d", c.calls)
	}
	if !res.IsSpeaking || !res.StateChanged {
		t.Errorf("completed frame result: %+v, want speaking with state change", res)
	}
}

func TestEngine_LastFrameWins(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{false, true}}
	e := newEngine(t, vad.WithHopSize(4), vad.WithClassifier(c))

	res, err := e.Process(tone(8, 0.1))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if c.calls != 2 {
		t.Fatalf("expected 2 classifications, got %d", c.calls)
	}
	if !res.IsSpeaking {
		t.Error("expected last frame's speech flag to win")
	}
	if res.Probability != 0.9 {
		t.Errorf("Probability: got %v, want 0.9", res.Probability)
	}
}

func TestEngine_StateChangeOnlyOnTransition(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{true, true}}
	e := newEngine(t, vad.WithHopSize(4), vad.WithClassifier(c))

	res, _ := e.Process(tone(4, 0.1))
	if !res.StateChanged {
		t.Error("first speech push should flip the state")
	}
	res, _ = e.Process(tone(4, 0.1))
	if res.StateChanged {
		t.Error("second speech push should not report a change")
	}
}

func TestEngine_ProbabilityPersistsAcrossShortPushes(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{true}}
	e := newEngine(t, vad.WithHopSize(4), vad.WithClassifier(c))

	e.Process(tone(4, 0.1))
	res, _ := e.Process(tone(2, 0.1))
	if !res.IsSpeaking || res.Probability != 0.9 {
		t.Errorf("short push lost state: %+v", res)
	}
}

func TestEngine_EnergyMode(t *testing.T) {
	e := newEngine(t, vad.WithHopSize(4), vad.WithThreshold(0.5))

	res, _ := e.Process(tone(4, 0.1))
	if res.IsSpeaking {
		t.Error("quiet frame classified as speech")
	}
	if math.Abs(res.Probability-0.1) > 1e-6 {
		t.Errorf("Probability: got %v, want frame RMS 0.1", res.Probability)
	}

	res, _ = e.Process(tone(4, 0.8))
	if !res.IsSpeaking {
		t.Error("loud frame not classified as speech")
	}
	if math.Abs(res.Probability-0.8) > 1e-6 {
		t.Errorf("Probability: got %v, want frame RMS 0.8", res.Probability)
	}
}

func TestEngine_FallbackOnClassifierError(t *testing.T) {
	c := &scriptedClassifier{err: errors.New("model exploded")}
	e := newEngine(t, vad.WithHopSize(4), vad.WithClassifier(c))

	res, _ := e.Process(tone(4, 0.5))
	if !res.IsSpeaking {
		t.Error("loud frame should pass the energy gate when the classifier fails")
	}
	if math.Abs(res.Probability-0.5) > 1e-6 {
		t.Errorf("Probability: got %v, want frame RMS 0.5", res.Probability)
	}

	res, _ = e.Process(tone(4, 0.001))
	if res.IsSpeaking {
		t.Error("near-silent frame should not pass the energy gate")
	}
}

func TestEngine_SilenceTimeout(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{true, false}}
	e := newEngine(t, vad.WithHopSize(512), vad.WithSilenceDuration(0.5), vad.WithClassifier(c))

	// Speech, then the transition push: the silence clock starts at zero.
	e.Process(tone(512, 0.1))
	res, _ := e.Process(tone(512, 0.1))
	if res.IsSpeaking || !res.StateChanged {
		t.Fatalf("expected transition to silence, got %+v", res)
	}
	if res.SilenceTimeout {
		t.Error("timeout armed at the transition itself")
	}

	// 0.5 s at 16 kHz is 8000 samples of continuous silence.
	res, _ = e.Process(tone(7999, 0.1))
	if res.SilenceTimeout {
		t.Error("timeout armed one sample early")
	}
	res, _ = e.Process(tone(1, 0.1))
	if !res.SilenceTimeout {
		t.Error("timeout not armed after the full silence duration")
	}
}

func TestEngine_SilenceTimeout_FromStreamStart(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{false}}
	e := newEngine(t, vad.WithHopSize(512), vad.WithSilenceDuration(0.5), vad.WithClassifier(c))

	// A stream that never contained speech arms the hint too.
	res, _ := e.Process(tone(8000, 0.1))
	if !res.SilenceTimeout {
		t.Error("leading silence did not arm the timeout")
	}
}

func TestEngine_Reset(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{true}}
	e := newEngine(t, vad.WithHopSize(4), vad.WithClassifier(c))

	// One complete frame plus two residual samples.
	e.Process(tone(6, 0.1))
	if !e.Speaking() {
		t.Fatal("expected speaking state before reset")
	}

	e.Reset()
	if e.Speaking() || e.Probability() != 0 {
		t.Error("reset did not clear detection state")
	}
	if c.resets != 1 {
		t.Errorf("classifier resets: got %d, want 1", c.resets)
	}

	// If the residual survived the reset, these two samples would complete
	// a frame and trigger a classification.
	e.Process(tone(2, 0.1))
	if c.calls != 1 {
		t.Errorf("residual frame buffer survived reset: %d calls", c.calls)
	}
}

func TestEngine_ReportsLevels(t *testing.T) {
	e := newEngine(t)
	res, err := e.Process([]float32{0.3, -0.4, 0, 0})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if math.Abs(res.RMS-0.25) > 1e-6 {
		t.Errorf("RMS: got %v, want 0.25", res.RMS)
	}
	if math.Abs(res.Peak-0.4) > 1e-6 {
		t.Errorf("Peak: got %v, want 0.4", res.Peak)
	}
}

func TestEngine_ScanSegments(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{false, false, true, true, true, false, false, false, true, true}}
	e := newEngine(t, vad.WithHopSize(4), vad.WithClassifier(c))

	spans := e.ScanSegments(tone(40, 0.1))
	want := []vad.Span{{Start: 8, End: 20}, {Start: 32, End: 40}}
	if len(spans) != len(want) {
		t.Fatalf("spans: got %v, want %v", spans, want)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("span %d: got %+v, want %+v", i, spans[i], want[i])
		}
	}
	if e.Speaking() {
		t.Error("scan left the engine in a speaking state")
	}
}

func TestEngine_Close(t *testing.T) {
	c := &scriptedClassifier{flags: []bool{false}}
	e := newEngine(t, vad.WithClassifier(c))
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !c.closed {
		t.Error("classifier not closed")
	}
}
