package segmenter_test

import (
	"testing"

	"github.com/MrWong99/voxgate/internal/segmenter"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

const rate = 16000

// ---- helpers ----

// harness drives a controller the way a session does: append samples to the
// buffer, then hand the controller the matching VAD result.
type harness struct {
	t    *testing.T
	buf  *audio.Buffer
	ctrl *segmenter.Controller
}

func newHarness(t *testing.T, cfg segmenter.Config) *harness {
	t.Helper()
	buf := audio.NewBuffer(rate)
	ctrl, err := segmenter.New(buf, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{t: t, buf: buf, ctrl: ctrl}
}

// push appends n samples and feeds the controller one VAD result for them.
func (h *harness) push(n int, res vad.Result, busy bool) []segmenter.Request {
	h.t.Helper()
	start := h.buf.End()
	if err := h.buf.Append(make([]float32, n)); err != nil {
		h.t.Fatalf("Append failed: %v", err)
	}
	return h.ctrl.OnAudio(res, start, h.buf.End(), busy)
}

// silence pushes n samples with an unchanged non-speaking state.
func (h *harness) silence(n int) []segmenter.Request {
	h.t.Helper()
	return h.push(n, vad.Result{}, false)
}

// speech pushes n samples with an unchanged speaking state.
func (h *harness) speech(n int) []segmenter.Request {
	h.t.Helper()
	return h.push(n, vad.Result{IsSpeaking: true}, false)
}

// speechEdge pushes n samples whose VAD result flips to speech at the given
// offset within the push.
func (h *harness) speechEdge(n, offset int) []segmenter.Request {
	h.t.Helper()
	return h.push(n, vad.Result{IsSpeaking: true, StateChanged: true, ChangeOffset: offset}, false)
}

// silenceEdge pushes n samples whose VAD result flips to silence at the
// given offset within the push.
func (h *harness) silenceEdge(n, offset int) []segmenter.Request {
	h.t.Helper()
	return h.push(n, vad.Result{StateChanged: true, ChangeOffset: offset}, false)
}

func one(t *testing.T, reqs []segmenter.Request) segmenter.Request {
	t.Helper()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one request, got %d: %+v", len(reqs), reqs)
	}
	return reqs[0]
}

func wantRange(t *testing.T, req segmenter.Request, start, end int64) {
	t.Helper()
	if req.Start != start || req.End != end {
		t.Errorf("range: got [%d, %d), want [%d, %d)", req.Start, req.End, start, end)
	}
	if got := int64(len(req.Samples)); got != end-start {
		t.Errorf("samples: got %d, want %d", got, end-start)
	}
}

// ---- tests ----

// A short utterance produces one final segment covering the pre-roll, with
// nothing replaced. The detector flips half a second into the speech, so
// the pre-roll subtraction lands the start at the true onset.
func TestController_ShortUtterance_SingleFinal(t *testing.T) {
	h := newHarness(t, segmenter.Config{})

	if reqs := h.silence(8000); len(reqs) != 0 {
		t.Fatalf("silence produced requests: %+v", reqs)
	}
	// Speech began at 8000; the detector notices at 16000.
	if reqs := h.speech(8000); len(reqs) != 0 {
		t.Fatalf("undetected speech produced requests: %+v", reqs)
	}
	if reqs := h.speechEdge(8000, 0); len(reqs) != 0 {
		t.Fatalf("speech onset produced requests: %+v", reqs)
	}
	if !h.ctrl.Active() {
		t.Fatal("controller not active after speech edge")
	}

	req := one(t, h.silenceEdge(6400, 0))
	wantRange(t, req, 8000, 24000)
	if req.Kind != segmenter.KindFinal {
		t.Errorf("kind: got %v, want final", req.Kind)
	}
	if len(req.Replaces) != 0 {
		t.Errorf("replaces: got %v, want empty", req.Replaces)
	}
	if h.ctrl.Active() {
		t.Error("controller still active after utterance end")
	}
}

// A medium utterance cuts one timeout chunk, then the utterance-end pass
// re-transcribes the whole range and supersedes it.
func TestController_MediumUtterance_ReprocessesChunk(t *testing.T) {
	h := newHarness(t, segmenter.Config{})

	h.silence(8000)
	// Detector flips at 16000, placing the utterance start at 8000.
	h.push(16000, vad.Result{IsSpeaking: true, StateChanged: true, ChangeOffset: 8000}, false)

	// Three seconds past the utterance start: chunk due at 56000.
	chunk := one(t, h.speech(32000))
	wantRange(t, chunk, 8000, 56000)
	if chunk.Kind != segmenter.KindTimeoutChunk {
		t.Fatalf("kind: got %v, want timeout chunk", chunk.Kind)
	}

	h.speech(24000)
	req := one(t, h.silenceEdge(1, 0))
	wantRange(t, req, 8000, 80000)
	if req.Kind != segmenter.KindReprocessed {
		t.Errorf("kind: got %v, want reprocessed", req.Kind)
	}
	if len(req.Replaces) != 1 || req.Replaces[0] != chunk.ID {
		t.Errorf("replaces: got %v, want [%d]", req.Replaces, chunk.ID)
	}
}

// A long utterance re-cuts at the first chunk boundary inside the lookback
// window; chunks before the window stay accepted.
func TestController_LongUtterance_LookbackCut(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001})

	h.speechEdge(16, 0)
	var chunks []segmenter.Request
	for h.buf.End() < 192000 {
		chunks = append(chunks, h.speech(48000-len(chunks))...)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 timeout chunks, got %d", len(chunks))
	}
	for i, want := range []int64{0, 48000, 96000, 144000} {
		if chunks[i].Start != want {
			t.Fatalf("chunk %d start: got %d, want %d", i, chunks[i].Start, want)
		}
	}

	h.speech(int(200000 - h.buf.End()))
	req := one(t, h.silenceEdge(1, 0))

	// Lookback window starts at 200000 − 144000 = 56000. The first chunk
	// boundary at or past it is 96000.
	wantRange(t, req, 96000, 200000)
	if req.Kind != segmenter.KindReprocessed {
		t.Errorf("kind: got %v, want reprocessed", req.Kind)
	}
	want := []int64{chunks[2].ID, chunks[3].ID}
	if len(req.Replaces) != 2 || req.Replaces[0] != want[0] || req.Replaces[1] != want[1] {
		t.Errorf("replaces: got %v, want %v", req.Replaces, want)
	}
}

// When no chunk boundary falls inside the lookback window, only the
// untranscribed tail is sent and every chunk stays accepted.
func TestController_LookbackWithoutBoundary_FinalTail(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001})

	h.speechEdge(16, 0)
	chunk := one(t, h.speech(48000 - 16))
	wantRange(t, chunk, 0, 48000)

	// The provider stays busy for the rest of the utterance, so no more
	// chunks are cut and the tail outgrows the lookback window.
	for h.buf.End() < 250000 {
		if reqs := h.push(10000, vad.Result{IsSpeaking: true}, true); len(reqs) != 0 {
			t.Fatalf("busy push produced requests: %+v", reqs)
		}
	}

	tail := h.buf.End()
	req := one(t, h.push(1, vad.Result{StateChanged: true}, true))
	wantRange(t, req, 48000, tail)
	if req.Kind != segmenter.KindFinal {
		t.Errorf("kind: got %v, want final", req.Kind)
	}
	if len(req.Replaces) != 0 {
		t.Errorf("replaces: got %v, want empty", req.Replaces)
	}
}

// Idle silence is trimmed without emitting anything, and the utterance
// state stays unset.
func TestController_IdleSilenceTrimmed(t *testing.T) {
	h := newHarness(t, segmenter.Config{})

	for range 10 {
		if reqs := h.silence(rate); len(reqs) != 0 {
			t.Fatalf("idle silence produced requests: %+v", reqs)
		}
	}
	if h.ctrl.Active() {
		t.Error("idle silence activated the controller")
	}
	if h.buf.BaseOffset() == 0 {
		t.Error("idle buffer never trimmed")
	}
	if h.buf.Duration() > 4.0 {
		t.Errorf("idle buffer retains %.1fs, want bounded", h.buf.Duration())
	}
}

// Flush behaves like a synthetic silence edge at the current position.
func TestController_FlushEndsUtterance(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001})

	h.speechEdge(16, 0)
	chunk := one(t, h.speech(48000 - 16))
	h.speech(8000)

	req := one(t, h.ctrl.Flush())
	wantRange(t, req, 0, 56000)
	if req.Kind != segmenter.KindReprocessed {
		t.Errorf("kind: got %v, want reprocessed", req.Kind)
	}
	if len(req.Replaces) != 1 || req.Replaces[0] != chunk.ID {
		t.Errorf("replaces: got %v, want [%d]", req.Replaces, chunk.ID)
	}
	if h.ctrl.Active() {
		t.Error("controller still active after flush")
	}
	if reqs := h.ctrl.Flush(); len(reqs) != 0 {
		t.Errorf("second flush produced requests: %+v", reqs)
	}
}

// Chunk deadlines that elapse while a transcription is in flight coalesce
// into a single cut when the controller resumes.
func TestController_BusyCoalescesChunks(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001})

	h.speechEdge(16, 0)
	one(t, h.speech(48000-16)) // first chunk [0, 48000)

	// Two more chunk deadlines pass while busy.
	for h.buf.End() < 144000 {
		if reqs := h.push(16000, vad.Result{IsSpeaking: true}, true); len(reqs) != 0 {
			t.Fatalf("busy push produced requests: %+v", reqs)
		}
	}

	req := one(t, h.ctrl.Resume())
	wantRange(t, req, 48000, 96000)
	if req.Kind != segmenter.KindTimeoutChunk {
		t.Errorf("kind: got %v, want timeout chunk", req.Kind)
	}
	if reqs := h.ctrl.Resume(); len(reqs) == 0 {
		t.Fatal("second resume should cut the next due chunk")
	}
	if reqs := h.ctrl.Resume(); len(reqs) != 0 {
		t.Errorf("resume with nothing due produced requests: %+v", reqs)
	}
}

// After a coalesced cut, the leftover partial chunk waits for its own
// deadline instead of being cut short.
func TestController_PartialChunkWaits(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001})

	h.speechEdge(16, 0)
	one(t, h.speech(48000-16))

	// One extra second past the next deadline while busy.
	for h.buf.End() < 96000+16000 {
		h.push(16000, vad.Result{IsSpeaking: true}, true)
	}
	one(t, h.ctrl.Resume()) // [48000, 96000)
	if reqs := h.ctrl.Resume(); len(reqs) != 0 {
		t.Errorf("partial chunk was cut early: %+v", reqs)
	}
}

// Utterances below the minimum duration are dropped entirely.
func TestController_TooShortUtteranceDropped(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001, MinDuration: 0.5})

	h.speechEdge(1000, 0)
	if reqs := h.silenceEdge(1000, 0); len(reqs) != 0 {
		t.Errorf("sub-minimum utterance produced requests: %+v", reqs)
	}
	if h.ctrl.Active() {
		t.Error("controller still active")
	}
}

// Segment ids strictly increase across every emission.
func TestController_MonotonicIDs(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001})

	var ids []int64
	h.speechEdge(16, 0)
	for h.buf.End() < 144000 {
		for _, req := range h.speech(16000) {
			ids = append(ids, req.ID)
		}
	}
	for _, req := range h.silenceEdge(1, 0) {
		ids = append(ids, req.ID)
	}
	if len(ids) < 4 {
		t.Fatalf("expected at least 4 segments, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not strictly increasing: %v", ids)
		}
	}
}

// The pre-roll cannot reach past the retained buffer prefix.
func TestController_PreRollClampedToBuffer(t *testing.T) {
	h := newHarness(t, segmenter.Config{})

	// Enough idle silence to trim the prefix.
	for range 10 {
		h.silence(rate)
	}
	base := h.buf.BaseOffset()
	if base == 0 {
		t.Fatal("expected a trimmed prefix")
	}

	// Speech edge right at the base: the pre-roll would reach before it.
	h.push(16, vad.Result{IsSpeaking: true, StateChanged: true, ChangeOffset: int(base - h.buf.End())}, false)
	h.speech(16000)
	req := one(t, h.silenceEdge(1, 0))
	if req.Start < base {
		t.Errorf("start %d reaches before the retained prefix %d", req.Start, base)
	}
}

// Reset is idempotent: a second reset leaves the same state as the first.
func TestController_ResetIdempotent(t *testing.T) {
	h := newHarness(t, segmenter.Config{})

	h.speechEdge(16000, 0)
	h.ctrl.Reset()
	if h.ctrl.Active() {
		t.Fatal("reset left the controller active")
	}
	h.ctrl.Reset()
	if h.ctrl.Active() || len(h.ctrl.Flush()) != 0 || len(h.ctrl.Resume()) != 0 {
		t.Error("second reset changed observable state")
	}
}

// A reprocessed segment always covers the union of the ranges it replaces.
func TestController_ReplacementContainment(t *testing.T) {
	h := newHarness(t, segmenter.Config{PreRoll: 0.001})

	h.speechEdge(16, 0)
	byID := make(map[int64]segmenter.Segment)
	for h.buf.End() < 180000 {
		for _, req := range h.speech(16000) {
			byID[req.ID] = req.Segment
		}
	}
	req := one(t, h.silenceEdge(1, 0))
	if req.Kind != segmenter.KindReprocessed {
		t.Fatalf("kind: got %v, want reprocessed", req.Kind)
	}
	for _, id := range req.Replaces {
		ch, ok := byID[id]
		if !ok {
			t.Fatalf("replaced id %d was never emitted", id)
		}
		if ch.Start < req.Start || ch.End > req.End {
			t.Errorf("chunk [%d, %d) not contained in [%d, %d)", ch.Start, ch.End, req.Start, req.End)
		}
	}
	if span := req.End - req.Start; span > int64(segmenter.DefaultLookbackDuration*rate)+int64(segmenter.DefaultMaxSegmentDuration*rate) {
		t.Errorf("reprocessed span %d exceeds the lookback bound", span)
	}
}
