// Package segmenter decides which spans of a session's audio get
// transcribed, and when.
//
// The [Controller] is a two-state machine (idle / active utterance) driven
// by voice-activity results. During a long utterance it cuts provisional
// timeout chunks so the client sees low-latency partials; when the
// utterance ends it re-transcribes a bounded lookback window in one piece
// and tells the caller which provisional segments the better transcript
// supersedes. All positions are absolute sample indices into the session's
// [audio.Buffer], so the controller survives buffer trimming without
// holding any samples of its own beyond the requests it hands out.
package segmenter

import "time"

// Kind classifies an emitted segment.
type Kind int

const (
	// KindTimeoutChunk is a provisional mid-utterance cut. Its transcript
	// may later be superseded by a reprocessed segment.
	KindTimeoutChunk Kind = iota

	// KindFinal is an utterance-end segment that supersedes nothing.
	KindFinal

	// KindReprocessed is an utterance-end segment that re-transcribes a
	// wider range and supersedes one or more timeout chunks.
	KindReprocessed
)

// String returns the identifier used in logs and result metadata.
func (k Kind) String() string {
	switch k {
	case KindTimeoutChunk:
		return "timeout_chunk"
	case KindFinal:
		return "final"
	case KindReprocessed:
		return "reprocessed"
	default:
		return "unknown"
	}
}

// Segment is one transcription decision: a half-open absolute sample range
// plus the ids of previously emitted segments it supersedes.
type Segment struct {
	// ID is unique and strictly increasing within a session.
	ID int64

	// Start and End delimit the audio range, half-open, in absolute
	// sample indices.
	Start int64
	End   int64

	// Kind classifies the segment.
	Kind Kind

	// Replaces lists the ids of earlier segments this one supersedes.
	// Empty except for reprocessed segments.
	Replaces []int64
}

// Request pairs a segment decision with the samples to transcribe. The
// samples are extracted at decision time, before the controller trims the
// buffer, so a request stays valid for as long as the caller holds it.
type Request struct {
	Segment
	Samples []float32
}

// idGen issues strictly increasing segment ids. Ids are wall-clock
// milliseconds when the clock cooperates and a simple increment when it
// does not, so they stay unique across rapid emissions.
type idGen struct {
	last int64
}

func (g *idGen) next() int64 {
	id := time.Now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
