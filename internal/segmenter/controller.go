package segmenter

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// Defaults for the tunable segmentation parameters, in seconds.
const (
	DefaultMaxSegmentDuration = 3.0
	DefaultLookbackDuration   = 9.0
	DefaultPreRoll            = 0.5
	DefaultMinDuration        = 0.5
)

// maxRecentChunks caps how many timeout chunks from the current utterance
// remain eligible for replacement. Older chunks stay accepted for good.
const maxRecentChunks = 3

// Config carries the segmentation parameters. Zero values fall back to the
// package defaults; SilenceKeep additionally defaults to twice the maximum
// segment duration.
type Config struct {
	// MaxSegmentDuration is how much uncut utterance audio may accumulate
	// before a timeout chunk is emitted.
	MaxSegmentDuration float64

	// LookbackDuration bounds how much preceding audio is re-transcribed
	// when an utterance ends.
	LookbackDuration float64

	// PreRoll is how far before the detected speech onset the utterance
	// start is placed, to compensate for detector latency.
	PreRoll float64

	// MinDuration is the shortest utterance worth transcribing. Shorter
	// utterances are dropped without a segment.
	MinDuration float64

	// SilenceKeep is the most idle silence retained in the buffer before
	// the prefix is trimmed.
	SilenceKeep float64
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentDuration <= 0 {
		c.MaxSegmentDuration = DefaultMaxSegmentDuration
	}
	if c.LookbackDuration <= 0 {
		c.LookbackDuration = DefaultLookbackDuration
	}
	if c.PreRoll <= 0 {
		c.PreRoll = DefaultPreRoll
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.SilenceKeep <= 0 {
		c.SilenceKeep = 2 * c.MaxSegmentDuration
	}
	return c
}

// Controller owns the segmentation state for one session. It is not safe
// for concurrent use; the session drives it from a single goroutine.
type Controller struct {
	buf *audio.Buffer
	log *slog.Logger

	maxSamples      int64
	lookbackSamples int64
	preRollSamples  int64
	minSamples      int64
	keepSamples     int64

	active         bool
	utteranceStart int64
	lastChunkEnd   int64
	recent         []Segment

	ids idGen
}

// New creates a controller over the session's buffer.
func New(buf *audio.Buffer, cfg Config) (*Controller, error) {
	if buf == nil {
		return nil, fmt.Errorf("segmenter: buffer must not be nil")
	}
	cfg = cfg.withDefaults()
	if cfg.LookbackDuration < cfg.MaxSegmentDuration {
		return nil, fmt.Errorf("segmenter: lookback %.1fs shorter than max segment %.1fs",
			cfg.LookbackDuration, cfg.MaxSegmentDuration)
	}

	rate := float64(buf.SampleRate())
	return &Controller{
		buf:             buf,
		log:             slog.Default(),
		maxSamples:      int64(cfg.MaxSegmentDuration * rate),
		lookbackSamples: int64(cfg.LookbackDuration * rate),
		preRollSamples:  int64(cfg.PreRoll * rate),
		minSamples:      int64(cfg.MinDuration * rate),
		keepSamples:     int64(cfg.SilenceKeep * rate),
	}, nil
}

// SetLogger replaces the logger, typically with one carrying the session id.
func (c *Controller) SetLogger(log *slog.Logger) { c.log = log }

// Active reports whether an utterance is in progress.
func (c *Controller) Active() bool { return c.active }

// OnAudio consumes the voice-activity result for one push spanning the
// absolute range [pushStart, pushEnd) and returns the transcription
// requests that fall due. busy suppresses timeout-chunk cuts while a
// transcription is already in flight; the deferred cut happens on the next
// [Controller.Resume]. Utterance-end requests are produced regardless of
// busy, because they must be transcribed eventually no matter how far the
// provider lags.
func (c *Controller) OnAudio(res vad.Result, pushStart, pushEnd int64, busy bool) []Request {
	var out []Request

	if res.StateChanged {
		edge := pushStart + int64(res.ChangeOffset)
		if base := c.buf.BaseOffset(); edge < base {
			edge = base
		}
		if res.IsSpeaking {
			c.beginUtterance(edge)
		} else if c.active {
			out = append(out, c.endUtterance(edge)...)
		}
	}

	if c.active && !busy {
		out = append(out, c.cutDueChunk(pushEnd)...)
	}
	if !c.active {
		c.idleTrim()
	}
	return out
}

// Resume re-evaluates chunk cutting after an in-flight transcription
// completes. Chunk deadlines that elapsed while the provider was busy
// coalesce into at most one cut here.
func (c *Controller) Resume() []Request {
	if !c.active {
		return nil
	}
	return c.cutDueChunk(c.buf.End())
}

// Flush treats the current position as a synthetic speech-to-silence edge.
// Used when the client stops recording mid-utterance.
func (c *Controller) Flush() []Request {
	if !c.active {
		return nil
	}
	return c.endUtterance(c.buf.End())
}

// Reset discards all utterance state. The buffer is the session's to clear.
func (c *Controller) Reset() {
	c.active = false
	c.utteranceStart = 0
	c.lastChunkEnd = 0
	c.recent = nil
}

// ---- state transitions ------------------------------------------------------

func (c *Controller) beginUtterance(edge int64) {
	if c.active {
		return
	}
	start := edge - c.preRollSamples
	if base := c.buf.BaseOffset(); start < base {
		start = base
	}
	c.active = true
	c.utteranceStart = start
	c.lastChunkEnd = start
	c.recent = nil
	c.log.Debug("utterance started", "start_index", start, "edge_index", edge)
}

// cutDueChunk emits one timeout chunk when a full chunk of uncut audio has
// accumulated. Deadlines that elapsed while cutting was suppressed coalesce:
// each call cuts at most one chunk, never reaching past now.
func (c *Controller) cutDueChunk(now int64) []Request {
	if now-c.lastChunkEnd < c.maxSamples {
		return nil
	}
	end := c.lastChunkEnd + c.maxSamples

	samples, err := c.buf.Extract(c.lastChunkEnd, end)
	if err != nil {
		c.log.Error("chunk range no longer in buffer", "start", c.lastChunkEnd, "end", end, "error", err)
		c.lastChunkEnd = end
		return nil
	}

	seg := Segment{
		ID:    c.ids.next(),
		Start: c.lastChunkEnd,
		End:   end,
		Kind:  KindTimeoutChunk,
	}
	c.lastChunkEnd = end
	c.recent = append(c.recent, seg)
	if len(c.recent) > maxRecentChunks {
		c.recent = c.recent[len(c.recent)-maxRecentChunks:]
	}

	c.log.Debug("timeout chunk cut", "segment_id", seg.ID, "start_index", seg.Start, "end_index", seg.End)
	return []Request{{Segment: seg, Samples: samples}}
}

// endUtterance runs the utterance-end policy for the utterance closing at
// absolute index end, then trims the processed audio and returns to idle.
func (c *Controller) endUtterance(end int64) []Request {
	start := c.utteranceStart
	defer func() {
		c.active = false
		c.utteranceStart = 0
		c.lastChunkEnd = 0
		c.recent = nil
		c.buf.TrimBefore(end)
	}()

	if end <= start {
		return nil
	}

	var seg Segment
	switch {
	case len(c.recent) == 0:
		// Short utterance with no provisional cuts: one final pass.
		if end-start < c.minSamples {
			c.log.Debug("utterance below minimum duration, dropped",
				"start_index", start, "end_index", end)
			return nil
		}
		seg = Segment{ID: c.ids.next(), Start: start, End: end, Kind: KindFinal}

	case end-start <= c.lookbackSamples:
		// The whole utterance fits the lookback window: re-transcribe it
		// in one piece and retire every provisional chunk.
		seg = Segment{
			ID:       c.ids.next(),
			Start:    start,
			End:      end,
			Kind:     KindReprocessed,
			Replaces: chunkIDs(c.recent),
		}

	default:
		// Re-cut at the first chunk boundary inside the lookback window so
		// the replaced region is an exact suffix of what was emitted.
		lookStart := end - c.lookbackSamples
		cut := -1
		for i, ch := range c.recent {
			if ch.Start >= lookStart {
				cut = i
				break
			}
		}
		if cut < 0 {
			// No boundary in range: transcribe only the untranscribed tail
			// and leave every chunk accepted.
			seg = Segment{ID: c.ids.next(), Start: c.lastChunkEnd, End: end, Kind: KindFinal}
			break
		}
		seg = Segment{
			ID:       c.ids.next(),
			Start:    c.recent[cut].Start,
			End:      end,
			Kind:     KindReprocessed,
			Replaces: chunkIDs(c.recent[cut:]),
		}
	}

	samples, err := c.buf.Extract(seg.Start, seg.End)
	if err != nil {
		c.log.Error("utterance range no longer in buffer",
			"start", seg.Start, "end", seg.End, "error", err)
		return nil
	}

	c.log.Debug("utterance ended",
		"segment_id", seg.ID, "kind", seg.Kind.String(),
		"start_index", seg.Start, "end_index", seg.End, "replaces", len(seg.Replaces))
	return []Request{{Segment: seg, Samples: samples}}
}

// idleTrim bounds how much silence the buffer retains between utterances.
// The tail kept is enough to serve the next utterance's pre-roll.
func (c *Controller) idleTrim() {
	end := c.buf.End()
	if end-c.buf.BaseOffset() >= c.keepSamples {
		c.buf.TrimBefore(end - c.maxSamples)
	}
}

func chunkIDs(chunks []Segment) []int64 {
	ids := make([]int64, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	return ids
}
