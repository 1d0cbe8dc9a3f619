// Package sink archives transcription requests to disk: one WAV clip and
// one JSON metadata file per request, error reports for failed ones.
// Writes happen on a background goroutine so the transcription path never
// blocks on disk.
package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/audio"
)

// subdir is the directory under the data dir that holds the archive.
const subdir = "asr"

// defaultQueueSize bounds the pending writes. Records beyond it are
// dropped with a warning rather than stalling the pipeline.
const defaultQueueSize = 256

// Option configures a [Sink].
type Option func(*Sink)

// WithQueueSize sets the pending-write capacity.
func WithQueueSize(n int) Option {
	return func(s *Sink) { s.queueSize = n }
}

// Sink writes transcription records under {dataDir}/asr. It satisfies
// [session.Recorder].
type Sink struct {
	dir       string
	log       *slog.Logger
	queueSize int

	queue chan session.Record
	wg    sync.WaitGroup
	once  sync.Once
}

// New creates the archive directory and starts the writer goroutine.
func New(dataDir string, opts ...Option) (*Sink, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("sink: data dir must not be empty")
	}
	dir := filepath.Join(dataDir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", dir, err)
	}

	s := &Sink{
		dir:       dir,
		log:       slog.Default().With("component", "sink"),
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan session.Record, s.queueSize)
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

// Dir returns the archive directory.
func (s *Sink) Dir() string { return s.dir }

// Probe verifies dir is writable by creating and removing a marker file.
// Readiness checks use it to catch full or read-only volumes.
func Probe(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("sink: archive dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Record enqueues one transcription record. Never blocks; the record is
// dropped when the queue is full.
func (s *Sink) Record(rec session.Record) {
	select {
	case s.queue <- rec:
	default:
		s.log.Warn("archive queue full, dropping record",
			"client_id", rec.SessionID, "segment_id", rec.SegmentID)
	}
}

// Close drains pending writes and stops the writer. Safe to call more
// than once.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
	return nil
}

// ---- writer -----------------------------------------------------------------

func (s *Sink) writer() {
	defer s.wg.Done()
	for rec := range s.queue {
		if err := s.write(rec); err != nil {
			s.log.Warn("archive write failed",
				"client_id", rec.SessionID, "segment_id", rec.SegmentID, "error", err)
		}
	}
}

// metadata is the JSON document written next to each clip.
type metadata struct {
	SessionID  string  `json:"client_id"`
	SegmentID  int64   `json:"segment_id"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationS  float64 `json:"duration_s"`
	SampleRate int     `json:"sample_rate"`
	ElapsedMS  int64   `json:"elapsed_ms"`
	CreatedAt  string  `json:"created_at"`
}

func (s *Sink) write(rec session.Record) error {
	meta := metadata{
		SessionID:  rec.SessionID,
		SegmentID:  rec.SegmentID,
		Kind:       rec.Kind,
		Text:       rec.Text,
		DurationS:  float64(len(rec.Samples)) / float64(rec.SampleRate),
		SampleRate: rec.SampleRate,
		ElapsedMS:  rec.Elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	base := s.basename(rec.SegmentID)
	if rec.Err != nil {
		meta.Error = rec.Err.Error()
		return writeJSON(filepath.Join(s.dir, base+"_error.json"), meta)
	}

	wav := audio.EncodeWAV(rec.Samples, rec.SampleRate)
	if err := os.WriteFile(filepath.Join(s.dir, base+".wav"), wav, 0o644); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, base+".json"), meta)
}

// basename picks a free {unix_ms} stem, suffixing on the rare collision
// between sessions.
func (s *Sink) basename(segmentID int64) string {
	base := fmt.Sprintf("%d", segmentID)
	name := base
	for i := 1; ; i++ {
		_, errWav := os.Stat(filepath.Join(s.dir, name+".wav"))
		_, errJSON := os.Stat(filepath.Join(s.dir, name+"_error.json"))
		if os.IsNotExist(errWav) && os.IsNotExist(errJSON) {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
