// Package session runs the per-client streaming pipeline: audio buffer,
// voice-activity detection, segmentation, remote transcription and optional
// LLM correction, glued to the wire protocol.
//
// A [Session] is owned by a single run goroutine that consumes inbound
// frames from a bounded inbox, so none of the pipeline state needs locking.
// Transcription happens on a separate worker goroutine, strictly one
// request at a time; while a request is in flight the segmenter suppresses
// further chunk cuts and the elapsed deadlines coalesce when the worker
// frees up. The [Manager] owns the session registry and the global
// transcription concurrency limit.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxgate/internal/llmcorrect"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/segmenter"
	"github.com/MrWong99/voxgate/internal/wire"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/asr"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// Defaults for the tunable session parameters.
const (
	DefaultSampleRate     = 16000
	DefaultHistorySize    = 10
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultOutboundBuffer = 64
)

// jobQueueSize bounds the transcription jobs waiting behind the in-flight
// one. Chunk cuts are suppressed while busy, so the queue only ever holds
// utterance-end work.
const jobQueueSize = 8

// selfTestTimeout bounds the provider connectivity check run during
// session configuration.
const selfTestTimeout = 10 * time.Second

// ErrClosed is returned when a frame is submitted to a closed session.
var ErrClosed = errors.New("session: closed")

// Corrector is the slice of the LLM corrector the session needs. Satisfied
// by [llmcorrect.Corrector].
type Corrector interface {
	Correct(ctx context.Context, text string) (llmcorrect.Result, error)
}

// Factory builds per-session providers from the client's config message.
// Implementations live in the app wiring; tests use doubles.
type Factory interface {
	// ASR returns the transcription provider for a session. Rejecting the
	// credentials here ends the session with a configuration error.
	ASR(cfg wire.ConfigData) (asr.Provider, error)

	// Corrector returns the transcript corrector, or nil when correction
	// is disabled server-side. Only consulted when the client asked for it.
	Corrector(cfg wire.ConfigData) (Corrector, error)

	// Classifier returns a fresh VAD classifier for the session, or nil to
	// run on the energy gate.
	Classifier() (vad.Classifier, error)
}

// Record is one completed transcription request, handed to the [Recorder]
// for archival.
type Record struct {
	SessionID  string
	SegmentID  int64
	Kind       string
	Samples    []float32
	SampleRate int
	Text       string
	Err        error
	Elapsed    time.Duration
}

// Recorder archives transcription requests. Record must not block; the
// sink package queues writes internally.
type Recorder interface {
	Record(rec Record)
}

// Config carries the per-session tunables. Zero values fall back to the
// package defaults.
type Config struct {
	// SampleRate is the internal pipeline rate. Client audio at other
	// rates is resampled on ingest.
	SampleRate int

	// HistorySize caps how many accepted transcripts are kept for prompt
	// conditioning.
	HistorySize int

	// IdleTimeout closes a session that has received no frames for this
	// long.
	IdleTimeout time.Duration

	// OutboundBuffer is the capacity of the outbound envelope channel.
	// When a client cannot keep up, excess messages are dropped.
	OutboundBuffer int

	// VADThreshold is the server-side default speech threshold. The
	// client's config message may override it.
	VADThreshold float64

	// VADSilenceDuration arms the silence-timeout hint, in seconds.
	VADSilenceDuration float64

	// Segmenter carries the segmentation parameters. The client's
	// chunk_duration override replaces MaxSegmentDuration.
	Segmenter segmenter.Config
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = DefaultOutboundBuffer
	}
	return c
}

// Info is a point-in-time snapshot of one session, served on the REST
// surfaces.
type Info struct {
	ID           string    `json:"client_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Configured   bool      `json:"configured"`
	Messages     int64     `json:"messages_received"`
	Segments     int64     `json:"segments_emitted"`
	ASRMillis    int64     `json:"asr_time_ms"`
}

// ---- events and jobs --------------------------------------------------------

type eventKind int

const (
	evText eventKind = iota
	evBinary
	evControl
)

type event struct {
	kind eventKind
	raw  []byte
	cmd  string
}

type job struct {
	ctx     context.Context
	epoch   int64
	req     segmenter.Request
	prompt  string
	correct bool
}

type jobDone struct {
	job       job
	stale     bool
	text      string
	corrected string
	elapsed   time.Duration
	err       error
}

type historyEntry struct {
	id   int64
	text string
}

// ---- session ----------------------------------------------------------------

// Session is one client's streaming pipeline. All exported methods are safe
// for concurrent use; the pipeline itself runs on the session's own
// goroutine.
type Session struct {
	id       string
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	valid    *wire.Validator
	factory  Factory
	recorder Recorder
	sem      *semaphore.Weighted
	onClose  func(*Session)

	ctx    context.Context
	cancel context.CancelFunc

	inbox chan event
	out   chan wire.Envelope
	jobs  chan job
	done  chan jobDone

	// Pipeline state, owned by the run goroutine.
	clientCfg wire.ConfigData
	provider  asr.Provider
	corrector Corrector
	buf       *audio.Buffer
	engine    *vad.Engine
	ctrl      *segmenter.Controller
	recording bool
	inFlight  int
	finals    int
	deferred  []wire.Envelope
	history   []historyEntry

	// epoch invalidates queued and in-flight jobs on reset.
	epoch     atomic.Int64
	jobCtx    context.Context
	jobCancel context.CancelFunc

	createdAt  time.Time
	configured atomic.Bool
	lastActive atomic.Int64
	messages   atomic.Int64
	segments   atomic.Int64
	asrMillis  atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

func newSession(id string, cfg Config, factory Factory, valid *wire.Validator,
	metrics *observe.Metrics, recorder Recorder, sem *semaphore.Weighted,
	onClose func(*Session)) *Session {

	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(ctx)
	s := &Session{
		id:        id,
		cfg:       cfg,
		log:       slog.Default().With("client_id", id),
		metrics:   metrics,
		valid:     valid,
		factory:   factory,
		recorder:  recorder,
		sem:       sem,
		onClose:   onClose,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan event, 16),
		out:       make(chan wire.Envelope, cfg.OutboundBuffer),
		jobs:      make(chan job, jobQueueSize),
		done:      make(chan jobDone, 2*jobQueueSize),
		jobCtx:    jobCtx,
		jobCancel: jobCancel,
		createdAt: time.Now(),
		closed:    make(chan struct{}),
	}
	s.lastActive.Store(s.createdAt.UnixNano())
	return s
}

// start launches the run loop and the transcription worker.
func (s *Session) start() {
	s.wg.Add(2)
	go s.run()
	go s.worker()
}

// ID returns the session's client id.
func (s *Session) ID() string { return s.id }

// Outbound is the stream of envelopes to deliver to the client. It is
// closed when the session ends.
func (s *Session) Outbound() <-chan wire.Envelope { return s.out }

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close ends the session. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
}

// Snapshot returns the session's current counters.
func (s *Session) Snapshot() Info {
	return Info{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		LastActivity: time.Unix(0, s.lastActive.Load()),
		Configured:   s.configured.Load(),
		Messages:     s.messages.Load(),
		Segments:     s.segments.Load(),
		ASRMillis:    s.asrMillis.Load(),
	}
}

// HandleText submits one text frame. Blocks while the inbox is full, which
// propagates backpressure to the socket reader.
func (s *Session) HandleText(raw []byte) error {
	return s.submit(event{kind: evText, raw: raw})
}

// HandleBinary submits one binary frame of little-endian float32 samples.
// An empty frame is the stop signal.
func (s *Session) HandleBinary(data []byte) error {
	if len(data) == 0 {
		return s.submit(event{kind: evControl, cmd: wire.CommandStop})
	}
	return s.submit(event{kind: evBinary, raw: data})
}

// InjectControl submits a control command on behalf of an operator, as if
// the client had sent it.
func (s *Session) InjectControl(cmd string) error {
	return s.submit(event{kind: evControl, cmd: cmd})
}

func (s *Session) submit(ev event) error {
	select {
	case s.inbox <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// ---- run loop ---------------------------------------------------------------

func (s *Session) run() {
	defer s.wg.Done()
	defer s.finish()

	s.sendStatus(wire.StatusData{Status: wire.StatusConnecting, ClientID: s.id})

	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case d := <-s.done:
			s.onJobDone(d)
		case ev := <-s.inbox:
			s.lastActive.Store(time.Now().UnixNano())
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.cfg.IdleTimeout)
			if !s.dispatch(ev) {
				return
			}
		case <-idle.C:
			s.log.Info("session idle timeout")
			s.sendError(wire.NewError(wire.CodeStreaming, "session closed after %s of inactivity", s.cfg.IdleTimeout))
			return
		}
	}
}

// dispatch handles one inbound event. A false return ends the session.
func (s *Session) dispatch(ev event) bool {
	switch ev.kind {
	case evControl:
		s.metrics.RecordStreamMessage(s.ctx, string(wire.TypeControl))
		s.messages.Add(1)
		return s.handleCommand(ev.cmd, nil)

	case evBinary:
		s.messages.Add(1)
		s.metrics.RecordStreamMessage(s.ctx, string(wire.TypeAudio))
		samples, err := wire.DecodeBinaryAudio(ev.raw)
		if err != nil {
			return s.sendError(wire.FromError(err))
		}
		return s.handleSamples(samples, s.cfg.SampleRate)

	case evText:
		in, err := wire.DecodeInbound(ev.raw)
		if err != nil {
			s.messages.Add(1)
			return s.sendError(wire.FromError(err))
		}
		s.messages.Add(1)
		s.metrics.RecordStreamMessage(s.ctx, string(in.Type))
		if err := s.valid.Validate(in.Type, in.Data); err != nil {
			return s.sendError(wire.FromError(err))
		}
		switch in.Type {
		case wire.TypeConfig:
			return s.handleConfig(in)
		case wire.TypeAudio:
			return s.handleAudio(in)
		case wire.TypeControl:
			data, err := in.Control()
			if err != nil {
				return s.sendError(wire.FromError(err))
			}
			return s.handleCommand(data.Command, data.Parameters)
		}
	}
	return true
}

func (s *Session) handleConfig(in *wire.Inbound) bool {
	if s.configured.Load() {
		return s.sendError(wire.NewError(wire.CodeValidation, "session is already configured"))
	}
	cfg, err := in.Config()
	if err != nil {
		return s.sendError(wire.FromError(err))
	}

	provider, err := s.factory.ASR(cfg)
	if err != nil {
		return s.sendError(wire.WrapError(wire.CodeConfiguration, err, "transcription provider rejected the session config"))
	}

	// Fail fast on dead endpoints or bad credentials before telling the
	// client we are ready.
	stCtx, stCancel := context.WithTimeout(s.ctx, selfTestTimeout)
	err = provider.SelfTest(stCtx)
	stCancel()
	if err != nil {
		return s.sendError(wire.WrapError(wire.CodeConfiguration, err, "transcription provider connectivity test failed"))
	}

	var corrector Corrector
	if cfg.EnableLLM {
		corrector, err = s.factory.Corrector(cfg)
		if err != nil {
			return s.sendError(wire.WrapError(wire.CodeConfiguration, err, "correction provider rejected the session config"))
		}
	}

	engine, err := s.buildEngine(cfg)
	if err != nil {
		return s.sendError(wire.WrapError(wire.CodeConfiguration, err, "invalid detector settings"))
	}

	buf := audio.NewBuffer(s.cfg.SampleRate)
	segCfg := s.cfg.Segmenter
	if cfg.ChunkDuration != nil && *cfg.ChunkDuration > 0 {
		segCfg.MaxSegmentDuration = *cfg.ChunkDuration
	}
	ctrl, err := segmenter.New(buf, segCfg)
	if err != nil {
		_ = engine.Close()
		return s.sendError(wire.WrapError(wire.CodeConfiguration, err, "invalid segmentation settings"))
	}
	ctrl.SetLogger(s.log)

	s.clientCfg = cfg
	s.provider = provider
	s.corrector = corrector
	s.buf = buf
	s.engine = engine
	s.ctrl = ctrl
	s.configured.Store(true)

	s.log.Info("session configured",
		"provider", provider.Name(),
		"llm_enabled", corrector != nil,
		"language", cfg.Language,
	)
	s.sendStatus(wire.StatusData{
		Status:   wire.StatusReady,
		ClientID: s.id,
		Metadata: map[string]any{"llm_enabled": corrector != nil},
	})
	return true
}

func (s *Session) buildEngine(cfg wire.ConfigData) (*vad.Engine, error) {
	var opts []vad.Option
	switch {
	case cfg.VADThreshold != nil:
		opts = append(opts, vad.WithThreshold(*cfg.VADThreshold))
	case s.cfg.VADThreshold > 0:
		opts = append(opts, vad.WithThreshold(s.cfg.VADThreshold))
	}
	if s.cfg.VADSilenceDuration > 0 {
		opts = append(opts, vad.WithSilenceDuration(s.cfg.VADSilenceDuration))
	}
	classifier, err := s.factory.Classifier()
	if err != nil {
		s.log.Warn("vad classifier unavailable, running on energy gate", "error", err)
	} else if classifier != nil {
		opts = append(opts, vad.WithClassifier(classifier))
	}
	return vad.New(s.cfg.SampleRate, opts...)
}

func (s *Session) handleAudio(in *wire.Inbound) bool {
	if !s.configured.Load() {
		return s.sendError(wire.NewError(wire.CodeConfiguration, "send a config message before streaming audio"))
	}
	data, err := in.Audio()
	if err != nil {
		return s.sendError(wire.FromError(err))
	}
	return s.handleSamples(data.Samples, data.SampleRate)
}

func (s *Session) handleSamples(samples []float32, rate int) bool {
	if !s.configured.Load() {
		return s.sendError(wire.NewError(wire.CodeConfiguration, "send a config message before streaming audio"))
	}
	if !s.recording {
		s.log.Debug("audio dropped while not recording", "samples", len(samples))
		return true
	}
	if len(samples) == 0 {
		return true
	}
	if rate > 0 && rate != s.cfg.SampleRate {
		samples = audio.ResampleFloat(samples, rate, s.cfg.SampleRate)
	}

	pushStart := s.buf.End()
	if err := s.buf.Append(samples); err != nil {
		return s.sendError(wire.WrapError(wire.CodeAudioProcessing, err, "audio rejected"))
	}

	vadStart := time.Now()
	res, err := s.engine.Process(samples)
	if err != nil {
		return s.sendError(wire.WrapError(wire.CodeVAD, err, "voice activity detection failed"))
	}
	s.metrics.VADDuration.Record(s.ctx, time.Since(vadStart).Seconds())

	status := wire.StatusReady
	if res.IsSpeaking || s.ctrl.Active() {
		status = wire.StatusProcessing
	}
	s.sendStatus(wire.StatusData{
		Status:   status,
		ClientID: s.id,
		VADState: vadStateOf(res),
	})

	s.enqueue(s.ctrl.OnAudio(res, pushStart, s.buf.End(), s.inFlight > 0))
	return true
}

func (s *Session) handleCommand(cmd string, _ map[string]any) bool {
	if !s.configured.Load() && cmd != wire.CommandStart {
		return s.sendError(wire.NewError(wire.CodeConfiguration, "send a config message before control commands"))
	}
	switch cmd {
	case wire.CommandStart:
		// Arm the pipeline. A restart mid-session discards any leftover
		// utterance state from before the stop.
		s.recording = true
		if s.ctrl != nil {
			s.ctrl.Reset()
		}

	case wire.CommandStop:
		// Disarm, then flush the open utterance. An in-flight
		// transcription is left to finish; the utterance-end job queues
		// behind it.
		s.recording = false
		s.enqueue(s.ctrl.Flush())

	case wire.CommandReset:
		s.reset()

	case wire.CommandPause:
		s.recording = false

	case wire.CommandResume:
		s.recording = true
		s.enqueue(s.ctrl.Resume())

	default:
		return s.sendError(wire.NewError(wire.CodeValidation, "unknown control command %q", cmd))
	}
	s.sendStatus(wire.StatusData{
		Status:   wire.StatusReady,
		ClientID: s.id,
		Metadata: map[string]any{"command": cmd},
	})
	return true
}

// reset discards all pipeline state. Queued and in-flight transcriptions
// are cancelled and their results dropped when they surface.
func (s *Session) reset() {
	s.epoch.Add(1)
	s.jobCancel()
	s.jobCtx, s.jobCancel = context.WithCancel(s.ctx)

	s.buf.Clear()
	s.engine.Reset()
	s.ctrl.Reset()
	s.recording = false
	s.history = nil
	s.deferred = nil
	s.log.Info("session reset")
}

// ---- transcription ----------------------------------------------------------

// enqueue turns segment requests into transcription jobs.
func (s *Session) enqueue(reqs []segmenter.Request) {
	for _, req := range reqs {
		j := job{
			ctx:     s.jobCtx,
			epoch:   s.epoch.Load(),
			req:     req,
			prompt:  s.promptFor(req),
			correct: req.Kind != segmenter.KindTimeoutChunk && s.corrector != nil,
		}
		s.inFlight++
		if req.Kind != segmenter.KindTimeoutChunk {
			s.finals++
		}
		select {
		case s.jobs <- j:
		case <-s.ctx.Done():
			return
		}
	}
}

// promptFor builds the conditioning prompt: the last two accepted
// transcripts, skipping the ones this request supersedes.
func (s *Session) promptFor(req segmenter.Request) string {
	skip := make(map[int64]bool, len(req.Replaces))
	for _, id := range req.Replaces {
		skip[id] = true
	}
	var parts []string
	for i := len(s.history) - 1; i >= 0 && len(parts) < 2; i-- {
		if skip[s.history[i].id] {
			continue
		}
		parts = append(parts, s.history[i].text)
	}
	// Collected newest-first; the prompt reads oldest-first.
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return parts[1] + " " + parts[0]
	}
}

// worker executes transcription jobs strictly one at a time.
func (s *Session) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		s.done <- s.runJob(j)
	}
}

func (s *Session) runJob(j job) jobDone {
	if j.epoch != s.epoch.Load() || j.ctx.Err() != nil {
		return jobDone{job: j, stale: true}
	}
	if s.sem != nil {
		if err := s.sem.Acquire(j.ctx, 1); err != nil {
			return jobDone{job: j, stale: true}
		}
		defer s.sem.Release(1)
	}

	d := jobDone{job: j}
	start := time.Now()
	res, err := s.provider.Transcribe(j.ctx, j.req.Samples, j.prompt)
	d.elapsed = time.Since(start)
	s.metrics.ASRDuration.Record(j.ctx, d.elapsed.Seconds())
	if err != nil {
		if j.ctx.Err() != nil {
			d.stale = true
			return d
		}
		d.err = err
		s.metrics.RecordProviderRequest(j.ctx, s.provider.Name(), "asr", "error")
	} else {
		d.text = res.Text
		s.metrics.RecordProviderRequest(j.ctx, s.provider.Name(), "asr", "ok")
	}

	if d.err == nil && j.correct && d.text != "" {
		cres, cerr := s.corrector.Correct(j.ctx, d.text)
		s.metrics.CorrectorDuration.Record(j.ctx, cres.Elapsed.Seconds())
		if cerr != nil {
			s.log.Warn("transcript correction failed", "segment_id", j.req.ID, "error", cerr)
			s.metrics.RecordProviderError(j.ctx, "corrector", string(wire.CodeLLMProvider))
		}
		if cres.Corrected {
			d.corrected = cres.Text
		}
	}

	if s.recorder != nil {
		s.recorder.Record(Record{
			SessionID:  s.id,
			SegmentID:  j.req.ID,
			Kind:       j.req.Kind.String(),
			Samples:    j.req.Samples,
			SampleRate: s.cfg.SampleRate,
			Text:       d.text,
			Err:        d.err,
			Elapsed:    d.elapsed,
		})
	}
	return d
}

// onJobDone delivers one transcription outcome back into the pipeline.
func (s *Session) onJobDone(d jobDone) {
	s.inFlight--
	wasFinal := d.job.req.Kind != segmenter.KindTimeoutChunk
	if wasFinal {
		s.finals--
	}

	if d.stale || d.job.epoch != s.epoch.Load() {
		s.flushDeferred()
		return
	}

	s.asrMillis.Add(d.elapsed.Milliseconds())

	result := wire.ResultData{
		SegmentID:        d.job.req.ID,
		Text:             d.text,
		CorrectedText:    d.corrected,
		IsFinal:          wasFinal,
		IsTimeoutChunk:   d.job.req.Kind == segmenter.KindTimeoutChunk,
		IsReprocessed:    d.job.req.Kind == segmenter.KindReprocessed,
		ReplacesSegments: d.job.req.Replaces,
		ProcessingTimeMS: d.elapsed.Milliseconds(),
	}

	if d.err != nil {
		// The failed range is not retried: the client gets an empty
		// transcript under the same segment id, and for utterance-end
		// segments the provisional chunks stay accepted.
		result.Text = ""
		result.CorrectedText = ""
		if wasFinal {
			result.ReplacesSegments = nil
		}
		werr := codeForASR(d.err)
		s.metrics.RecordProviderError(s.ctx, s.provider.Name(), string(werr.Code))
		s.log.Error("transcription failed",
			"segment_id", d.job.req.ID, "kind", d.job.req.Kind.String(), "error", d.err)
		if !s.sendError(werr) {
			s.Close()
			return
		}
	} else {
		s.retireReplaced(d.job.req.Replaces)
		text := result.CorrectedText
		if text == "" {
			text = result.Text
		}
		if text != "" {
			s.history = append(s.history, historyEntry{id: d.job.req.ID, text: text})
			if len(s.history) > s.cfg.HistorySize {
				s.history = s.history[len(s.history)-s.cfg.HistorySize:]
			}
		}
	}

	s.send(wire.NewResultEnvelope(result))
	s.segments.Add(1)
	s.metrics.RecordSegment(s.ctx, d.job.req.Kind.String())

	s.flushDeferred()
	if s.inFlight == 0 {
		s.enqueue(s.ctrl.Resume())
	}
}

// retireReplaced drops superseded transcripts from the prompt history.
func (s *Session) retireReplaced(ids []int64) {
	if len(ids) == 0 {
		return
	}
	replaced := make(map[int64]bool, len(ids))
	for _, id := range ids {
		replaced[id] = true
	}
	kept := s.history[:0]
	for _, h := range s.history {
		if !replaced[h.id] {
			kept = append(kept, h)
		}
	}
	s.history = kept
}

// codeForASR maps a provider failure onto the wire taxonomy.
func codeForASR(err error) *wire.Error {
	var ae *asr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case asr.KindAuth:
			return wire.WrapError(wire.CodeConfiguration, err, "transcription credentials rejected")
		case asr.KindTimeout:
			return wire.WrapError(wire.CodeASRProvider, err, "transcription timed out")
		}
	}
	return wire.WrapError(wire.CodeASRProvider, err, "transcription failed")
}

// ---- outbound ---------------------------------------------------------------

// send queues one envelope for delivery, dropping it when the client
// cannot keep up.
func (s *Session) send(env wire.Envelope) {
	select {
	case s.out <- env:
	default:
		s.log.Warn("outbound buffer full, dropping message", "type", string(env.Type))
	}
}

// sendStatus queues a status message. While an utterance-end transcription
// is in flight, statuses are held back so the final result is never
// overtaken.
func (s *Session) sendStatus(data wire.StatusData) {
	env := wire.NewStatusEnvelope(data)
	if s.finals > 0 {
		s.deferred = append(s.deferred, env)
		return
	}
	s.send(env)
}

func (s *Session) flushDeferred() {
	if s.finals > 0 || len(s.deferred) == 0 {
		return
	}
	for _, env := range s.deferred {
		s.send(env)
	}
	s.deferred = nil
}

// sendError reports a coded failure to the client. A false return means
// the error is unrecoverable and the session must end.
func (s *Session) sendError(werr *wire.Error) bool {
	s.send(wire.NewErrorEnvelope(werr.Data()))
	if !werr.Code.Recoverable() {
		s.log.Warn("unrecoverable error, closing session",
			"code", string(werr.Code), "message", werr.Message)
		return false
	}
	return true
}

func vadStateOf(res vad.Result) *wire.VADState {
	state := wire.VADStateSilence
	if res.IsSpeaking {
		state = wire.VADStateSpeech
	}
	return &wire.VADState{
		IsSpeaking:     res.IsSpeaking,
		CurrentState:   state,
		StateChanged:   res.StateChanged,
		Probability:    res.Probability,
		RMS:            res.RMS,
		MaxAmplitude:   res.Peak,
		SilenceTimeout: res.SilenceTimeout,
	}
}

// ---- teardown ---------------------------------------------------------------

func (s *Session) finish() {
	s.cancel()
	s.jobCancel()
	close(s.jobs)

	s.send(wire.NewStatusEnvelope(wire.StatusData{
		Status:   wire.StatusDisconnected,
		ClientID: s.id,
	}))
	close(s.out)

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.Warn("vad engine close", "error", err)
		}
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.log.Info("session closed",
		"messages", s.messages.Load(),
		"segments", s.segments.Load(),
		"asr_time_ms", s.asrMillis.Load(),
	)
	close(s.closed)
}
