package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/wire"
)

// Defaults for the manager tunables.
const (
	DefaultMaxSessions = 100
	DefaultWorkers     = 4
)

// ManagerConfig carries the session-pool tunables. Zero values fall back
// to the package defaults.
type ManagerConfig struct {
	// MaxSessions caps concurrently open sessions. Opens beyond the cap
	// fail with an AT_CAPACITY error.
	MaxSessions int

	// Workers bounds concurrent transcription requests across all
	// sessions. Each session is additionally limited to one in-flight
	// request of its own.
	Workers int64

	// Session is the template config applied to every session.
	Session Config
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithRecorder sets the transcription-request archive.
func WithRecorder(r Recorder) ManagerOption {
	return func(mgr *Manager) { mgr.recorder = r }
}

// Stats aggregates the pool counters for the REST surface.
type Stats struct {
	ActiveSessions int   `json:"active_sessions"`
	TotalSessions  int64 `json:"total_sessions"`
	TotalMessages  int64 `json:"total_messages"`
	TotalSegments  int64 `json:"total_segments"`
	ASRTimeMS      int64 `json:"total_asr_time_ms"`
	UptimeSeconds  int64 `json:"uptime_seconds"`
}

// Manager owns the session registry, the capacity cap, and the global
// transcription concurrency limit. All methods are safe for concurrent
// use.
type Manager struct {
	cfg      ManagerConfig
	factory  Factory
	valid    *wire.Validator
	metrics  *observe.Metrics
	recorder Recorder
	sem      *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session

	started        time.Time
	opened         atomic.Int64
	closedMessages atomic.Int64
	closedSegments atomic.Int64
	closedASR      atomic.Int64
}

// NewManager creates a session manager. The factory builds per-session
// providers from each client's config message.
func NewManager(cfg ManagerConfig, factory Factory, opts ...ManagerOption) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("session: factory must not be nil")
	}
	valid, err := wire.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("session: compile message schemas: %w", err)
	}

	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		valid:    valid,
		sem:      semaphore.NewWeighted(cfg.Workers),
		sessions: make(map[string]*Session),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m, nil
}

// Open admits a new session and starts its pipeline. Fails with an
// AT_CAPACITY error when the pool is full.
func (m *Manager) Open() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, wire.NewError(wire.CodeAtCapacity,
			"server at capacity (%d sessions)", m.cfg.MaxSessions)
	}

	id := uuid.NewString()
	s := newSession(id, m.cfg.Session, m.factory, m.valid, m.metrics, m.recorder, m.sem, m.remove)
	m.sessions[id] = s
	m.opened.Add(1)
	m.metrics.SessionOpened(context.Background())
	s.start()

	slog.Info("session opened", "client_id", id, "active", len(m.sessions))
	return s, nil
}

// remove is the session's onClose hook.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	active := len(m.sessions)
	m.mu.Unlock()

	info := s.Snapshot()
	m.closedMessages.Add(info.Messages)
	m.closedSegments.Add(info.Segments)
	m.closedASR.Add(info.ASRMillis)
	m.metrics.SessionClosed(context.Background())
	slog.Info("session removed", "client_id", s.id, "active", active)
}

// Get looks up an open session by client id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List snapshots every open session.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Control injects a control command into a session on behalf of an
// operator.
func (m *Manager) Control(id, cmd string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session: no session %s", id)
	}
	switch cmd {
	case wire.CommandStart, wire.CommandStop, wire.CommandReset,
		wire.CommandPause, wire.CommandResume:
		return s.InjectControl(cmd)
	default:
		return fmt.Errorf("session: unknown control command %q", cmd)
	}
}

// MaxSessions returns the configured session cap.
func (m *Manager) MaxSessions() int {
	return m.cfg.MaxSessions
}

// UpdateVAD swaps the detector tunables applied to sessions opened from now
// on. Sessions already open keep the settings they started with.
func (m *Manager) UpdateVAD(threshold, silenceDuration float64) {
	m.mu.Lock()
	m.cfg.Session.VADThreshold = threshold
	m.cfg.Session.VADSilenceDuration = silenceDuration
	m.mu.Unlock()
}

// CloseSession ends one session. Reports whether it existed.
func (m *Manager) CloseSession(id string) bool {
	s, ok := m.Get(id)
	if ok {
		s.Close()
	}
	return ok
}

// Stats aggregates pool counters across open and closed sessions.
func (m *Manager) Stats() Stats {
	st := Stats{
		TotalSessions: m.opened.Load(),
		TotalMessages: m.closedMessages.Load(),
		TotalSegments: m.closedSegments.Load(),
		ASRTimeMS:     m.closedASR.Load(),
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
	}
	for _, info := range m.List() {
		st.ActiveSessions++
		st.TotalMessages += info.Messages
		st.TotalSegments += info.Segments
		st.ASRTimeMS += info.ASRMillis
	}
	return st
}

// Shutdown closes every session and waits for them to finish, bounded by
// ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	for _, s := range open {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
