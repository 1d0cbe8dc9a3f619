// Package app wires the Voxgate subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects the
// telemetry providers, storage sink, session pool, and HTTP surface; Run
// serves until the context is cancelled; Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithFactory,
// WithRecorder). When an option is not provided, New builds real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/segmenter"
	"github.com/MrWong99/voxgate/internal/server"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/internal/wire"
	"github.com/MrWong99/voxgate/pkg/provider/asr"
)

// Version is reported in telemetry resources and the health details.
const Version = "0.1.0"

// App owns all subsystem lifetimes and serves the Voxgate gateway.
type App struct {
	cfg   *config.Config
	level *slog.LevelVar

	factory  session.Factory
	recorder session.Recorder
	metrics  *observe.Metrics

	store   *sink.Sink
	manager *session.Manager
	srv     *server.Server
	httpSrv *http.Server
	watcher *config.Watcher

	startedAt time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFactory injects a provider factory instead of building backends from
// the config.
func WithFactory(f session.Factory) Option {
	return func(a *App) { a.factory = f }
}

// WithRecorder injects a transcription-request archive instead of the
// on-disk sink.
func WithRecorder(r session.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithLevelVar shares the logger's level variable so config reloads can
// retune verbosity at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option
// functions to inject test doubles for any of them.
//
// New performs all initialisation synchronously: telemetry providers,
// storage sink, session pool, one-shot backends, and the HTTP surface.
// It does not listen; call Run for that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}

	a := &App{
		cfg:       cfg,
		level:     new(slog.LevelVar),
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Storage sink ──────────────────────────────────────────────────
	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 3. Session pool ──────────────────────────────────────────────────
	if err := a.initSessions(); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 4. One-shot backends ─────────────────────────────────────────────
	oneShotASR, oneShotCorr := a.buildOneShot()

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	srv, err := server.New(cfg, server.Deps{
		Manager:    a.manager,
		ASR:        oneShotASR,
		Corrector:  oneShotCorr,
		Classifier: a.factory.Classifier,
		Health:     a.buildHealth(oneShotASR),
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.srv = srv
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the global OTel providers and the per-app metrics
// instance.
func (a *App) initTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		a.metrics = observe.DefaultMetrics()
		return nil
	}

	pc := observe.ProviderConfig{
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
	}
	if ep := a.cfg.Telemetry.OTLPEndpoint; ep != "" {
		exp, err := observe.NewOTLPExporter(ctx, ep)
		if err != nil {
			return fmt.Errorf("create OTLP exporter for %q: %w", ep, err)
		}
		pc.TraceExporter = exp
	}

	shutdown, err := observe.InitProvider(ctx, pc)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	// The providers are registered globally, so the default instance now
	// records against the real exporters.
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initStorage opens the on-disk transcription archive when enabled.
func (a *App) initStorage() error {
	if a.recorder != nil || !a.cfg.Storage.Enabled {
		return nil
	}

	store, err := sink.New(a.cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	a.store = store
	a.recorder = store
	a.closers = append(a.closers, store.Close)
	slog.Info("transcription archive enabled", "dir", store.Dir())
	return nil
}

// initSessions builds the provider factory and the session pool.
func (a *App) initSessions() error {
	if a.factory == nil {
		a.factory = newProviderFactory(a.cfg)
	}

	mgrOpts := []session.ManagerOption{session.WithMetrics(a.metrics)}
	if a.recorder != nil {
		mgrOpts = append(mgrOpts, session.WithRecorder(a.recorder))
	}

	mgr, err := session.NewManager(session.ManagerConfig{
		MaxSessions: a.cfg.Sessions.MaxSessions,
		Workers:     int64(a.cfg.Server.Workers),
		Session: session.Config{
			SampleRate:         a.cfg.Audio.SampleRate,
			HistorySize:        a.cfg.Sessions.HistorySize,
			IdleTimeout:        secondsToDuration(a.cfg.Sessions.IdleTimeoutS),
			VADThreshold:       a.cfg.VAD.Threshold,
			VADSilenceDuration: a.cfg.VAD.SilenceDuration,
			Segmenter: segmenter.Config{
				MaxSegmentDuration: a.cfg.Audio.MaxSegmentDuration,
				LookbackDuration:   a.cfg.Audio.LookbackDuration,
				PreRoll:            a.cfg.Audio.PreRoll,
				MinDuration:        a.cfg.Audio.MinDuration,
			},
		},
	}, a.factory, mgrOpts...)
	if err != nil {
		return err
	}
	a.manager = mgr
	return nil
}

// buildOneShot constructs the server-credentialed backends for the one-shot
// REST endpoints. Both are optional: a missing backend degrades the
// endpoints to 503 rather than failing startup.
func (a *App) buildOneShot() (asr.Provider, session.Corrector) {
	prov, err := a.factory.ASR(wire.ConfigData{})
	if err != nil {
		slog.Warn("one-shot transcription unavailable", "err", err)
		prov = nil
	}
	corr, err := a.factory.Corrector(wire.ConfigData{})
	if err != nil {
		slog.Warn("one-shot correction unavailable", "err", err)
		corr = nil
	}
	return prov, corr
}

// buildHealth assembles the health handler: readiness checkers for the
// archive and the transcription backend, plus a detail snapshot.
func (a *App) buildHealth(oneShotASR asr.Provider) *health.Handler {
	var checkers []health.Checker

	if a.store != nil {
		dir := a.store.Dir()
		checkers = append(checkers, health.Checker{
			Name:  "storage",
			Check: func(context.Context) error { return sink.Probe(dir) },
		})
	}
	if oneShotASR != nil {
		checkers = append(checkers, health.Checker{
			Name: "asr",
			Check: func(context.Context) error {
				if a.cfg.ASR.APIURL == "" {
					return fmt.Errorf("no transcription endpoint configured")
				}
				return nil
			},
		})
	}

	h := health.New(checkers...)
	h.SetDetails(func() map[string]any {
		st := a.manager.Stats()
		return map[string]any{
			"version":         Version,
			"uptime_seconds":  int64(time.Since(a.startedAt).Seconds()),
			"active_sessions": st.ActiveSessions,
			"total_sessions":  st.TotalSessions,
		}
	})
	return h
}

// ─── Config reload ───────────────────────────────────────────────────────────

// WatchConfig starts polling the config file at path and applies safe
// changes without a restart: log level, detector tunables for new
// sessions, and REST rate limits. Anything else takes effect on the next
// start.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.applyConfigChange, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// applyConfigChange is the watcher callback. It runs on the watcher's
// goroutine, so everything it touches must be safe for concurrent use.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.VADChanged {
		a.manager.UpdateVAD(d.NewVAD.Threshold, d.NewVAD.SilenceDuration)
		slog.Info("detector tunables updated",
			"threshold", d.NewVAD.Threshold,
			"silence_duration", d.NewVAD.SilenceDuration)
	}
	if d.LimitsChanged {
		a.srv.SetLimits(d.NewLimits)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (or HTTPS when TLS is configured) and blocks until ctx
// is cancelled or the listener fails. On cancellation the listener drains
// in-flight requests for up to ten seconds before closing.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("listening", "addr", a.httpSrv.Addr, "tls", true)
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", a.httpSrv.Addr)
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Handler exposes the HTTP surface for in-process tests.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the session pool, then tears down the remaining
// subsystems in init order. It respects the context deadline: if ctx
// expires before all closers finish, the rest are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Shutdown(ctx); err != nil {
			slog.Warn("session pool shutdown", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// slogLevel converts a config log level to its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// secondsToDuration converts a fractional-seconds config value.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
