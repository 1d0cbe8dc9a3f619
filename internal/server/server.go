// Package server exposes the gateway's HTTP surface: the primary streaming
// WebSocket, the VAD-only streams, the one-shot REST endpoints, the session
// management API, health checks and Prometheus metrics.
//
// The server owns no pipeline state of its own. Streaming requests are
// handed to the session manager; one-shot requests run against short-lived
// detector engines and the shared ASR provider.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/provider/asr"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// Deps are the services the HTTP surface is built on. Manager is required;
// everything else degrades gracefully when absent.
type Deps struct {
	// Manager owns the streaming sessions.
	Manager *session.Manager

	// ASR is the server-credentialed transcription backend used by the
	// one-shot endpoints and the connectivity self-test. When nil those
	// endpoints answer 503.
	ASR asr.Provider

	// Corrector post-processes one-shot transcripts when the client asks
	// for it. Optional.
	Corrector session.Corrector

	// Classifier builds a fresh frame classifier for one-shot detector
	// engines. When nil the engines run on the energy gate.
	Classifier func() (vad.Classifier, error)

	// Health serves the liveness and readiness routes. Optional.
	Health *health.Handler

	// Metrics records request and pipeline instrumentation. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Log is the server logger. Defaults to [slog.Default].
	Log *slog.Logger
}

// Server is the gateway's HTTP surface.
type Server struct {
	cfg     *config.Config
	manager *session.Manager
	asr     asr.Provider
	corr    session.Corrector
	newCls  func() (vad.Classifier, error)
	healthH *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
	started time.Time

	mu      sync.Mutex
	limiter *ipLimiter

	// Shared one-shot analyzer state, see rest_vad.go.
	anMu    sync.Mutex
	anEng   *vad.Engine
	anClips int64
}

// New builds the HTTP surface from the effective configuration and its
// dependencies.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server: config must not be nil")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("server: session manager must not be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		manager: deps.Manager,
		asr:     deps.ASR,
		corr:    deps.Corrector,
		newCls:  deps.Classifier,
		healthH: deps.Health,
		metrics: deps.Metrics,
		log:     deps.Log.With("component", "server"),
		started: time.Now(),
		limiter: newIPLimiter(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst),
	}, nil
}

// Handler builds the full route table. The REST routes sit behind the rate
// limiter; the streaming and operational routes do not.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.healthH != nil {
		s.healthH.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/stream/vad", s.handleStreamVAD)
	mux.HandleFunc("GET /v1/stream/vad-binary", s.handleStreamVADBinary)
	mux.HandleFunc("GET /v1/stream/status", s.handleStreamStatus)

	mux.HandleFunc("POST /v1/vad/detect", s.handleVADDetect)
	mux.HandleFunc("POST /v1/vad/segments", s.handleVADSegments)
	mux.HandleFunc("POST /v1/vad/analyze", s.handleVADAnalyze)
	mux.HandleFunc("GET /v1/vad/status", s.handleVADStatus)
	mux.HandleFunc("POST /v1/vad/reset", s.handleVADReset)
	mux.HandleFunc("POST /v1/vad/quick", s.handleVADQuick)

	mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /v1/transcribe/raw", s.handleTranscribeRaw)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /v1/test-connection", s.handleTestConnection)

	mux.HandleFunc("GET /v1/streaming/stats", s.handleStreamingStats)
	mux.HandleFunc("GET /v1/streaming/clients", s.handleStreamingClients)
	mux.HandleFunc("POST /v1/streaming/control/{id}", s.handleStreamingControl)
	mux.HandleFunc("GET /v1/streaming/health", s.handleStreamingHealth)

	return observe.Middleware(s.metrics)(s.rateLimit(mux))
}

// SetLimits swaps the REST rate-limit settings without a restart.
func (s *Server) SetLimits(limits config.LimitsConfig) {
	s.mu.Lock()
	s.limiter = newIPLimiter(limits.RequestsPerSecond, limits.Burst)
	s.mu.Unlock()
	s.log.Info("rate limits updated",
		"requests_per_second", limits.RequestsPerSecond, "burst", limits.Burst)
}

// rateLimit applies the per-client token bucket to the REST routes. The
// streaming WebSockets and the operational routes pass through untouched.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") || strings.HasPrefix(r.URL.Path, "/v1/stream") {
			next.ServeHTTP(w, r)
			return
		}
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if !lim.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newEngine builds a one-shot detector engine at the given sample rate,
// using the configured classifier when one is available.
func (s *Server) newEngine(sampleRate int, extra ...vad.Option) (*vad.Engine, error) {
	opts := []vad.Option{
		vad.WithThreshold(s.cfg.VAD.Threshold),
		vad.WithSilenceDuration(s.cfg.VAD.SilenceDuration),
	}
	opts = append(opts, extra...)
	if s.newCls != nil {
		cls, err := s.newCls()
		if err != nil {
			s.log.Warn("classifier unavailable, detector runs on the energy gate", "error", err)
		} else if cls != nil {
			opts = append(opts, vad.WithClassifier(cls))
		}
	}
	return vad.New(sampleRate, opts...)
}

// clientIP extracts the caller's address, honoring the first entry of
// X-Forwarded-For when a proxy added one.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// ---- response helpers -------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{"error": fmt.Sprintf(format, args...)})
}
