// Package config provides the configuration schema, loader, and hot-reload
// watcher for the Voxgate server.
package config

// LogLevel controls log verbosity for the Voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log output encoding.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration structure for Voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	ASR       ASRConfig       `yaml:"asr"`
	Corrector CorrectorConfig `yaml:"corrector"`
	VAD       VADConfig       `yaml:"vad"`
	Audio     AudioConfig     `yaml:"audio"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Limits    LimitsConfig    `yaml:"limits"`
}

// ServerConfig holds network settings for the Voxgate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// Workers bounds concurrent transcription requests across all sessions.
	Workers int `yaml:"workers"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ASRConfig selects the remote transcription backend. The endpoint speaks
// the OpenAI-compatible audio transcription API.
type ASRConfig struct {
	// APIURL is the transcription endpoint
	// (e.g., "https://api.openai.com/v1/audio/transcriptions").
	APIURL string `yaml:"api_url"`

	// APIKey authenticates server-originated requests (one-shot REST
	// transcription and self-tests). Streaming sessions authenticate with
	// the key from their config message.
	APIKey string `yaml:"api_key"`

	// Model selects the transcription model (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Language is the BCP-47 language hint forwarded to the provider.
	// Empty lets the provider detect it.
	Language string `yaml:"language"`

	// TimeoutS bounds one transcription round trip, in seconds.
	TimeoutS float64 `yaml:"timeout_s"`
}

// CorrectorConfig selects the LLM that polishes final transcripts.
type CorrectorConfig struct {
	// Enabled gates the corrector server-side. Clients still opt in per
	// session.
	Enabled bool `yaml:"enabled"`

	// Provider names the LLM backend: "openai" talks to the OpenAI API
	// directly, anything else is routed through any-llm (e.g.,
	// "anthropic", "ollama", "mistral").
	Provider string `yaml:"provider"`

	// Model selects the model within the provider.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length.
	MaxTokens int `yaml:"max_tokens"`
}

// VADConfig tunes the voice-activity detector.
type VADConfig struct {
	// ModelPath points at the Silero ONNX model. Empty runs the detector
	// on the energy gate alone.
	ModelPath string `yaml:"model_path"`

	// Threshold is the speech probability threshold in [0, 1].
	Threshold float64 `yaml:"threshold"`

	// SilenceDuration arms the silence-timeout hint, in seconds.
	SilenceDuration float64 `yaml:"silence_duration"`
}

// AudioConfig tunes the streaming pipeline.
type AudioConfig struct {
	// SampleRate is the internal pipeline rate. Client audio at other
	// rates is resampled on ingest.
	SampleRate int `yaml:"sample_rate"`

	// MaxSegmentDuration is how much uncut utterance audio may accumulate
	// before a provisional chunk is transcribed, in seconds.
	MaxSegmentDuration float64 `yaml:"max_segment_duration"`

	// LookbackDuration bounds the utterance-end re-transcription window,
	// in seconds. Must be at least MaxSegmentDuration.
	LookbackDuration float64 `yaml:"lookback_duration"`

	// PreRoll is how far before the detected speech onset an utterance
	// starts, in seconds.
	PreRoll float64 `yaml:"pre_roll"`

	// MinDuration is the shortest utterance worth transcribing, in
	// seconds.
	MinDuration float64 `yaml:"min_duration"`
}

// SessionsConfig tunes the session pool.
type SessionsConfig struct {
	// MaxSessions caps concurrently open streaming sessions.
	MaxSessions int `yaml:"max_sessions"`

	// HistorySize caps the accepted transcripts kept for prompt
	// conditioning.
	HistorySize int `yaml:"history_size"`

	// IdleTimeoutS closes a session with no client traffic, in seconds.
	IdleTimeoutS float64 `yaml:"idle_timeout_s"`
}

// StorageConfig controls the on-disk transcription archive.
type StorageConfig struct {
	// Enabled turns the archive on.
	Enabled bool `yaml:"enabled"`

	// DataDir is the root directory; clips land under {data_dir}/asr.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// Format selects text or JSON output.
	Format LogFormat `yaml:"format"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	// Enabled turns on the OpenTelemetry providers and the /metrics
	// endpoint.
	Enabled bool `yaml:"enabled"`

	// ServiceName is reported in telemetry resources. Default: "voxgate".
	ServiceName string `yaml:"service_name"`

	// OTLPEndpoint is an optional gRPC collector address (host:port) for
	// trace export. Empty keeps traces local.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LimitsConfig bounds abusive clients on the REST surfaces.
type LimitsConfig struct {
	// RequestsPerSecond is the per-client sustained rate. Zero disables
	// rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the per-client burst allowance.
	Burst int `yaml:"burst"`

	// MaxBodyBytes caps REST request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// MaxClipSeconds caps one-shot transcription and analysis clips.
	MaxClipSeconds float64 `yaml:"max_clip_seconds"`
}

// Default returns the configuration used when no file is given. Every
// field can still be overridden by VOXGATE_* environment variables.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			Workers:    4,
		},
		ASR: ASRConfig{
			APIURL:   "https://api.openai.com/v1/audio/transcriptions",
			Model:    "whisper-1",
			TimeoutS: 30,
		},
		Corrector: CorrectorConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.6,
			MaxTokens:   4096,
		},
		VAD: VADConfig{
			Threshold:       0.5,
			SilenceDuration: 0.8,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			MaxSegmentDuration: 3.0,
			LookbackDuration:   9.0,
			PreRoll:            0.5,
			MinDuration:        0.5,
		},
		Sessions: SessionsConfig{
			MaxSessions:  100,
			HistorySize:  10,
			IdleTimeoutS: 300,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Logging: LoggingConfig{
			Level:  LogInfo,
			Format: LogText,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "voxgate",
		},
		Limits: LimitsConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			MaxBodyBytes:      32 << 20,
			MaxClipSeconds:    120,
		},
	}
}
