package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the environment overrides.
const envPrefix = "VOXGATE_"

// Load reads the YAML configuration file at path, applies the VOXGATE_*
// environment overrides, and returns a validated [Config]. An empty path
// starts from [Default] instead of a file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Environment overrides are not applied. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays VOXGATE_* environment variables onto cfg. Unset
// variables leave the config untouched.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "LISTEN_ADDR")
	setInt(&cfg.Server.Workers, "WORKERS")
	setString(&cfg.ASR.APIURL, "ASR_API_URL")
	setString(&cfg.ASR.APIKey, "ASR_API_KEY")
	setString(&cfg.ASR.Model, "ASR_MODEL")
	setString(&cfg.ASR.Language, "ASR_LANGUAGE")
	setBool(&cfg.Corrector.Enabled, "CORRECTOR_ENABLED")
	setString(&cfg.Corrector.Provider, "CORRECTOR_PROVIDER")
	setString(&cfg.Corrector.Model, "CORRECTOR_MODEL")
	setString(&cfg.Corrector.APIKey, "CORRECTOR_API_KEY")
	setString(&cfg.VAD.ModelPath, "VAD_MODEL_PATH")
	setFloat(&cfg.VAD.Threshold, "VAD_THRESHOLD")
	setInt(&cfg.Sessions.MaxSessions, "MAX_SESSIONS")
	setBool(&cfg.Storage.Enabled, "STORAGE_ENABLED")
	setString(&cfg.Storage.DataDir, "DATA_DIR")
	setString((*string)(&cfg.Logging.Level), "LOG_LEVEL")
	setString((*string)(&cfg.Logging.Format), "LOG_FORMAT")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.Workers < 0 {
		errs = append(errs, fmt.Errorf("server.workers %d must not be negative", cfg.Server.Workers))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.ASR.APIURL == "" {
		errs = append(errs, errors.New("asr.api_url is required"))
	}
	if cfg.ASR.TimeoutS < 0 {
		errs = append(errs, fmt.Errorf("asr.timeout_s %.1f must not be negative", cfg.ASR.TimeoutS))
	}
	if cfg.ASR.APIKey == "" {
		slog.Warn("asr.api_key is empty; one-shot transcription and self-tests will fail until clients supply keys")
	}

	if cfg.Corrector.Enabled {
		if cfg.Corrector.Provider == "" {
			errs = append(errs, errors.New("corrector.provider is required when corrector.enabled"))
		}
		if cfg.Corrector.Model == "" {
			errs = append(errs, errors.New("corrector.model is required when corrector.enabled"))
		}
		if cfg.Corrector.APIKey == "" {
			slog.Warn("corrector.api_key is empty; correction may fail against hosted providers")
		}
	}
	if cfg.Corrector.Temperature < 0 || cfg.Corrector.Temperature > 2 {
		errs = append(errs, fmt.Errorf("corrector.temperature %.2f is out of range [0, 2]", cfg.Corrector.Temperature))
	}

	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration %.2f must not be negative", cfg.VAD.SilenceDuration))
	}
	if cfg.VAD.ModelPath != "" {
		if _, err := os.Stat(cfg.VAD.ModelPath); err != nil {
			slog.Warn("vad.model_path is not readable; the detector will run on the energy gate",
				"path", cfg.VAD.ModelPath, "err", err)
		}
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.MaxSegmentDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.max_segment_duration %.2f must be positive", cfg.Audio.MaxSegmentDuration))
	}
	if cfg.Audio.LookbackDuration < cfg.Audio.MaxSegmentDuration {
		errs = append(errs, fmt.Errorf("audio.lookback_duration %.1f must be at least max_segment_duration %.1f",
			cfg.Audio.LookbackDuration, cfg.Audio.MaxSegmentDuration))
	}
	if cfg.Audio.PreRoll < 0 {
		errs = append(errs, fmt.Errorf("audio.pre_roll %.2f must not be negative", cfg.Audio.PreRoll))
	}

	if cfg.Sessions.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must be positive", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.IdleTimeoutS < 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_timeout_s %.1f must not be negative", cfg.Sessions.IdleTimeoutS))
	}

	if cfg.Storage.Enabled && cfg.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required when storage.enabled"))
	}

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" && !cfg.Logging.Format.IsValid() {
		errs = append(errs, fmt.Errorf("logging.format %q is invalid; valid values: text, json", cfg.Logging.Format))
	}

	if cfg.Limits.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("limits.requests_per_second %.1f must not be negative", cfg.Limits.RequestsPerSecond))
	}
	if cfg.Limits.Burst < 0 {
		errs = append(errs, fmt.Errorf("limits.burst %d must not be negative", cfg.Limits.Burst))
	}

	return errors.Join(errs...)
}

// ---- env helpers ------------------------------------------------------------

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

func setString(dst *string, key string) {
	if v, ok := lookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := lookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment override", "var", envPrefix+key, "value", v)
		return
	}
	*dst = n
}

func setFloat(dst *float64, key string) {
	v, ok := lookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring non-numeric environment override", "var", envPrefix+key, "value", v)
		return
	}
	*dst = f
}

func setBool(dst *bool, key string) {
	v, ok := lookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring non-boolean environment override", "var", envPrefix+key, "value", v)
		return
	}
	*dst = b
}
