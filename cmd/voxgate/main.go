// Command voxgate is the streaming speech-recognition gateway server.
//
// Subcommands:
//
//	voxgate serve   — run the gateway (default)
//	voxgate check   — validate config, storage, credentials, and the port
//	voxgate config  — print the effective configuration
//	voxgate init    — write a starter config.yaml and .env
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/sink"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// .env is optional; VOXGATE_* variables land in the config loader.
	_ = godotenv.Load()

	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "check":
		return runCheck(args)
	case "config":
		return runConfig(args)
	case "init":
		return runInit(args)
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "voxgate: unknown command %q\n\n", cmd)
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: voxgate [command] [flags]

Commands:
  serve    run the gateway (default)
  check    validate config, storage dirs, credentials, and port availability
  config   print the effective configuration with secrets masked
  init     write a starter config.yaml and .env

Run "voxgate <command> -h" for command flags.
`)
}

// ── serve ─────────────────────────────────────────────────────────────────────

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	listenAddr := fs.String("listen", "", "override server.listen_addr")
	logLevel := fs.String("log-level", "", "override logging.level (debug, info, warn, error)")
	watch := fs.Bool("watch", true, "reload safe config changes without a restart")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return 1
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "voxgate: invalid log level %q\n", *logLevel)
			return 1
		}
		cfg.Logging.Level = lvl
	}

	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(cfg.Logging, level))

	slog.Info("voxgate starting",
		"version", app.Version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *watch && fileExists(*configPath) {
		if err := application.WatchConfig(*configPath); err != nil {
			slog.Warn("config reload disabled", "err", err)
		}
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── check ─────────────────────────────────────────────────────────────────────

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ config: %v\n", err)
		return 1
	}
	fmt.Printf("✓ config: %s parses and validates\n", *configPath)

	failed := false

	if cfg.Storage.Enabled {
		dir := filepath.Join(cfg.Storage.DataDir, "asr")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "✗ storage: cannot create %s: %v\n", dir, err)
			failed = true
		} else if err := sink.Probe(dir); err != nil {
			fmt.Fprintf(os.Stderr, "✗ storage: %v\n", err)
			failed = true
		} else {
			fmt.Printf("✓ storage: %s is writable\n", dir)
		}
	} else {
		fmt.Println("- storage: disabled")
	}

	if cfg.ASR.APIKey == "" {
		fmt.Println("! asr: no server api_key; one-shot transcription needs client keys")
	} else {
		fmt.Println("✓ asr: api_key configured")
	}
	if cfg.Corrector.Enabled && cfg.Corrector.APIKey == "" {
		fmt.Println("! corrector: enabled without api_key")
	}

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ listen: %s unavailable: %v\n", cfg.Server.ListenAddr, err)
		failed = true
	} else {
		ln.Close()
		fmt.Printf("✓ listen: %s available\n", cfg.Server.ListenAddr)
	}

	if failed {
		return 1
	}
	fmt.Println("all checks passed")
	return 0
}

// ── config ────────────────────────────────────────────────────────────────────

func runConfig(args []string) int {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	showSecrets := fs.Bool("show-secrets", false, "print credentials instead of masking them")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return 1
	}

	if !*showSecrets {
		cfg.ASR.APIKey = maskSecret(cfg.ASR.APIKey)
		cfg.Corrector.APIKey = maskSecret(cfg.Corrector.APIKey)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: marshal config: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)
	return 0
}

// maskSecret keeps the last four characters of a credential for
// recognition and hides the rest.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// ── init ──────────────────────────────────────────────────────────────────────

const starterConfig = `# Voxgate configuration. Every value can also be set via VOXGATE_* env vars.
server:
  listen_addr: ":8080"
  workers: 4

asr:
  api_url: "https://api.openai.com/v1/audio/transcriptions"
  # api_key: set VOXGATE_ASR_API_KEY in .env instead of committing it here
  model: "whisper-1"

corrector:
  enabled: false
  provider: "openai"
  model: "gpt-4o-mini"

vad:
  threshold: 0.5
  silence_duration: 0.8
  # model_path: "models/silero_vad.onnx"

audio:
  sample_rate: 16000
  max_segment_duration: 3.0
  lookback_duration: 9.0

sessions:
  max_sessions: 100

storage:
  enabled: false
  data_dir: "data"

logging:
  level: info
  format: text
`

const starterEnv = `# Secrets for voxgate. Loaded at startup; never commit this file.
VOXGATE_ASR_API_KEY=
VOXGATE_CORRECTOR_API_KEY=
`

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite existing files")
	dir := fs.String("dir", ".", "directory to initialise")
	fs.Parse(args)

	files := map[string]string{
		filepath.Join(*dir, "config.yaml"): starterConfig,
		filepath.Join(*dir, ".env"):        starterEnv,
	}
	for path, content := range files {
		if fileExists(path) && !*force {
			fmt.Fprintf(os.Stderr, "voxgate: %s already exists (use -force to overwrite)\n", path)
			return 1
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "voxgate: write %s: %v\n", path, err)
			return 1
		}
		fmt.Printf("wrote %s\n", path)
	}

	dataDir := filepath.Join(*dir, "data", "asr")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: create %s: %v\n", dataDir, err)
		return 1
	}
	fmt.Printf("created %s\n", dataDir)
	return 0
}

// ── helpers ───────────────────────────────────────────────────────────────────

// loadConfig resolves the config path: a missing default file falls back to
// the built-in defaults plus env overrides, an explicitly missing file is
// an error the caller sees.
func loadConfig(path string) (*config.Config, error) {
	if !fileExists(path) {
		if path != "config.yaml" {
			return nil, fmt.Errorf("config file %q not found", path)
		}
		return config.Load("")
	}
	return config.Load(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newLogger(lc config.LoggingConfig, level *slog.LevelVar) *slog.Logger {
	switch lc.Level {
	case config.LogDebug:
		level.Set(slog.LevelDebug)
	case config.LogWarn:
		level.Set(slog.LevelWarn)
	case config.LogError:
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════════╗")
	fmt.Println("║          Voxgate — startup summary         ║")
	fmt.Println("╠════════════════════════════════════════════╣")
	printSummaryLine("ASR endpoint", shorten(cfg.ASR.APIURL))
	printSummaryLine("ASR model", cfg.ASR.Model)
	if cfg.Corrector.Enabled {
		printSummaryLine("Corrector", cfg.Corrector.Provider+" / "+cfg.Corrector.Model)
	} else {
		printSummaryLine("Corrector", "(disabled)")
	}
	if cfg.VAD.ModelPath != "" {
		printSummaryLine("VAD", "silero + energy gate")
	} else {
		printSummaryLine("VAD", "energy gate")
	}
	printSummaryLine("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printSummaryLine("Max sessions", fmt.Sprintf("%d", cfg.Sessions.MaxSessions))
	if cfg.Storage.Enabled {
		printSummaryLine("Archive", cfg.Storage.DataDir)
	} else {
		printSummaryLine("Archive", "(disabled)")
	}
	printSummaryLine("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚════════════════════════════════════════════╝")
}

func printSummaryLine(key, value string) {
	fmt.Printf("║  %-14s : %-25s ║\n", key, shorten(value))
}

// shorten trims long values so the summary box stays aligned.
func shorten(s string) string {
	if len(s) > 25 {
		return s[:22] + "…"
	}
	return s
}
