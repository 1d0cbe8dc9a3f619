package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ErrTranscoderUnavailable is returned when a format requires ffmpeg and no
// ffmpeg binary is on PATH.
var ErrTranscoderUnavailable = errors.New("audio: ffmpeg not available")

// ErrUnknownFormat is returned by [Decode] for a format tag that is neither
// natively decodable nor handled by the external transcoder.
var ErrUnknownFormat = errors.New("audio: unknown format")

// nativeFormats decode in-process; transcoderFormats require ffmpeg.
var (
	nativeFormats     = map[string]bool{"wav": true, "ogg": true, "opus": true}
	transcoderFormats = map[string]bool{"mp3": true, "m4a": true, "mp4": true, "webm": true, "aac": true, "flac": true}
)

var ffmpegCheck struct {
	once      sync.Once
	available bool
}

// FFmpegAvailable reports whether an ffmpeg binary is on PATH. The lookup
// runs once per process.
func FFmpegAvailable() bool {
	ffmpegCheck.once.Do(func() {
		_, err := exec.LookPath("ffmpeg")
		ffmpegCheck.available = err == nil
		if err != nil {
			slog.Warn("ffmpeg not found, only WAV and Ogg/Opus uploads will decode", "error", err)
		}
	})
	return ffmpegCheck.available
}

// SupportedFormats returns the format tags [Decode] accepts right now, native
// formats first.
func SupportedFormats() []string {
	out := []string{"wav", "ogg", "opus"}
	if FFmpegAvailable() {
		for f := range transcoderFormats {
			out = append(out, f)
		}
	}
	return out
}

// Decode turns an uploaded audio file into normalized mono float samples at
// targetRate. WAV and Ogg/Opus decode natively; other formats shell out to
// ffmpeg when present. The format tag is a lower-case file extension without
// the dot.
func Decode(ctx context.Context, data []byte, format string, targetRate int) ([]float32, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))

	switch {
	case format == "wav":
		samples, rate, err := DecodeWAV(data)
		if err != nil {
			// Some recorders mislabel compressed audio as .wav; ffmpeg can
			// usually still read it.
			if FFmpegAvailable() {
				return ffmpegDecode(ctx, data, targetRate)
			}
			return nil, err
		}
		return ResampleFloat(samples, rate, targetRate), nil

	case format == "ogg" || format == "opus":
		samples, rate, err := DecodeOggOpus(data)
		if err != nil {
			if FFmpegAvailable() {
				return ffmpegDecode(ctx, data, targetRate)
			}
			return nil, err
		}
		return ResampleFloat(samples, rate, targetRate), nil

	case transcoderFormats[format]:
		if !FFmpegAvailable() {
			return nil, fmt.Errorf("%w: %q requires ffmpeg", ErrTranscoderUnavailable, format)
		}
		return ffmpegDecode(ctx, data, targetRate)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ffmpegDecode pipes the input through ffmpeg, asking for 16-bit mono PCM at
// targetRate on stdout.
func ffmpegDecode(ctx context.Context, data []byte, targetRate int) ([]float32, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(targetRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("audio: ffmpeg decode: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("audio: ffmpeg decode: %w", err)
	}
	return PCM16ToFloat(stdout.Bytes()), nil
}
