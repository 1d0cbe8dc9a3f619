package audio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
)

func TestDecode_WAVNative(t *testing.T) {
	wav := audio.EncodeWAV(make([]float32, 480), 48000)
	got, err := audio.Decode(context.Background(), wav, "wav", 16000)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	// 10 ms at 48 kHz resampled to 16 kHz.
	if len(got) != 160 {
		t.Errorf("expected 160 samples after resampling, got %d", len(got))
	}
}

func TestDecode_NormalizesFormatTag(t *testing.T) {
	wav := audio.EncodeWAV(make([]float32, 160), 16000)
	if _, err := audio.Decode(context.Background(), wav, ".WAV", 16000); err != nil {
		t.Errorf("Decode(.WAV) failed: %v", err)
	}
}

func TestDecode_UnknownFormat(t *testing.T) {
	_, err := audio.Decode(context.Background(), []byte{1, 2, 3}, "xyz", 16000)
	if !errors.Is(err, audio.ErrUnknownFormat) {
		t.Errorf("got %v, want ErrUnknownFormat", err)
	}
}

func TestSupportedFormats_NativeFirst(t *testing.T) {
	got := audio.SupportedFormats()
	if len(got) < 3 {
		t.Fatalf("expected at least the native formats, got %v", got)
	}
	for i, want := range []string{"wav", "ogg", "opus"} {
		if got[i] != want {
			t.Errorf("format %d: got %q, want %q", i, got[i], want)
		}
	}
}
