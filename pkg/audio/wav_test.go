package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// ---- helpers ----

// riffChunk frames a chunk body with its four-byte id and little-endian
// size, appending the pad byte required after odd-sized bodies.
func riffChunk(id string, body []byte) []byte {
	out := make([]byte, 0, 8+len(body)+1)
	out = append(out, id...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	if len(body)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

// riffFile wraps chunks in a RIFF/WAVE container.
func riffFile(chunks ...[]byte) []byte {
	var body []byte
	for _, c := range chunks {
		body = append(body, c...)
	}
	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(4+len(body)))
	out = append(out, "WAVE"...)
	return append(out, body...)
}

// fmtChunk builds a 16-byte fmt body for the given encoding.
func fmtChunk(format, channels, rate, bits int) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint16(body[0:], uint16(format))
	binary.LittleEndian.PutUint16(body[2:], uint16(channels))
	binary.LittleEndian.PutUint32(body[4:], uint32(rate))
	binary.LittleEndian.PutUint32(body[8:], uint32(rate*channels*bits/8))
	binary.LittleEndian.PutUint16(body[12:], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(body[14:], uint16(bits))
	return body
}

// ---- tests ----

func TestEncodeWAV_Header(t *testing.T) {
	data := audio.EncodeWAV([]float32{0, 0.5, -0.5, 1}, 16000)
	if len(data) != 44+8 {
		t.Fatalf("length: got %d, want 52", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 36+8 {
		t.Errorf("riff size: got %d, want 44", got)
	}
	if string(data[12:16]) != "fmt " {
		t.Fatalf("missing fmt chunk")
	}
	if got := binary.LittleEndian.Uint16(data[20:22]); got != 1 {
		t.Errorf("audio format: got %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(data[32:34]); got != 2 {
		t.Errorf("block align: got %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Errorf("bits per sample: got %d, want 16", got)
	}
	if string(data[36:40]) != "data" {
		t.Fatalf("missing data chunk")
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 8 {
		t.Errorf("data size: got %d, want 8", got)
	}
}

func TestWAV_Roundtrip(t *testing.T) {
	src := []float32{0, 0.25, -0.25, 0.9, -0.9}
	got, rate, err := audio.DecodeWAV(audio.EncodeWAV(src, 16000))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate: got %d, want 16000", rate)
	}
	if len(got) != len(src) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(src))
	}
	for i := range src {
		if math.Abs(float64(got[i]-src[i])) > 1.0/32768 {
			t.Errorf("sample %d: got %v, want %v within one quantization step", i, got[i], src[i])
		}
	}
}

func TestDecodeWAV_MissingHeader(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("short"), []byte("RIFFxxxxJUNK")} {
		if _, _, err := audio.DecodeWAV(data); !errors.Is(err, audio.ErrWAVFormat) {
			t.Errorf("DecodeWAV(%q): got %v, want ErrWAVFormat", data, err)
		}
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	// A LIST chunk with an odd-sized body sits between fmt and data; the
	// decoder must honor the pad byte to find the data chunk.
	pcm := audio.FloatToPCM16([]float32{0.5, -0.5})
	data := riffFile(
		riffChunk("fmt ", fmtChunk(1, 1, 16000, 16)),
		riffChunk("LIST", []byte("abc")),
		riffChunk("data", pcm),
	)
	got, rate, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 || len(got) != 2 {
		t.Errorf("got rate %d len %d, want 16000 2", rate, len(got))
	}
}

func TestDecodeWAV_Float32(t *testing.T) {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(body[4:], math.Float32bits(-0.25))
	data := riffFile(
		riffChunk("fmt ", fmtChunk(3, 1, 44100, 32)),
		riffChunk("data", body),
	)
	got, rate, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 44100 {
		t.Errorf("rate: got %d, want 44100", rate)
	}
	if len(got) != 2 || got[0] != 0.5 || got[1] != -0.25 {
		t.Errorf("samples: got %v, want [0.5 -0.25]", got)
	}
}

func TestDecodeWAV_StereoDownmix(t *testing.T) {
	pcm := audio.FloatToPCM16([]float32{0.2, 0.4, -0.2, -0.4})
	data := riffFile(
		riffChunk("fmt ", fmtChunk(1, 2, 16000, 16)),
		riffChunk("data", pcm),
	)
	got, _, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-3 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodeWAV_TruncatedChunk(t *testing.T) {
	data := riffFile(riffChunk("fmt ", fmtChunk(1, 1, 16000, 16)))
	// Declare an 8-byte data chunk but supply no body.
	data = append(data, "data"...)
	data = binary.LittleEndian.AppendUint32(data, 8)
	if _, _, err := audio.DecodeWAV(data); !errors.Is(err, audio.ErrWAVFormat) {
		t.Errorf("got %v, want ErrWAVFormat", err)
	}
}

func TestDecodeWAV_MissingDataChunk(t *testing.T) {
	data := riffFile(riffChunk("fmt ", fmtChunk(1, 1, 16000, 16)))
	if _, _, err := audio.DecodeWAV(data); !errors.Is(err, audio.ErrWAVFormat) {
		t.Errorf("got %v, want ErrWAVFormat", err)
	}
}

func TestDecodeWAV_UnsupportedEncoding(t *testing.T) {
	data := riffFile(
		riffChunk("fmt ", fmtChunk(1, 1, 16000, 8)),
		riffChunk("data", []byte{1, 2, 3, 4}),
	)
	if _, _, err := audio.DecodeWAV(data); !errors.Is(err, audio.ErrWAVFormat) {
		t.Errorf("8-bit PCM: got %v, want ErrWAVFormat", err)
	}
}
