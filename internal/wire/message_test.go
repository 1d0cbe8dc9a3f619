package wire_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxgate/internal/wire"
)

// decode parses raw JSON into an Inbound frame and fails the test on error.
func decode(t *testing.T, raw string) *wire.Inbound {
	t.Helper()
	in, err := wire.DecodeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	return in
}

// TestDecodeInbound_Config checks two-phase decoding of a config frame.
func TestDecodeInbound_Config(t *testing.T) {
	in := decode(t, `{
		"type": "config",
		"data": {"api_key": "sk-test", "enable_llm": true, "language": "de", "vad_threshold": 0.4},
		"timestamp": 1700000000000
	}`)

	if in.Type != wire.TypeConfig {
		t.Fatalf("expected type config, got %q", in.Type)
	}
	if in.Timestamp != 1700000000000 {
		t.Errorf("expected timestamp preserved, got %d", in.Timestamp)
	}

	cfg, err := in.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("expected api key sk-test, got %q", cfg.APIKey)
	}
	if !cfg.EnableLLM {
		t.Error("expected enable_llm true")
	}
	if cfg.Language != "de" {
		t.Errorf("expected language de, got %q", cfg.Language)
	}
	if cfg.VADThreshold == nil || *cfg.VADThreshold != 0.4 {
		t.Errorf("expected vad_threshold 0.4, got %v", cfg.VADThreshold)
	}
	if cfg.ChunkDuration != nil {
		t.Errorf("expected absent chunk_duration to stay nil, got %v", *cfg.ChunkDuration)
	}
}

// TestDecodeInbound_RejectsUnknownType checks that unrecognized types fail
// before any payload is touched.
func TestDecodeInbound_RejectsUnknownType(t *testing.T) {
	_, err := wire.DecodeInbound([]byte(`{"type": "bogus", "data": {}, "timestamp": 0}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	var we *wire.Error
	if !errors.As(err, &we) {
		t.Fatalf("expected *wire.Error, got %T", err)
	}
	if we.Code != wire.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %s", we.Code)
	}
}

// TestDecodeInbound_RejectsOutboundType checks that server-sent types are
// not accepted from clients.
func TestDecodeInbound_RejectsOutboundType(t *testing.T) {
	for _, typ := range []string{"result", "status", "error"} {
		_, err := wire.DecodeInbound([]byte(`{"type": "` + typ + `", "data": {}, "timestamp": 0}`))
		if err == nil {
			t.Errorf("%s: expected error for outbound type", typ)
		}
	}
}

// TestDecodeInbound_MalformedEnvelope checks the malformed JSON path.
func TestDecodeInbound_MalformedEnvelope(t *testing.T) {
	_, err := wire.DecodeInbound([]byte(`{"type": "config",`))
	if err == nil {
		t.Fatal("expected error for malformed envelope")
	}
	var we *wire.Error
	if !errors.As(err, &we) || we.Code != wire.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// TestAudio_DefaultSampleRate checks that an omitted sample_rate becomes 16000.
func TestAudio_DefaultSampleRate(t *testing.T) {
	in := decode(t, `{"type": "audio", "data": {"audio_data": [0.1, -0.2]}, "timestamp": 0}`)

	audio, err := in.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if audio.SampleRate != wire.DefaultSampleRate {
		t.Errorf("expected default sample rate %d, got %d", wire.DefaultSampleRate, audio.SampleRate)
	}
	if len(audio.Samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(audio.Samples))
	}
}

// TestAudio_ExplicitSampleRate checks that a provided sample_rate is kept.
func TestAudio_ExplicitSampleRate(t *testing.T) {
	in := decode(t, `{"type": "audio", "data": {"audio_data": [0.1], "sample_rate": 48000}, "timestamp": 0}`)

	audio, err := in.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if audio.SampleRate != 48000 {
		t.Errorf("expected sample rate 48000, got %d", audio.SampleRate)
	}
}

// TestControl_Decode checks command and parameter decoding.
func TestControl_Decode(t *testing.T) {
	in := decode(t, `{"type": "control", "data": {"command": "start", "parameters": {"warm": true}}, "timestamp": 0}`)

	ctl, err := in.Control()
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	if ctl.Command != wire.CommandStart {
		t.Errorf("expected command start, got %q", ctl.Command)
	}
	if v, ok := ctl.Parameters["warm"].(bool); !ok || !v {
		t.Errorf("expected parameter warm=true, got %v", ctl.Parameters)
	}
}

// TestNewResultEnvelope_NormalizesReplaces checks that a nil replaces list
// serializes as an empty array, never null.
func TestNewResultEnvelope_NormalizesReplaces(t *testing.T) {
	env := wire.NewResultEnvelope(wire.ResultData{SegmentID: 7, Text: "hi"})

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"replaces_segments":[]`) {
		t.Errorf("expected empty replaces array in %s", raw)
	}
}

// TestNewEnvelope_Timestamps checks that constructors stamp messages.
func TestNewEnvelope_Timestamps(t *testing.T) {
	env := wire.NewStatusEnvelope(wire.StatusData{Status: wire.StatusReady})
	// Unix milliseconds for any date this code could plausibly run at.
	if env.Timestamp < 1_600_000_000_000 {
		t.Errorf("expected millisecond timestamp, got %d", env.Timestamp)
	}
	if env.Type != wire.TypeStatus {
		t.Errorf("expected type status, got %q", env.Type)
	}
}

// TestNewErrorEnvelope_Payload checks the serialized error shape.
func TestNewErrorEnvelope_Payload(t *testing.T) {
	we := wire.NewError(wire.CodeAtCapacity, "server at capacity")
	env := wire.NewErrorEnvelope(we.Data())

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got struct {
		Type string `json:"type"`
		Data struct {
			Message     string `json:"error"`
			ErrorCode   string `json:"error_code"`
			Recoverable bool   `json:"recoverable"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "error" {
		t.Errorf("expected type error, got %q", got.Type)
	}
	if got.Data.ErrorCode != "AT_CAPACITY" {
		t.Errorf("expected AT_CAPACITY, got %q", got.Data.ErrorCode)
	}
	if got.Data.Recoverable {
		t.Error("expected AT_CAPACITY to be unrecoverable")
	}
	if got.Data.Message != "server at capacity" {
		t.Errorf("unexpected message %q", got.Data.Message)
	}
}
