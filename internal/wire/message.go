// Package wire defines the streaming protocol spoken on the primary
// WebSocket: the {type, data, timestamp} envelope, the payload shapes for
// each message type, the error taxonomy, and up-front schema validation
// of inbound frames.
//
// Inbound frames decode in two phases: DecodeInbound reads the envelope
// and leaves data raw, then the payload is validated against its embedded
// JSON schema before the typed accessor unmarshals it. Nothing downstream
// of the validator sees a malformed payload.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"
)

// Type discriminates envelope payloads.
type Type string

const (
	TypeConfig  Type = "config"
	TypeAudio   Type = "audio"
	TypeControl Type = "control"
	TypeResult  Type = "result"
	TypeStatus  Type = "status"
	TypeError   Type = "error"
)

// DefaultSampleRate applies when an audio payload omits sample_rate.
const DefaultSampleRate = 16000

// Control commands accepted on the stream.
const (
	CommandStart  = "start"
	CommandStop   = "stop"
	CommandReset  = "reset"
	CommandPause  = "pause"
	CommandResume = "resume"
)

// Session status values reported to the client.
const (
	StatusConnecting   = "connecting"
	StatusReady        = "ready"
	StatusProcessing   = "processing"
	StatusError        = "error"
	StatusDisconnected = "disconnected"
)

// VAD states reported inside a status message.
const (
	VADStateSpeech  = "speech"
	VADStateSilence = "silence"
)

// Envelope is an outbound frame. Data marshals inline with the payload
// struct for the message type.
type Envelope struct {
	Type      Type  `json:"type"`
	Data      any   `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Inbound is a received frame. Data stays raw until the payload has been
// schema-validated and decoded through one of the typed accessors.
type Inbound struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ConfigData opens a session: credentials and per-session overrides.
type ConfigData struct {
	APIKey        string   `json:"api_key"`
	EnableLLM     bool     `json:"enable_llm"`
	Language      string   `json:"language,omitempty"`
	VADThreshold  *float64 `json:"vad_threshold,omitempty"`
	ChunkDuration *float64 `json:"chunk_duration,omitempty"`
}

// AudioData carries one push of float samples.
type AudioData struct {
	Samples    []float32 `json:"audio_data"`
	SampleRate int       `json:"sample_rate,omitempty"`
}

// ControlData carries a session control command.
type ControlData struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// VADState is the per-push detector snapshot attached to status messages.
type VADState struct {
	IsSpeaking     bool    `json:"is_speaking"`
	CurrentState   string  `json:"current_state"`
	StateChanged   bool    `json:"state_changed"`
	Probability    float64 `json:"probability"`
	RMS            float64 `json:"rms"`
	MaxAmplitude   float64 `json:"max_amplitude"`
	SilenceTimeout bool    `json:"silence_timeout"`
}

// StatusData reports the session lifecycle state.
type StatusData struct {
	Status   string         `json:"status"`
	VADState *VADState      `json:"vad_state,omitempty"`
	ClientID string         `json:"client_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResultData is one transcription segment.
type ResultData struct {
	SegmentID        int64          `json:"segment_id"`
	Text             string         `json:"text"`
	CorrectedText    string         `json:"corrected_text,omitempty"`
	IsFinal          bool           `json:"is_final"`
	IsTimeoutChunk   bool           `json:"is_timeout_chunk"`
	IsReprocessed    bool           `json:"is_reprocessed"`
	ReplacesSegments []int64        `json:"replaces_segments"`
	Confidence       *float64       `json:"confidence,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ErrorData reports a taxonomy-coded failure to the client.
type ErrorData struct {
	Message     string         `json:"error"`
	ErrorCode   Code           `json:"error_code"`
	Recoverable bool           `json:"recoverable"`
	Details     map[string]any `json:"details,omitempty"`
}

// NewStatusEnvelope frames a status message with the current timestamp.
func NewStatusEnvelope(data StatusData) Envelope {
	return Envelope{Type: TypeStatus, Data: data, Timestamp: nowMillis()}
}

// NewResultEnvelope frames a result message with the current timestamp.
// A nil replaces list is normalized to an empty one so clients always
// receive an array.
func NewResultEnvelope(data ResultData) Envelope {
	if data.ReplacesSegments == nil {
		data.ReplacesSegments = []int64{}
	}
	return Envelope{Type: TypeResult, Data: data, Timestamp: nowMillis()}
}

// NewErrorEnvelope frames an error message with the current timestamp.
func NewErrorEnvelope(data ErrorData) Envelope {
	return Envelope{Type: TypeError, Data: data, Timestamp: nowMillis()}
}

// DecodeInbound parses an envelope and checks that its type is one a
// client may send. The payload is returned raw for schema validation.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &Error{Code: CodeValidation, Message: "malformed message envelope", Err: err}
	}
	switch in.Type {
	case TypeConfig, TypeAudio, TypeControl:
		return &in, nil
	default:
		return nil, &Error{
			Code:    CodeValidation,
			Message: "unsupported inbound message type",
			Details: map[string]any{"type": string(in.Type)},
		}
	}
}

// Config decodes the payload of a config frame.
func (in *Inbound) Config() (ConfigData, error) {
	var d ConfigData
	if err := json.Unmarshal(in.Data, &d); err != nil {
		return ConfigData{}, &Error{Code: CodeValidation, Message: "decode config payload", Err: err}
	}
	return d, nil
}

// Audio decodes the payload of an audio frame, applying the default
// sample rate when the client omits it.
func (in *Inbound) Audio() (AudioData, error) {
	var d AudioData
	if err := json.Unmarshal(in.Data, &d); err != nil {
		return AudioData{}, &Error{Code: CodeValidation, Message: "decode audio payload", Err: err}
	}
	if d.SampleRate == 0 {
		d.SampleRate = DefaultSampleRate
	}
	return d, nil
}

// Control decodes the payload of a control frame.
func (in *Inbound) Control() (ControlData, error) {
	var d ControlData
	if err := json.Unmarshal(in.Data, &d); err != nil {
		return ControlData{}, &Error{Code: CodeValidation, Message: "decode control payload", Err: err}
	}
	return d, nil
}

// DecodeBinaryAudio converts a binary stream frame of little-endian
// float32 samples. An empty frame is the out-of-band stop signal and is
// handled before this is called.
func DecodeBinaryAudio(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, &Error{
			Code:    CodeValidation,
			Message: "binary audio frame length is not a multiple of 4",
			Details: map[string]any{"length": len(b)},
		}
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// EncodeBinaryAudio is the inverse of [DecodeBinaryAudio].
func EncodeBinaryAudio(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// nowMillis returns the current Unix time in milliseconds, the timestamp
// unit of the protocol.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
