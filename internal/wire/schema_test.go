package wire_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxgate/internal/wire"
)

// newValidator compiles the embedded schemas or fails the test.
func newValidator(t *testing.T) *wire.Validator {
	t.Helper()
	v, err := wire.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

// mustValidate asserts that a payload passes for the given type.
func mustValidate(t *testing.T, v *wire.Validator, typ wire.Type, payload string) {
	t.Helper()
	if err := v.Validate(typ, []byte(payload)); err != nil {
		t.Fatalf("expected %s payload to validate, got %v", typ, err)
	}
}

// mustReject asserts that a payload fails validation with VALIDATION_ERROR.
func mustReject(t *testing.T, v *wire.Validator, typ wire.Type, payload string) {
	t.Helper()
	err := v.Validate(typ, []byte(payload))
	if err == nil {
		t.Fatalf("expected %s payload %s to be rejected", typ, payload)
	}
	var we *wire.Error
	if !errors.As(err, &we) {
		t.Fatalf("expected *wire.Error, got %T", err)
	}
	if we.Code != wire.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %s", we.Code)
	}
}

// TestValidator_ConfigRequiresAPIKey checks the mandatory credential.
func TestValidator_ConfigRequiresAPIKey(t *testing.T) {
	v := newValidator(t)
	mustValidate(t, v, wire.TypeConfig, `{"api_key": "sk-test"}`)
	mustReject(t, v, wire.TypeConfig, `{"enable_llm": true}`)
	mustReject(t, v, wire.TypeConfig, `{"api_key": ""}`)
}

// TestValidator_ConfigLanguagePattern checks the ISO 639-1 constraint.
func TestValidator_ConfigLanguagePattern(t *testing.T) {
	v := newValidator(t)
	mustValidate(t, v, wire.TypeConfig, `{"api_key": "k", "language": "de"}`)
	mustReject(t, v, wire.TypeConfig, `{"api_key": "k", "language": "deu"}`)
	mustReject(t, v, wire.TypeConfig, `{"api_key": "k", "language": "EN"}`)
}

// TestValidator_ConfigThresholdBounds checks the [0,1] VAD threshold range.
func TestValidator_ConfigThresholdBounds(t *testing.T) {
	v := newValidator(t)
	mustValidate(t, v, wire.TypeConfig, `{"api_key": "k", "vad_threshold": 0}`)
	mustValidate(t, v, wire.TypeConfig, `{"api_key": "k", "vad_threshold": 1}`)
	mustReject(t, v, wire.TypeConfig, `{"api_key": "k", "vad_threshold": -0.1}`)
	mustReject(t, v, wire.TypeConfig, `{"api_key": "k", "vad_threshold": 1.5}`)
}

// TestValidator_ConfigChunkDurationBounds checks the [0.5,10] second range.
func TestValidator_ConfigChunkDurationBounds(t *testing.T) {
	v := newValidator(t)
	mustValidate(t, v, wire.TypeConfig, `{"api_key": "k", "chunk_duration": 3.0}`)
	mustReject(t, v, wire.TypeConfig, `{"api_key": "k", "chunk_duration": 0.1}`)
	mustReject(t, v, wire.TypeConfig, `{"api_key": "k", "chunk_duration": 30}`)
}

// TestValidator_AudioRequiresSamples checks the non-empty sample rule.
func TestValidator_AudioRequiresSamples(t *testing.T) {
	v := newValidator(t)
	mustValidate(t, v, wire.TypeAudio, `{"audio_data": [0.1, -0.2, 0.0]}`)
	mustReject(t, v, wire.TypeAudio, `{"audio_data": []}`)
	mustReject(t, v, wire.TypeAudio, `{"sample_rate": 16000}`)
}

// TestValidator_AudioRejectsNonNumericSamples checks element typing.
func TestValidator_AudioRejectsNonNumericSamples(t *testing.T) {
	v := newValidator(t)
	mustReject(t, v, wire.TypeAudio, `{"audio_data": ["loud"]}`)
}

// TestValidator_ControlCommands checks the command enum.
func TestValidator_ControlCommands(t *testing.T) {
	v := newValidator(t)
	for _, cmd := range []string{"start", "stop", "reset", "pause", "resume"} {
		mustValidate(t, v, wire.TypeControl, `{"command": "`+cmd+`"}`)
	}
	mustReject(t, v, wire.TypeControl, `{"command": "jump"}`)
	mustReject(t, v, wire.TypeControl, `{}`)
}

// TestValidator_EmptyPayload checks that a missing data field reports the
// schema violations rather than a parse failure.
func TestValidator_EmptyPayload(t *testing.T) {
	v := newValidator(t)

	err := v.Validate(wire.TypeConfig, nil)
	if err == nil {
		t.Fatal("expected empty config payload to be rejected")
	}
	var we *wire.Error
	if !errors.As(err, &we) {
		t.Fatalf("expected *wire.Error, got %T", err)
	}
	if we.Details["violations"] == nil {
		t.Errorf("expected violations detail, got %v", we.Details)
	}
}

// TestValidator_UnsupportedType checks outbound types are not validatable.
func TestValidator_UnsupportedType(t *testing.T) {
	v := newValidator(t)
	mustReject(t, v, wire.TypeResult, `{}`)
}

// TestValidator_MalformedPayload checks truncated JSON handling.
func TestValidator_MalformedPayload(t *testing.T) {
	v := newValidator(t)
	mustReject(t, v, wire.TypeConfig, `{"api_key":`)
}
