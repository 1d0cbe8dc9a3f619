package wire

import (
	"embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks inbound payloads against the embedded JSON schemas
// before they are decoded. Compile once, share across sessions; Validate
// is safe for concurrent use.
type Validator struct {
	schemas map[Type]*gojsonschema.Schema
}

// NewValidator compiles the embedded schemas for the client-sent message
// types.
func NewValidator() (*Validator, error) {
	files := map[Type]string{
		TypeConfig:  "schemas/config.schema.json",
		TypeAudio:   "schemas/audio.schema.json",
		TypeControl: "schemas/control.schema.json",
	}

	v := &Validator{schemas: make(map[Type]*gojsonschema.Schema, len(files))}
	for t, path := range files {
		raw, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("wire: read embedded schema %s: %w", path, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("wire: compile schema %s: %w", path, err)
		}
		v.schemas[t] = schema
	}
	return v, nil
}

// Validate checks a raw payload against the schema for its message type.
// A nil return means the payload may be decoded through the typed
// accessors on Inbound.
func (v *Validator) Validate(t Type, data []byte) error {
	schema, ok := v.schemas[t]
	if !ok {
		return &Error{
			Code:    CodeValidation,
			Message: "unsupported inbound message type",
			Details: map[string]any{"type": string(t)},
		}
	}

	// A frame without a data field still gets required-property errors
	// instead of a JSON parse failure.
	if len(data) == 0 {
		data = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &Error{Code: CodeValidation, Message: "malformed payload", Err: err}
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			violations = append(violations, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
		}
		return &Error{
			Code:    CodeValidation,
			Message: "payload failed validation",
			Details: map[string]any{"violations": violations},
		}
	}
	return nil
}
