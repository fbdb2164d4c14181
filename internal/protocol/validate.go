package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://citysim.local/schemas/"

var schemaFiles = map[string]string{
	TypeHello:         "hello.schema.json",
	TypeWelcome:       "welcome.schema.json",
	TypeFrame:         "frame.schema.json",
	TypeControl:       "control.schema.json",
	TypeAck:           "ack.schema.json",
	TypeEventBatchReq: "event_batch_req.schema.json",
}

// Error carries a wire error code alongside the cause.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string { return e.Code + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the wire code of err, or ErrInternal when it carries none.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}

// Validator checks messages against the embedded JSON schemas. It is safe for
// concurrent use once built.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, file := range schemaFiles {
		b, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+file, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", file, err)
		}
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for typ, file := range schemaFiles {
		s, err := c.Compile(schemaBase + file)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", file, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate routes raw by its type field and checks it against that type's
// schema and the protocol version.
func (v *Validator) Validate(raw []byte) (BaseMessage, error) {
	base, err := DecodeBase(raw)
	if err != nil {
		return base, &Error{Code: ErrProtoBadRequest, Err: err}
	}
	s, ok := v.schemas[base.Type]
	if !ok {
		return base, &Error{Code: ErrProtoBadRequest, Err: fmt.Errorf("unknown message type %q", base.Type)}
	}
	if base.ProtocolVersion != Version {
		return base, &Error{Code: ErrProtoVersion, Err: fmt.Errorf("protocol_version %q, want %q", base.ProtocolVersion, Version)}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return base, &Error{Code: ErrProtoBadRequest, Err: err}
	}
	if err := s.Validate(doc); err != nil {
		return base, &Error{Code: ErrBadRequest, Err: err}
	}
	return base, nil
}

// ValidateValue marshals m and validates it. Used for outbound messages in tests
// and debug builds.
func (v *Validator) ValidateValue(m any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = v.Validate(b)
	return err
}
