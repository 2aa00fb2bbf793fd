package realtime

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Ingress schemas for the client-to-relay events. Relay-to-client events are
// produced locally and need no validation.
var eventSchemas = map[string]string{
	EventJoinRoom: `{
		"type": "object",
		"required": ["roomId"],
		"properties": {
			"roomId": {"type": "string", "minLength": 1, "maxLength": 256}
		}
	}`,
	EventNoteChange: `{
		"type": "object",
		"required": ["roomId", "content"],
		"properties": {
			"roomId": {"type": "string", "minLength": 1, "maxLength": 256},
			"content": {"type": ["string", "object", "array"]},
			"cursorPosition": {"type": "integer"}
		}
	}`,
	EventCursorMove: `{
		"type": "object",
		"required": ["roomId"],
		"properties": {
			"roomId": {"type": "string", "minLength": 1, "maxLength": 256},
			"from": {"type": "integer"},
			"to": {"type": "integer"},
			"position": {"type": "integer"},
			"x": {"type": "number"},
			"y": {"type": "number"}
		}
	}`,
}

// Validator checks inbound payloads against the compiled event schemas.
// Unknown events fail validation outright.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, len(eventSchemas))
	for event, src := range eventSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", event, err)
		}
		url := "inmem://realtime/" + event + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("register %s schema: %w", event, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", event, err)
		}
		compiled[event] = sch
	}
	return &Validator{schemas: compiled}, nil
}

// Validate checks one decoded payload. A nil error means the payload is safe
// to relay.
func (v *Validator) Validate(event string, payload []byte) error {
	sch, ok := v.schemas[event]
	if !ok {
		return fmt.Errorf("unknown event %q", event)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s payload is not valid JSON: %w", event, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%s payload rejected: %w", event, err)
	}
	return nil
}
