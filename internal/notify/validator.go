package notify

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/roach88/searchsync/internal/syncer"
)

//go:embed event.schema.json
var eventSchema []byte

const schemaURL = "event.schema.json"

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// Validator checks raw JSON events against the event schema.
//
// Thread-safety: a compiled Validator is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded event schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchema))
	if err != nil {
		return nil, fmt.Errorf("parse event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add event schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// Validate checks one event.
func (v *Validator) Validate(raw []byte) (syncer.Event, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return syncer.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return syncer.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	var ev syncer.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return syncer.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, nil
}

// Decode validates a single event or a JSON array of events. Either every
// event is valid or none is returned.
func (v *Validator) Decode(raw []byte) ([]syncer.Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidEvent)
	}
	if trimmed[0] != '[' {
		ev, err := v.Validate(trimmed)
		if err != nil {
			return nil, err
		}
		return []syncer.Event{ev}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	out := make([]syncer.Event, 0, len(items))
	for i, item := range items {
		ev, err := v.Validate(item)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
