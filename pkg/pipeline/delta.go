package pipeline

import (
	"encoding/json"
)

type deltaKind int

const (
	deltaNone deltaKind = iota
	deltaReplace
	deltaFields
	deltaDelete
)

// Delta describes what an action writes to the store.
type Delta struct {
	kind   deltaKind
	value  any
	fields map[string]any
}

// Replace writes v as the whole document.
func Replace(v any) Delta {
	return Delta{kind: deltaReplace, value: v}
}

// Fields merges the given top-level fields into the stored document, leaving
// other fields as they are in the store.
func Fields(fields map[string]any) Delta {
	return Delta{kind: deltaFields, fields: fields}
}

// Field merges a single top-level field.
func Field(name string, v any) Delta {
	return Fields(map[string]any{name: v})
}

// Delete removes the document.
func Delete() Delta {
	return Delta{kind: deltaDelete}
}

// None changes local state only.
func None() Delta {
	return Delta{}
}

type encodedDelta struct {
	kind    deltaKind
	payload json.RawMessage
	fields  map[string]json.RawMessage
}

func (d Delta) encode() (encodedDelta, error) {
	enc := encodedDelta{kind: d.kind}
	switch d.kind {
	case deltaReplace:
		payload, err := json.Marshal(d.value)
		if err != nil {
			return enc, err
		}
		enc.payload = payload
	case deltaFields:
		enc.fields = make(map[string]json.RawMessage, len(d.fields))
		for name, v := range d.fields {
			raw, err := json.Marshal(v)
			if err != nil {
				return enc, err
			}
			enc.fields[name] = raw
		}
	}
	return enc, nil
}
