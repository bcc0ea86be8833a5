package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record holds one validated payload as an ordered set of named field values.
// Field order follows the entity descriptor, which keeps the canonical JSON
// form stable across replicas.
type Record struct {
	names  []string
	values map[string]any
}

// Get returns the value stored for a field name.
func (r Record) Get(name string) (any, bool) {
	value, ok := r.values[name]
	return value, ok
}

// Names returns the field names present, in descriptor order.
func (r Record) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// CanonicalJSON renders the record as a JSON object with fields in descriptor
// order. Two records with equal field values always render identically.
func (r Record) CanonicalJSON() (string, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for position, name := range r.names {
		if position > 0 {
			buffer.WriteByte(',')
		}
		encodedName, err := json.Marshal(name)
		if err != nil {
			return "", err
		}
		buffer.Write(encodedName)
		buffer.WriteByte(':')
		encodedValue, err := json.Marshal(r.values[name])
		if err != nil {
			return "", err
		}
		buffer.Write(encodedValue)
	}
	buffer.WriteByte('}')
	return buffer.String(), nil
}

// ValidateRecord checks a decoded payload object against the descriptor and
// returns the ordered record. Unknown fields are rejected outright; required
// fields are enforced unless the payload carries a deletion marker.
func (d Descriptor) ValidateRecord(raw map[string]any, deleted bool) (Record, error) {
	declared := make(map[string]Field, len(d.Fields))
	for _, field := range d.Fields {
		declared[field.Name] = field
	}
	for name := range raw {
		if _, ok := declared[name]; !ok {
			return Record{}, fmt.Errorf("%w: %q on entity %q", ErrUnknownField, name, d.Name)
		}
	}

	record := Record{values: make(map[string]any, len(raw))}
	for _, field := range d.Fields {
		value, present := raw[field.Name]
		if !present {
			if field.Required && !deleted {
				return Record{}, fmt.Errorf("%w: %q on entity %q", ErrMissingField, field.Name, d.Name)
			}
			continue
		}
		coerced, err := field.coerce(value)
		if err != nil {
			return Record{}, err
		}
		record.names = append(record.names, field.Name)
		record.values[field.Name] = coerced
	}
	return record, nil
}

// ParseRecordJSON decodes a stored payload column back into a record.
func (d Descriptor) ParseRecordJSON(payloadJSON string) (Record, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidFieldValue, err)
	}
	return d.ValidateRecord(raw, true)
}
