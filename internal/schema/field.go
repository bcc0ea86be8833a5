package schema

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// FieldKind enumerates the closed set of supported field value kinds.
type FieldKind string

const (
	// FieldKindString holds free-form text.
	FieldKindString FieldKind = "string"
	// FieldKindInt holds whole numbers.
	FieldKindInt FieldKind = "int"
	// FieldKindFloat holds fractional numbers.
	FieldKindFloat FieldKind = "float"
	// FieldKindBool holds true/false values.
	FieldKindBool FieldKind = "bool"
	// FieldKindJSON holds nested structured values stored verbatim.
	FieldKindJSON FieldKind = "json"
)

var (
	// ErrInvalidDescriptor indicates an entity descriptor that cannot be wired.
	ErrInvalidDescriptor = errors.New("schema: invalid entity descriptor")
	// ErrUnknownEntity indicates a lookup for an entity the registry does not hold.
	ErrUnknownEntity = errors.New("schema: unknown entity")
	// ErrUnknownField indicates a payload field the descriptor does not declare.
	ErrUnknownField = errors.New("schema: unknown field")
	// ErrMissingField indicates a required payload field that is absent.
	ErrMissingField = errors.New("schema: missing required field")
	// ErrInvalidFieldValue indicates a payload value that does not match its declared kind.
	ErrInvalidFieldValue = errors.New("schema: invalid field value")
)

// Field declares one named, typed column of an entity payload.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

func (f Field) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: field with empty name", ErrInvalidDescriptor)
	}
	switch f.Kind {
	case FieldKindString, FieldKindInt, FieldKindFloat, FieldKindBool, FieldKindJSON:
		return nil
	default:
		return fmt.Errorf("%w: field %q has unknown kind %q", ErrInvalidDescriptor, f.Name, f.Kind)
	}
}

// coerce checks a decoded JSON value against the field kind and returns the
// value in its canonical in-memory form.
func (f Field) coerce(value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: field %q is null", ErrInvalidFieldValue, f.Name)
	}
	switch f.Kind {
	case FieldKindString:
		text, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q expects a string", ErrInvalidFieldValue, f.Name)
		}
		return text, nil
	case FieldKindInt:
		number, ok := value.(float64)
		if !ok || number != math.Trunc(number) {
			return nil, fmt.Errorf("%w: field %q expects an integer", ErrInvalidFieldValue, f.Name)
		}
		return int64(number), nil
	case FieldKindFloat:
		number, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: field %q expects a number", ErrInvalidFieldValue, f.Name)
		}
		return number, nil
	case FieldKindBool:
		flag, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: field %q expects a boolean", ErrInvalidFieldValue, f.Name)
		}
		return flag, nil
	case FieldKindJSON:
		return value, nil
	default:
		return nil, fmt.Errorf("%w: field %q has unknown kind %q", ErrInvalidFieldValue, f.Name, f.Kind)
	}
}
