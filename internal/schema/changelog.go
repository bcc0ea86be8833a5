package schema

import "fmt"

// ChangeRecorder decides whether a current-row transition is appended to the
// entity's change log. Implementations are attached to a descriptor at
// registry construction; there is no runtime capability probing.
type ChangeRecorder interface {
	// Matches receives the previous and next materialized payloads. A nil
	// pointer marks absence (document created, or hard-deleted).
	Matches(previous, next *Record) bool
}

type recordAllChanges struct{}

// Matches always records the transition.
func (recordAllChanges) Matches(previous, next *Record) bool {
	return true
}

// RecordAllChanges returns a recorder that logs every current-row transition.
func RecordAllChanges() ChangeRecorder {
	return recordAllChanges{}
}

type recordFieldTransitions struct {
	field string
}

// Matches records the transition when the tracked field appears, disappears,
// or changes value between the previous and next payloads.
func (recorder recordFieldTransitions) Matches(previous, next *Record) bool {
	var before, after any
	var hadBefore, hasAfter bool
	if previous != nil {
		before, hadBefore = previous.Get(recorder.field)
	}
	if next != nil {
		after, hasAfter = next.Get(recorder.field)
	}
	if hadBefore != hasAfter {
		return true
	}
	return fmt.Sprintf("%v", before) != fmt.Sprintf("%v", after)
}

// RecordFieldTransitions returns a recorder that logs transitions of a single
// tracked field.
func RecordFieldTransitions(field string) ChangeRecorder {
	return recordFieldTransitions{field: field}
}

// ChangeRecorderByName resolves a configuration-supplied recorder name. The
// empty name disables change logging. Unknown names fail at wiring time.
func ChangeRecorderByName(name, field string) (ChangeRecorder, error) {
	switch name {
	case "":
		return nil, nil
	case "all":
		return RecordAllChanges(), nil
	case "field":
		if field == "" {
			return nil, fmt.Errorf("%w: change recorder %q needs a field", ErrInvalidDescriptor, name)
		}
		return RecordFieldTransitions(field), nil
	default:
		return nil, fmt.Errorf("%w: unknown change recorder %q", ErrInvalidDescriptor, name)
	}
}
