package schema

import (
	"fmt"
	"strings"
)

// Dependent names a child entity whose documents are owned by a parent
// document and removed when the parent's last live revision disappears.
type Dependent struct {
	// Entity is the registered name of the child entity.
	Entity string
	// ForeignKeyField is the child field holding the parent document id.
	ForeignKeyField string
	// Immutable marks append-only dependents that are deleted outright
	// instead of being tombstoned through version control.
	Immutable bool
}

// Descriptor describes one replicated entity: its payload fields, owned
// dependents, and optional change-log capability.
type Descriptor struct {
	Name       string
	Fields     []Field
	Dependents []Dependent
	ChangeLog  ChangeRecorder
}

func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty entity name", ErrInvalidDescriptor)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: entity %q declares no fields", ErrInvalidDescriptor, d.Name)
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, field := range d.Fields {
		if err := field.validate(); err != nil {
			return err
		}
		if _, duplicate := seen[field.Name]; duplicate {
			return fmt.Errorf("%w: entity %q declares field %q twice", ErrInvalidDescriptor, d.Name, field.Name)
		}
		seen[field.Name] = struct{}{}
	}
	return nil
}

func (d Descriptor) hasField(name string) bool {
	for _, field := range d.Fields {
		if field.Name == name {
			return true
		}
	}
	return false
}

// Registry holds the immutable set of entity descriptors for one process.
// It is built once at start, validated eagerly, and injected everywhere a
// component needs entity metadata.
type Registry struct {
	entities map[string]Descriptor
	order    []string
}

// NewRegistry validates the descriptors and their cross-references and
// returns the wired registry. All wiring problems surface here, not at
// request time.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	registry := &Registry{entities: make(map[string]Descriptor, len(descriptors))}
	for _, descriptor := range descriptors {
		if err := descriptor.validate(); err != nil {
			return nil, err
		}
		if _, duplicate := registry.entities[descriptor.Name]; duplicate {
			return nil, fmt.Errorf("%w: entity %q registered twice", ErrInvalidDescriptor, descriptor.Name)
		}
		registry.entities[descriptor.Name] = descriptor
		registry.order = append(registry.order, descriptor.Name)
	}

	for _, descriptor := range descriptors {
		for _, dependent := range descriptor.Dependents {
			child, registered := registry.entities[dependent.Entity]
			if !registered {
				return nil, fmt.Errorf("%w: entity %q depends on unregistered entity %q", ErrInvalidDescriptor, descriptor.Name, dependent.Entity)
			}
			if !child.hasField(dependent.ForeignKeyField) {
				return nil, fmt.Errorf("%w: dependent %q lacks foreign key field %q", ErrInvalidDescriptor, dependent.Entity, dependent.ForeignKeyField)
			}
		}
	}
	return registry, nil
}

// Entity returns the descriptor registered under the provided name.
func (r *Registry) Entity(name string) (Descriptor, error) {
	descriptor, ok := r.entities[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return descriptor, nil
}

// Entities returns all descriptors in registration order.
func (r *Registry) Entities() []Descriptor {
	descriptors := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.entities[name])
	}
	return descriptors
}
