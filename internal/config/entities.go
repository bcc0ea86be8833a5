package config

import (
	"fmt"

	"github.com/seadriftlabs/seadrift/internal/schema"
	"github.com/spf13/viper"
)

// FieldConfig declares one payload field of a replicated entity.
type FieldConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	Required bool   `mapstructure:"required"`
}

// DependentConfig declares one owned child entity.
type DependentConfig struct {
	Entity     string `mapstructure:"entity"`
	ForeignKey string `mapstructure:"foreign_key"`
	Immutable  bool   `mapstructure:"immutable"`
}

// ChangeLogConfig selects the entity's change recorder.
type ChangeLogConfig struct {
	Mode  string `mapstructure:"mode"`
	Field string `mapstructure:"field"`
}

// EntityConfig is the file representation of one entity descriptor.
type EntityConfig struct {
	Name       string            `mapstructure:"name"`
	Fields     []FieldConfig     `mapstructure:"fields"`
	Dependents []DependentConfig `mapstructure:"dependents"`
	ChangeLog  *ChangeLogConfig  `mapstructure:"changelog"`
}

type entitiesFile struct {
	Entities []EntityConfig `mapstructure:"entities"`
}

// LoadEntities reads the entity descriptor file and converts it into
// validated schema descriptors. Wiring problems, unknown field kinds and
// unknown change recorders included, surface here rather than at request
// time.
func LoadEntities(path string) ([]schema.Descriptor, error) {
	entityViper := viper.New()
	entityViper.SetConfigFile(path)
	if err := entityViper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read entities file %s: %w", path, err)
	}

	var parsed entitiesFile
	if err := entityViper.Unmarshal(&parsed); err != nil {
		return nil, fmt.Errorf("decode entities file %s: %w", path, err)
	}
	if len(parsed.Entities) == 0 {
		return nil, fmt.Errorf("entities file %s declares no entities", path)
	}

	descriptors := make([]schema.Descriptor, 0, len(parsed.Entities))
	for _, entity := range parsed.Entities {
		descriptor, err := entity.toDescriptor()
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

func (e EntityConfig) toDescriptor() (schema.Descriptor, error) {
	descriptor := schema.Descriptor{Name: e.Name}

	for _, field := range e.Fields {
		descriptor.Fields = append(descriptor.Fields, schema.Field{
			Name:     field.Name,
			Kind:     schema.FieldKind(field.Kind),
			Required: field.Required,
		})
	}
	for _, dependent := range e.Dependents {
		descriptor.Dependents = append(descriptor.Dependents, schema.Dependent{
			Entity:          dependent.Entity,
			ForeignKeyField: dependent.ForeignKey,
			Immutable:       dependent.Immutable,
		})
	}

	if e.ChangeLog != nil {
		recorder, err := schema.ChangeRecorderByName(e.ChangeLog.Mode, e.ChangeLog.Field)
		if err != nil {
			return schema.Descriptor{}, fmt.Errorf("entity %q: %w", e.Name, err)
		}
		descriptor.ChangeLog = recorder
	}
	return descriptor, nil
}
