package storage

import (
	"fmt"
	"slices"
	"strings"

	"asset-recyclebin/internal/model"
)

// ObjectType declares a kind of registry object that can pass through the
// recycle bin.
type ObjectType struct {
	Name         string   `yaml:"name" toml:"name" json:"name" validate:"required,max=100"`
	Module       string   `yaml:"module" toml:"module" json:"module" validate:"required,max=100"`
	DisplayField string   `yaml:"display_field" toml:"display_field" json:"display_field,omitempty"`
	UniqueFields []string `yaml:"unique_fields" toml:"unique_fields" json:"unique_fields,omitempty" validate:"dive,required"`
}

type Registry struct {
	types map[string]ObjectType
}

func NewRegistry(types []ObjectType) (*Registry, error) {
	registry := &Registry{types: make(map[string]ObjectType, len(types))}
	for _, objectType := range types {
		objectType.Name = strings.ToLower(strings.TrimSpace(objectType.Name))
		objectType.Module = strings.ToLower(strings.TrimSpace(objectType.Module))
		if objectType.Name == "" || objectType.Module == "" {
			return nil, fmt.Errorf("object type requires a name and a module")
		}
		if _, exists := registry.types[objectType.Name]; exists {
			return nil, fmt.Errorf("object type %q declared twice", objectType.Name)
		}
		registry.types[objectType.Name] = objectType
	}
	return registry, nil
}

func (r *Registry) Lookup(name string) (ObjectType, bool) {
	if r == nil {
		return ObjectType{}, false
	}
	objectType, ok := r.types[name]
	return objectType, ok
}

func (r *Registry) Types() []ObjectType {
	out := make([]ObjectType, 0, len(r.types))
	for _, objectType := range r.types {
		out = append(out, objectType)
	}
	slices.SortFunc(out, func(a, b ObjectType) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Record is a registry object stored as an ordered set of fields. It
// implements model.Deletable for every declared object type.
type Record struct {
	Type    ObjectType
	ID      string
	Fields  model.Snapshot
	Deleted bool
}

func (r Record) Ref() model.ObjectRef {
	return model.ObjectRef{Type: r.Type.Name, ID: r.ID}
}

func (r Record) Module() string {
	return r.Type.Module
}

func (r Record) DisplayRepr() string {
	if r.Type.DisplayField != "" {
		if value, ok := r.Fields.Get(r.Type.DisplayField); ok && value != nil {
			return fmt.Sprint(value)
		}
	}
	return r.Type.Name + " #" + r.ID
}

func (r Record) IsDeleted() bool {
	return r.Deleted
}

func (r Record) Snapshot() model.Snapshot {
	out := make(model.Snapshot, 0, len(r.Fields)+1)
	out = append(out, model.Field{Key: "id", Value: r.ID})
	for _, field := range r.Fields {
		if field.Key == "id" {
			continue
		}
		out = append(out, field)
	}
	return out
}

func (r Record) UniqueFields() []model.Field {
	out := make([]model.Field, 0, len(r.Type.UniqueFields))
	for _, name := range r.Type.UniqueFields {
		value, ok := r.Fields.Get(name)
		if !ok || value == nil {
			continue
		}
		out = append(out, model.Field{Key: name, Value: value})
	}
	return out
}

// sameValue compares JSON-decoded and native values by their text form.
func sameValue(a any, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
