// Package params normalizes alias-tolerant API input against declarative field tables.
//
// A Spec lists, per entity and action, the fields an action understands: canonical name,
// aliases, whether the field is required, and its default. Normalize is the only consumer
// of these tables, so every action resolves aliases, enforces required fields and applies
// defaults the same way.
package params

import (
	"fmt"
	"sort"
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
)

type Type string

const (
	TypeInt    Type = "int"
	TypeMoney  Type = "money"
	TypeString Type = "string"
	TypeText   Type = "text"
	TypeDate   Type = "date"
	TypeBool   Type = "bool"
	TypeArray  Type = "array"
)

type Field struct {
	Name        string
	Title       string
	Description string
	Type        Type
	Aliases     []string
	Required    bool
	// Default is applied when neither the field nor an alias is present. DefaultFunc takes
	// precedence and is evaluated per call (dates).
	Default     any
	DefaultFunc func() any
	// DefaultFrom copies the first present of these fields when the field is absent. It runs
	// after alias resolution, in field order, so a chain may reference earlier fields.
	DefaultFrom []string
	// FKEntity names the entity a reference field points at.
	FKEntity string
}

func (f Field) hasDefault() bool {
	return f.Default != nil || f.DefaultFunc != nil
}

func (f Field) defaultValue() any {
	if f.DefaultFunc != nil {
		return f.DefaultFunc()
	}
	return f.Default
}

type Spec struct {
	Entity string
	Action string
	Fields []Field
	// SkipRequiredWithID relaxes required checks when the bag carries an id (update path).
	SkipRequiredWithID bool
}

func (s Spec) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Normalize resolves aliases, enforces required fields and applies defaults. The caller's
// bag is left untouched; keys the Spec does not declare pass through unchanged.
func Normalize(spec Spec, raw Bag) (Bag, error) {
	out := raw.Clone()

	for _, f := range spec.Fields {
		if out.Has(f.Name) {
			continue
		}
		for _, alias := range f.Aliases {
			if out.Has(alias) {
				out[f.Name] = out[alias]
				break
			}
		}
	}

	if !(spec.SkipRequiredWithID && out.Has("id")) {
		var missing []string
		for _, f := range spec.Fields {
			if f.Required && !out.Has(f.Name) {
				missing = append(missing, f.Name)
			}
		}
		if len(missing) > 0 {
			return nil, apierr.Newf(apierr.Validation, "Mandatory key(s) missing from params array: %s", strings.Join(missing, ", "))
		}
	}

	for _, f := range spec.Fields {
		if out.Has(f.Name) {
			continue
		}
		for _, src := range f.DefaultFrom {
			if out.Has(src) {
				out[f.Name] = out[src]
				break
			}
		}
		if !out.Has(f.Name) && f.hasDefault() {
			out[f.Name] = f.defaultValue()
		}
	}
	return out, nil
}

type specKey struct {
	entity string
	action string
}

// Registry holds the specs of every entity action. It is built once and read concurrently.
type Registry struct {
	specs map[specKey]Spec
}

func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[specKey]Spec, len(specs))}
	for _, spec := range specs {
		key := specKey{entity: strings.ToLower(spec.Entity), action: strings.ToLower(spec.Action)}
		if key.entity == "" || key.action == "" {
			return nil, fmt.Errorf("spec entity and action are required")
		}
		if _, dup := r.specs[key]; dup {
			return nil, fmt.Errorf("duplicate spec %s.%s", key.entity, key.action)
		}
		if err := checkNames(spec); err != nil {
			return nil, fmt.Errorf("spec %s.%s: %w", key.entity, key.action, err)
		}
		r.specs[key] = spec
	}
	return r, nil
}

func (r *Registry) Lookup(entity, action string) (Spec, bool) {
	spec, ok := r.specs[specKey{entity: strings.ToLower(entity), action: strings.ToLower(action)}]
	return spec, ok
}

// Actions lists the registered actions of an entity, sorted.
func (r *Registry) Actions(entity string) []string {
	entity = strings.ToLower(entity)
	var out []string
	for key := range r.specs {
		if key.entity == entity {
			out = append(out, key.action)
		}
	}
	sort.Strings(out)
	return out
}

// checkNames rejects an alias that collides with another field's canonical name or alias;
// resolution order would otherwise depend on field order.
func checkNames(spec Spec) error {
	owner := make(map[string]string)
	for _, f := range spec.Fields {
		if f.Name == "" {
			return fmt.Errorf("field name is required")
		}
		if _, ok := owner[f.Name]; ok {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		owner[f.Name] = f.Name
	}
	for _, f := range spec.Fields {
		for _, alias := range f.Aliases {
			if prev, ok := owner[alias]; ok {
				return fmt.Errorf("alias %q of %s collides with %s", alias, f.Name, prev)
			}
			owner[alias] = f.Name
		}
	}
	return nil
}
