package asset

import (
	"context"
	"log/slog"
	"sort"

	"airlift-demo/internal/domain"
)

// Spec declares one asset: its identity, upstream keys and metadata.
type Spec struct {
	Key         Key
	Deps        []Key
	Description string
	Metadata    map[string]any
	Partitions  *DailyPartitions
}

// ExecContext is handed to a Body while it runs.
type ExecContext struct {
	RunID        string
	PartitionKey *string
	Logger       *slog.Logger

	metadata map[Key]map[string]any
}

// AddMetadata attaches metadata to the materialization event recorded for key.
func (c *ExecContext) AddMetadata(key Key, md map[string]any) {
	if c.metadata == nil {
		c.metadata = make(map[Key]map[string]any)
	}
	dst := c.metadata[key]
	if dst == nil {
		dst = make(map[string]any, len(md))
		c.metadata[key] = dst
	}
	for k, v := range md {
		dst[k] = v
	}
}

// Body computes every asset of a Definition. A returned error fails the
// whole definition.
type Body func(ctx context.Context, ec *ExecContext) error

// Definition is a named unit of work producing one or more assets. A nil
// Body marks the assets as external: they are declared and can be observed,
// but never executed here.
type Definition struct {
	Name  string
	Specs []Spec
	Body  Body

	// Metadata is attached by mapping layers (e.g. the originating task id).
	Metadata map[string]string
}

// MultiAsset declares an executable definition.
func MultiAsset(name string, specs []Spec, body Body) *Definition {
	return &Definition{Name: name, Specs: specs, Body: body}
}

// External declares one non-executable definition per spec.
func External(specs ...Spec) []*Definition {
	out := make([]*Definition, 0, len(specs))
	for _, s := range specs {
		out = append(out, &Definition{Name: s.Key.String(), Specs: []Spec{s}})
	}
	return out
}

// Executable reports whether the definition has a body.
func (d *Definition) Executable() bool { return d.Body != nil }

// Keys returns the keys of every spec.
func (d *Definition) Keys() []Key {
	out := make([]Key, len(d.Specs))
	for i, s := range d.Specs {
		out[i] = s.Key
	}
	return out
}

// WithMetadata returns d after setting a metadata entry.
func (d *Definition) WithMetadata(k, v string) *Definition {
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[k] = v
	return d
}

// CheckKey identifies a check on an asset.
type CheckKey struct {
	Asset Key
	Name  string
}

func (k CheckKey) String() string { return k.Asset.String() + ":" + k.Name }

// CheckFn evaluates a check. Failures are reported in the result.
type CheckFn func(ctx context.Context) domain.CheckResult

// Check is an assertion evaluated after its asset materializes.
type Check struct {
	Key CheckKey
	Fn  CheckFn
}

// NewCheck declares a check named name on asset.
func NewCheck(asset Key, name string, fn CheckFn) *Check {
	return &Check{Key: CheckKey{Asset: asset, Name: name}, Fn: fn}
}

// Definitions is the full declaration consumed by the runtime.
type Definitions struct {
	Assets    []*Definition
	Checks    []*Check
	Schedules []Schedule
}

// Merge concatenates several declarations. Nil entries are ignored.
func Merge(defs ...*Definitions) *Definitions {
	out := &Definitions{}
	for _, d := range defs {
		if d == nil {
			continue
		}
		out.Assets = append(out.Assets, d.Assets...)
		out.Checks = append(out.Checks, d.Checks...)
		out.Schedules = append(out.Schedules, d.Schedules...)
	}
	return out
}

// AllSpecs returns every spec sorted by key.
func (d *Definitions) AllSpecs() []Spec {
	var out []Spec
	for _, def := range d.Assets {
		out = append(out, def.Specs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// AllKeys returns every declared asset key sorted.
func (d *Definitions) AllKeys() []Key {
	specs := d.AllSpecs()
	out := make([]Key, len(specs))
	for i, s := range specs {
		out[i] = s.Key
	}
	return out
}

// Spec returns the spec declared for key.
func (d *Definitions) Spec(key Key) (Spec, bool) {
	for _, def := range d.Assets {
		for _, s := range def.Specs {
			if s.Key == key {
				return s, true
			}
		}
	}
	return Spec{}, false
}

// DefinitionFor returns the definition owning key.
func (d *Definitions) DefinitionFor(key Key) (*Definition, bool) {
	for _, def := range d.Assets {
		for _, s := range def.Specs {
			if s.Key == key {
				return def, true
			}
		}
	}
	return nil, false
}

// ChecksFor returns the checks declared on key.
func (d *Definitions) ChecksFor(key Key) []*Check {
	var out []*Check
	for _, c := range d.Checks {
		if c.Key.Asset == key {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks that keys and definition names are unique, every
// dependency resolves to a declared asset, every check targets a declared
// asset, schedules parse, and the graph is acyclic.
func (d *Definitions) Validate() error {
	owners := make(map[Key]string)
	names := make(map[string]struct{}, len(d.Assets))
	for _, def := range d.Assets {
		if def.Name == "" {
			return domain.ErrValidation("definition name is required")
		}
		if _, dup := names[def.Name]; dup {
			return domain.ErrConflict("duplicate definition name: %s", def.Name)
		}
		names[def.Name] = struct{}{}
		if len(def.Specs) == 0 {
			return domain.ErrValidation("definition %s declares no assets", def.Name)
		}
		for _, s := range def.Specs {
			if s.Key.IsZero() {
				return domain.ErrValidation("definition %s has an empty asset key", def.Name)
			}
			if other, dup := owners[s.Key]; dup {
				return domain.ErrConflict("asset %s declared by both %s and %s", s.Key, other, def.Name)
			}
			owners[s.Key] = def.Name
		}
	}

	for _, def := range d.Assets {
		for _, s := range def.Specs {
			for _, dep := range s.Deps {
				if _, ok := owners[dep]; !ok {
					return domain.ErrValidation("asset %s depends on undeclared asset %s", s.Key, dep)
				}
				if dep == s.Key {
					return domain.ErrValidation("self dependency: %s", s.Key)
				}
			}
		}
	}

	seenChecks := make(map[CheckKey]struct{}, len(d.Checks))
	for _, c := range d.Checks {
		if _, ok := owners[c.Key.Asset]; !ok {
			return domain.ErrValidation("check %s targets undeclared asset", c.Key)
		}
		if _, dup := seenChecks[c.Key]; dup {
			return domain.ErrConflict("duplicate check: %s", c.Key)
		}
		seenChecks[c.Key] = struct{}{}
	}

	for _, sch := range d.Schedules {
		if err := sch.Validate(); err != nil {
			return err
		}
		for _, k := range sch.Selection {
			if _, ok := owners[k]; !ok {
				return domain.ErrValidation("schedule %s selects undeclared asset %s", sch.Name, k)
			}
		}
	}

	_, err := ResolveTiers(d.Assets)
	return err
}
