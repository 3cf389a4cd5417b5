package bridge

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
	"github.com/next-trace/scg-bridge/registry"
)

// Schema is the transport-facing shape of one controller: its group and the pattern of each member.
type Schema struct {
	Group   string
	Members map[string]cbridge.Pattern
}

func (s Schema) memberNames() []string { return slices.Sorted(maps.Keys(s.Members)) }

func (s Schema) validate() error {
	if s.Group == "" || strings.Contains(s.Group, cbridge.GroupSeparator) {
		return fmt.Errorf("group %q: %w", s.Group, berr.ErrNotController)
	}

	for _, m := range s.memberNames() {
		if m == "" || strings.Contains(m, cbridge.GroupSeparator) {
			return fmt.Errorf("member %q of %s: %w", m, s.Group, berr.ErrInvalidPattern)
		}

		if !s.Members[m].Valid() {
			return fmt.Errorf("member %s of %s: %w", m, s.Group, berr.ErrInvalidPattern)
		}
	}

	return nil
}

// Settings declare how a controller of type C is bound: the group name, the pattern of each member,
// and the handlers and triggers computed from the constructed controller.
type Settings[C any] struct {
	Group    string
	Bridge   map[string]cbridge.Pattern
	Handlers func(self C) Handlers
	Triggers func(self C) Triggers
}

// Schema returns the schema peers use to expose the controller.
func (s Settings[C]) Schema() Schema {
	return Schema{Group: s.Group, Members: maps.Clone(s.Bridge)}
}

// Define returns a copy of d whose construction also binds the controller on b. The constructed
// value must be a C, otherwise construction fails with ErrNotController.
func Define[C any](b *Bridge, d registry.Descriptor, s Settings[C]) registry.Descriptor {
	construct := d.Construct

	name := d.Name
	if name == "" {
		name = d.Token.String()
	}

	schema := s.Schema()

	d.Construct = func(deps []any) (any, error) {
		if construct == nil {
			return nil, fmt.Errorf("controller %s: %w", name, berr.ErrConstructFailed)
		}

		v, err := construct(deps)
		if err != nil {
			return nil, err
		}

		c, ok := v.(C)
		if !ok {
			return nil, fmt.Errorf("%s built %T: %w", name, v, berr.ErrNotController)
		}

		var (
			handlers Handlers
			triggers Triggers
		)

		if s.Handlers != nil {
			handlers = s.Handlers(c)
		}

		if s.Triggers != nil {
			triggers = s.Triggers(c)
		}

		if err := b.Bind(name, schema, handlers, triggers); err != nil {
			return nil, err
		}

		return v, nil
	}

	release := d.Release
	d.Release = func(v any) {
		b.Unbind(schema.Group)

		if release != nil {
			release(v)
		}
	}

	return d
}
