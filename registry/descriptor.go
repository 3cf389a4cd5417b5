package registry

import (
	"fmt"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Descriptor declares one service: the token it is registered under, the tokens of its
// dependencies, and the constructor receiving those dependencies positionally.
type Descriptor struct {
	Token Token
	// Name identifies the implementation in diagnostics. Defaults to Token.
	Name      string
	Deps      []Token
	Construct func(deps []any) (any, error)
	// Release undoes what Construct did outside the instance when a later descriptor of the same
	// batch fails to construct. Optional.
	Release func(instance any)
}

func (d Descriptor) displayName() string {
	if d.Name != "" {
		return d.Name
	}

	return string(d.Token)
}

// Provide declares a service without dependencies, registered under the token of T.
func Provide[T any](ctor func() (T, error)) Descriptor {
	return Descriptor{
		Token: TokenFor[T](),
		Name:  TokenFor[T]().String(),
		Construct: func([]any) (any, error) {
			v, err := ctor()
			return v, err
		},
	}
}

// Provide1 declares a service depending on D1.
func Provide1[T, D1 any](ctor func(D1) (T, error)) Descriptor {
	return Descriptor{
		Token: TokenFor[T](),
		Name:  TokenFor[T]().String(),
		Deps:  []Token{TokenFor[D1]()},
		Construct: func(deps []any) (any, error) {
			d1, err := depAt[D1](deps, 0)
			if err != nil {
				return nil, err
			}

			v, err := ctor(d1)

			return v, err
		},
	}
}

// Provide2 declares a service depending on D1 and D2.
func Provide2[T, D1, D2 any](ctor func(D1, D2) (T, error)) Descriptor {
	return Descriptor{
		Token: TokenFor[T](),
		Name:  TokenFor[T]().String(),
		Deps:  []Token{TokenFor[D1](), TokenFor[D2]()},
		Construct: func(deps []any) (any, error) {
			d1, err := depAt[D1](deps, 0)
			if err != nil {
				return nil, err
			}

			d2, err := depAt[D2](deps, 1)
			if err != nil {
				return nil, err
			}

			v, err := ctor(d1, d2)

			return v, err
		},
	}
}

// Provide3 declares a service depending on D1, D2 and D3.
func Provide3[T, D1, D2, D3 any](ctor func(D1, D2, D3) (T, error)) Descriptor {
	return Descriptor{
		Token: TokenFor[T](),
		Name:  TokenFor[T]().String(),
		Deps:  []Token{TokenFor[D1](), TokenFor[D2](), TokenFor[D3]()},
		Construct: func(deps []any) (any, error) {
			d1, err := depAt[D1](deps, 0)
			if err != nil {
				return nil, err
			}

			d2, err := depAt[D2](deps, 1)
			if err != nil {
				return nil, err
			}

			d3, err := depAt[D3](deps, 2)
			if err != nil {
				return nil, err
			}

			v, err := ctor(d1, d2, d3)

			return v, err
		},
	}
}

// As re-keys a descriptor under the token of the abstraction I. The constructed value
// must implement I, otherwise construction fails with ErrConstructFailed.
func As[I any](d Descriptor) Descriptor {
	construct := d.Construct
	name := d.displayName()
	token := TokenFor[I]()

	d.Token = token
	d.Name = name
	d.Construct = func(deps []any) (any, error) {
		if construct == nil {
			return nil, fmt.Errorf("construct %s: %w", name, berr.ErrConstructFailed)
		}

		v, err := construct(deps)
		if err != nil {
			return nil, err
		}

		if _, ok := v.(I); !ok {
			return nil, fmt.Errorf("%s does not implement %s: %w", name, token, berr.ErrConstructFailed)
		}

		return v, nil
	}

	return d
}

func depAt[D any](deps []any, i int) (D, error) {
	var zero D
	if i >= len(deps) {
		return zero, fmt.Errorf("dependency %d of %d: %w", i, len(deps), berr.ErrMissingDependency)
	}

	d, ok := deps[i].(D)
	if !ok {
		return zero, fmt.Errorf("dependency %s got %T: %w", TokenFor[D](), deps[i], berr.ErrConstructFailed)
	}

	return d, nil
}
