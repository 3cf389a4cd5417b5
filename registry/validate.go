package registry

import (
	"fmt"
	"slices"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// validate runs every batch check to completion before anything is constructed and
// returns the first violation found.
func validate(descs []Descriptor) error {
	seen := make(map[Token]int, len(descs))
	for i, d := range descs {
		if d.Construct == nil {
			return fmt.Errorf("%s has no constructor: %w", d.displayName(), berr.ErrConstructFailed)
		}

		if _, dup := seen[d.Token]; dup {
			return &DuplicateTokenError{Token: d.Token}
		}

		seen[d.Token] = i
	}

	for _, d := range descs {
		if slices.Contains(d.Deps, d.Token) {
			return &SelfDependencyError{Token: d.Token}
		}
	}

	for _, d := range descs {
		var missing []Token

		for _, dep := range d.Deps {
			if _, ok := seen[dep]; !ok {
				missing = append(missing, dep)
			}
		}

		if len(missing) > 0 {
			return &MissingDependencyError{Token: d.Token, Missing: missing}
		}
	}

	clean := make(map[Token]bool, len(descs))
	for i := range descs {
		if path := cyclePath(descs, seen, clean, i, nil); len(path) > 0 {
			return &CycleDependencyError{Path: path}
		}
	}

	return nil
}

// cyclePath walks the dependencies of descs[at] depth-first and returns the first cycle found
// along the route, starting and ending with the same token. Subtrees already proven acyclic are
// recorded in clean and skipped.
func cyclePath(descs []Descriptor, index map[Token]int, clean map[Token]bool, at int, route []Token) []Token {
	tok := descs[at].Token
	if i := slices.Index(route, tok); i >= 0 {
		return append(slices.Clone(route[i:]), tok)
	}

	if clean[tok] {
		return nil
	}

	next := append(slices.Clone(route), tok)
	for _, dep := range descs[at].Deps {
		if path := cyclePath(descs, index, clean, index[dep], next); len(path) > 0 {
			return path
		}
	}

	clean[tok] = true

	return nil
}

// order returns a copy of descs in which every dependency precedes its dependents.
// It repeatedly moves the first dependency found at or after its dependent to the front;
// independent descriptors keep their relative order. descs must already be validated.
func order(descs []Descriptor) []Descriptor {
	out := slices.Clone(descs)

	limit := len(out)*len(out) + 1
	for range limit {
		if !forwardFirstDependency(out) {
			return out
		}
	}

	// The move heuristic did not settle within its bound; fall back to a depth-first order.
	return depthFirstOrder(descs)
}

func forwardFirstDependency(descs []Descriptor) bool {
	for i, d := range descs {
		for _, dep := range d.Deps {
			j := slices.IndexFunc(descs, func(o Descriptor) bool { return o.Token == dep })
			if j < i {
				continue
			}

			moved := descs[j]
			copy(descs[1:j+1], descs[:j])
			descs[0] = moved

			return true
		}
	}

	return false
}

func depthFirstOrder(descs []Descriptor) []Descriptor {
	index := make(map[Token]int, len(descs))
	for i, d := range descs {
		index[d.Token] = i
	}

	out := make([]Descriptor, 0, len(descs))
	done := make(map[Token]bool, len(descs))

	var visit func(i int)
	visit = func(i int) {
		d := descs[i]
		if done[d.Token] {
			return
		}

		done[d.Token] = true

		for _, dep := range d.Deps {
			visit(index[dep])
		}

		out = append(out, d)
	}

	for i := range descs {
		visit(i)
	}

	return out
}
