package registry

import (
	"fmt"
	"strings"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// DuplicateTokenError reports two descriptors of one batch sharing a token.
type DuplicateTokenError struct{ Token Token }

func (e *DuplicateTokenError) Error() string {
	return fmt.Sprintf("%s is declared more than once", e.Token)
}

func (e *DuplicateTokenError) Unwrap() error { return berr.ErrDuplicateToken }

// SelfDependencyError reports a descriptor depending directly on its own token.
type SelfDependencyError struct{ Token Token }

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("%s has a direct dependency on itself", e.Token)
}

func (e *SelfDependencyError) Unwrap() error { return berr.ErrSelfDependency }

// MissingDependencyError lists the dependencies of Token absent from the batch.
type MissingDependencyError struct {
	Token   Token
	Missing []Token
}

func (e *MissingDependencyError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = string(m)
	}

	return fmt.Sprintf("%s has dependencies to unknown/missing services: %s", e.Token, strings.Join(names, ", "))
}

func (e *MissingDependencyError) Unwrap() error { return berr.ErrMissingDependency }

// CycleDependencyError carries a dependency cycle; the path starts and ends with the same token.
type CycleDependencyError struct{ Path []Token }

func (e *CycleDependencyError) Error() string {
	names := make([]string, len(e.Path))
	for i, p := range e.Path {
		names[i] = string(p)
	}

	return "cycle dependency found: " + strings.Join(names, " -> ")
}

func (e *CycleDependencyError) Unwrap() error { return berr.ErrCycleDependency }

// NotRegisteredError is returned when waiting on a token no Register call declared.
type NotRegisteredError struct{ Token Token }

func (e *NotRegisteredError) Error() string { return fmt.Sprintf("service %s is not registered", e.Token) }

func (e *NotRegisteredError) Unwrap() error { return berr.ErrNotRegistered }
