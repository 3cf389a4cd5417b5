package registry

import "reflect"

// Token identifies an abstract service type inside a Registry.
type Token string

func (t Token) String() string { return string(t) }

// TokenFor returns the token naming the Go type T.
// Interface types are valid tokens and are the usual way to bind an abstraction to an implementation.
func TokenFor[T any]() Token { return Token(reflect.TypeFor[T]().String()) }
