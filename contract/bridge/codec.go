package bridge

// Codec serialises values crossing the process boundary.
// Implementations must be safe for concurrent use.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
