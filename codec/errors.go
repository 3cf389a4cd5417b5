package codec

import (
	"errors"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

func serializationErr(err error) error { return errors.Join(berr.ErrSerializationFailed, err) }
