// Package codec provides the value codecs used on the wire.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

var (
	// JSON encodes values with encoding/json. It is the default codec.
	JSON cbridge.Codec = jsonCodec{}
	// MsgPack encodes values with MessagePack.
	MsgPack cbridge.Codec = msgpackCodec{}
)

// ByName returns the codec registered under name ("json" or "msgpack").
func ByName(name string) (cbridge.Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case MsgPack.Name():
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("codec %q: %w", name, berr.ErrSerializationFailed)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal %T: %w", v, serializationErr(err))
	}

	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json unmarshal %T: %w", v, serializationErr(err))
	}

	return nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal %T: %w", v, serializationErr(err))
	}

	return b, nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack unmarshal %T: %w", v, serializationErr(err))
	}

	return nil
}
