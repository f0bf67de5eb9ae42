package commsutil

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const codecLogPrefix = "commsutil:codec"

// Codec names accepted by CodecByName (and WIRE_CODEC).
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// Codec serializes channel payloads.
type Codec interface {
	Name() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// JSONCodec is the default wire codec.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Encode(v interface{}) ([]byte, error) { return EncodePayload(v) }

func (JSONCodec) Decode(data []byte, v interface{}) error { return DecodePayload(data, v) }

// CBORCodec encodes payloads as canonical CBOR. Maps inside decoded
// interface{} values come back as map[string]interface{} so handlers see the
// same shapes as with JSON.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBORCodec with canonical encoding.
func NewCBORCodec() (*CBORCodec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create CBOR enc mode: %w", codecLogPrefix, err)
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create CBOR dec mode: %w", codecLogPrefix, err)
	}
	return &CBORCodec{enc: em, dec: dm}, nil
}

func (c *CBORCodec) Name() string { return CodecCBOR }

func (c *CBORCodec) Encode(v interface{}) ([]byte, error) { return c.enc.Marshal(v) }

func (c *CBORCodec) Decode(data []byte, v interface{}) error { return c.dec.Unmarshal(data, v) }

// CodecByName returns the codec registered under name; empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecCBOR:
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("%s - unknown codec %q (use %s or %s)", codecLogPrefix, name, CodecJSON, CodecCBOR)
	}
}
