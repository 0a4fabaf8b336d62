package rtti

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes single values to bytes and decodes them back in place.
type Codec interface {
	Encode(v reflect.Value) ([]byte, error)

	// Decode stores the decoded data into v, which must be settable.
	Decode(data []byte, v reflect.Value) error
}

// MsgpackCodec is the default Codec. Its output is canonical: map entries
// are ordered by their encoded keys, so equal values always encode to equal
// bytes.
type MsgpackCodec struct{}

var _ Codec = MsgpackCodec{}

func (MsgpackCodec) Encode(v reflect.Value) ([]byte, error) {
	if !v.IsValid() {
		return nil, codecErrf("encode", nil, nil, fmt.Errorf("invalid value"))
	}
	var bb bytesBuilder
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	err := enc.EncodeValue(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, codecErrf("encode", v.Type(), nil, err)
	}
	data, err := canonicalize(bb.Buf)
	if err != nil {
		return nil, codecErrf("encode", v.Type(), bb.Buf, err)
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte, v reflect.Value) error {
	if !v.CanSet() {
		return codecErrf("decode", v.Type(), data, ErrNotSettable)
	}
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.DecodeValue(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return codecErrf("decode", v.Type(), data, err)
	}
	return nil
}

// codecSerializer compares leaves by their encoded bytes.
type codecSerializer struct {
	codec Codec
}

func (s codecSerializer) Equal(a, b reflect.Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	ea, err := s.codec.Encode(a)
	if err != nil {
		return false
	}
	eb, err := s.codec.Encode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// scalarSerializer compares basic kinds directly.
type scalarSerializer struct{}

func (scalarSerializer) Equal(a, b reflect.Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	switch a.Kind() {
	case reflect.Slice: // []byte
		return bytes.Equal(a.Bytes(), b.Bytes())
	case reflect.Float32, reflect.Float64:
		fa, fb := a.Float(), b.Float()
		return fa == fb || (fa != fa && fb != fb)
	default:
		return a.Equal(b)
	}
}
