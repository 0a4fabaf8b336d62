package rtti

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrAbstractType   = errors.New("cannot construct abstract type")
	ErrNotSettable    = errors.New("value is not settable")
	ErrFixedSize      = errors.New("container has a fixed size")
	ErrUnknownType    = errors.New("unknown type")
	ErrBadFactoryType = errors.New("factory returned unexpected type")
)

// CodecError reports a failure to encode or decode a value.
type CodecError struct {
	Type reflect.Type
	Data []byte
	Op   string
	Err  error
}

func codecErrf(op string, typ reflect.Type, data []byte, err error) error {
	return &CodecError{Type: typ, Data: data, Op: op, Err: err}
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func (e *CodecError) Error() string {
	const prefixLen = 32
	n := len(e.Data)
	switch {
	case n == 0:
		return fmt.Sprintf("%s %v: %v", e.Op, e.Type, e.Err)
	case n <= prefixLen:
		return fmt.Sprintf("%s %v: %v: (%d) %x", e.Op, e.Type, e.Err, n, e.Data)
	default:
		return fmt.Sprintf("%s %v: %v: (%d) %x...", e.Op, e.Type, e.Err, n, e.Data[:prefixLen])
	}
}
