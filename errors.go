package instdata

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrNoRootInstances = errors.New("no root instances")
	ErrInvalidInstance = errors.New("instance must be a non-nil pointer")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrTypeNotResolved = errors.New("cannot resolve element type")
	ErrNoDefaultValue  = errors.New("element has no default value")
	ErrCancelled       = errors.New("cancelled")
	ErrDuplicateKey    = errors.New("key already exists")
)

// TypeMismatchError reports a pair of nodes whose types were required to be
// equal.
type TypeMismatchError struct {
	SourceName string
	TargetName string
	SourceType reflect.Type
	TargetType reflect.Type
	Msg        string
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

func (e *TypeMismatchError) Error() string {
	var buf strings.Builder
	if e.Msg != "" {
		buf.WriteString(e.Msg)
		buf.WriteString(": ")
	}
	fmt.Fprintf(&buf, "%v: source %s (%v), target %s (%v)", ErrTypeMismatch, e.SourceName, e.SourceType, e.TargetName, e.TargetType)
	return buf.String()
}

func mismatchErr(source, target *Node) error {
	return &TypeMismatchError{
		SourceName: source.String(),
		TargetName: target.String(),
		SourceType: source.TypeID(),
		TargetType: target.TypeID(),
	}
}

// ElementError reports a failure to create or copy a container element for
// one of the root instances of a node.
type ElementError struct {
	Node     string
	Instance int
	Type     reflect.Type
	Err      error
}

func elementErrf(n *Node, instance int, typ reflect.Type, err error) error {
	return &ElementError{n.String(), instance, typ, err}
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

func (e *ElementError) Error() string {
	if e.Type != nil {
		return fmt.Sprintf("%s[instance %d] %v: %v", e.Node, e.Instance, e.Type, e.Err)
	}
	return fmt.Sprintf("%s[instance %d]: %v", e.Node, e.Instance, e.Err)
}
