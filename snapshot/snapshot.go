// Package snapshot keeps named baseline copies of objects, so that edited
// objects can later be compared against (and reverted to) the state they
// had when the snapshot was taken.
package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/andreyvit/instdata/rtti"
)

var (
	ErrNotFound  = errors.New("snapshot not found")
	ErrClosed    = errors.New("snapshot store closed")
	ErrWrongType = errors.New("snapshot holds a different type")
	ErrEmptyName = errors.New("empty snapshot name")
)

// Store saves encoded copies of values under a name.
type Store interface {
	Save(name string, v any) error

	// Load decodes the named snapshot into the value ptr points to. The
	// value's type must be the type that was saved.
	Load(name string, ptr any) error

	Info(name string) (Info, error)
	Delete(name string) error

	// Names lists the snapshots in ascending order.
	Names() ([]string, error)

	Close() error
}

type Info struct {
	Name     string
	TypeName string
	Size     int
	Saved    time.Time
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool

	// Timeout limits waiting for the bolt file lock.
	Timeout time.Duration

	Codec rtti.Codec
	Now   func() time.Time
}

// backend is the raw storage of encoded records.
type backend interface {
	get(name string) ([]byte, error)
	put(name string, data []byte) error
	delete(name string) (bool, error)
	names() ([]string, error)
	close() error
}

type store struct {
	b       backend
	codec   rtti.Codec
	logger  *slog.Logger
	verbose bool
	now     func() time.Time
}

func newStore(b backend, opt Options) *store {
	s := &store{
		b:       b,
		codec:   opt.Codec,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		now:     opt.Now,
	}
	if s.codec == nil {
		s.codec = rtti.MsgpackCodec{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *store) Save(name string, v any) error {
	if name == "" {
		return ErrEmptyName
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("snapshot %q: nil %v", name, rv.Type())
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return fmt.Errorf("snapshot %q: nil value", name)
	}
	data, err := s.codec.Encode(rv)
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}
	rec := record{
		Flags:    rfDefault,
		TypeName: rv.Type().String(),
		Saved:    s.now(),
		Data:     data,
	}
	err = s.b.put(name, rec.encode())
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}
	s.debug("saved", slog.String("name", name), slog.String("type", rec.TypeName), slog.Int("size", len(data)))
	return nil
}

func (s *store) read(name string) (record, error) {
	var rec record
	raw, err := s.b.get(name)
	if err != nil {
		return rec, fmt.Errorf("snapshot %q: %w", name, err)
	}
	if raw == nil {
		return rec, fmt.Errorf("snapshot %q: %w", name, ErrNotFound)
	}
	if err := rec.decode(raw); err != nil {
		return rec, fmt.Errorf("snapshot %q: %w", name, err)
	}
	return rec, nil
}

func (s *store) Load(name string, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("snapshot %q: Load requires a non-nil pointer, got %T", name, ptr)
	}
	rec, err := s.read(name)
	if err != nil {
		return err
	}
	if tn := rv.Elem().Type().String(); tn != rec.TypeName {
		return fmt.Errorf("snapshot %q: %w: saved %s, loading into %s", name, ErrWrongType, rec.TypeName, tn)
	}
	fresh := reflect.New(rv.Elem().Type()).Elem()
	if err := s.codec.Decode(rec.Data, fresh); err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}
	rv.Elem().Set(fresh)
	s.debug("loaded", slog.String("name", name), slog.String("type", rec.TypeName))
	return nil
}

func (s *store) Info(name string) (Info, error) {
	rec, err := s.read(name)
	if err != nil {
		return Info{}, err
	}
	return Info{Name: name, TypeName: rec.TypeName, Size: len(rec.Data), Saved: rec.Saved}, nil
}

func (s *store) Delete(name string) error {
	found, err := s.b.delete(name)
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}
	if !found {
		return fmt.Errorf("snapshot %q: %w", name, ErrNotFound)
	}
	s.debug("deleted", slog.String("name", name))
	return nil
}

func (s *store) Names() ([]string, error) {
	names, err := s.b.names()
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func (s *store) Close() error {
	return s.b.close()
}

func (s *store) debug(msg string, attrs ...slog.Attr) {
	if !s.verbose {
		return
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "snapshot: "+msg, attrs...)
}

// LoadNew decodes the named snapshot into a new value of the saved type,
// looked up with ctx.TypeByName, and returns a pointer to it. The result
// can be passed to Hierarchy.AddComparisonInstanceValue.
func LoadNew(s Store, ctx rtti.Context, name string) (reflect.Value, error) {
	info, err := s.Info(name)
	if err != nil {
		return reflect.Value{}, err
	}
	t := ctx.TypeByName(info.TypeName)
	if t == nil {
		return reflect.Value{}, fmt.Errorf("snapshot %q: %s: %w", name, info.TypeName, rtti.ErrUnknownType)
	}
	p, err := ctx.Construct(t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("snapshot %q: %w", name, err)
	}
	if err := s.Load(name, p.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return p, nil
}

// Record layout:
//  1. Flags (uvarint).
//  2. Saved time, unix milliseconds (uvarint).
//  3. Type name size (uvarint), type name.
//  4. Data size (uvarint), encoded value.
type record struct {
	Flags    recordFlags
	TypeName string
	Saved    time.Time
	Data     []byte
}

type recordFlags uint64

const (
	rfVerBit0 = recordFlags(1 << iota)
	rfVerBit1

	rfVerMask       = rfVerBit0 | rfVerBit1
	rfVer1          = rfVerBit0
	rfSupportedMask = rfVer1
	rfDefault       = rfVer1

	minRecordSize = 4
)

func (rec *record) encode() []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*4+len(rec.TypeName)+len(rec.Data))
	buf = binary.AppendUvarint(buf, uint64(rec.Flags))
	buf = binary.AppendUvarint(buf, uint64(rec.Saved.UnixMilli()))
	buf = binary.AppendUvarint(buf, uint64(len(rec.TypeName)))
	buf = append(buf, rec.TypeName...)
	buf = binary.AppendUvarint(buf, uint64(len(rec.Data)))
	buf = append(buf, rec.Data...)
	return buf
}

func (rec *record) decode(data []byte) error {
	orig := data
	if len(data) < minRecordSize {
		return dataErrf(orig, 0, nil, "invalid record: at least %d bytes required", minRecordSize)
	}

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid record: bad flags")
	}
	if (v &^ uint64(rfSupportedMask)) != 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid record: unsupported flags %x", v)
	}
	rec.Flags, data = recordFlags(v), data[n:]

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid record: bad time")
	}
	rec.Saved, data = time.UnixMilli(int64(v)), data[n:]

	v, n = binary.Uvarint(data)
	if n <= 0 || v > uint64(len(data)-n) {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid record: bad type name size")
	}
	data = data[n:]
	rec.TypeName, data = string(data[:v]), data[v:]

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid record: bad data size")
	}
	data = data[n:]
	if uint64(len(data)) != v {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid record: got %d bytes of data, expected %d bytes", len(data), v)
	}
	rec.Data = data
	return nil
}
