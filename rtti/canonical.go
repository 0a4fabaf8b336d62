package rtti

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// canonicalize rewrites msgpack data so that the entries of every map,
// at any depth, are ordered by their canonical key bytes. Go map iteration
// order is random, and the encoder writes entries in iteration order.
func canonicalize(data []byte) ([]byte, error) {
	if !mayContainMap(data) {
		return data, nil
	}
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(&r)
	return appendCanonical(make([]byte, 0, len(data)), dec)
}

// mayContainMap is a quick conservative check that lets map-free payloads
// (most leaves) skip the rewrite.
func mayContainMap(data []byte) bool {
	for _, b := range data {
		if msgpcode.IsFixedMap(b) || b == msgpcode.Map16 || b == msgpcode.Map32 {
			return true
		}
	}
	return false
}

type canonicalEntry struct {
	key, value []byte
}

func appendCanonical(buf []byte, dec *msgpack.Decoder) ([]byte, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		entries := make([]canonicalEntry, n)
		for i := range entries {
			if entries[i].key, err = appendCanonical(nil, dec); err != nil {
				return nil, err
			}
			if entries[i].value, err = appendCanonical(nil, dec); err != nil {
				return nil, err
			}
		}
		slices.SortFunc(entries, func(a, b canonicalEntry) int {
			if c := bytes.Compare(a.key, b.key); c != 0 {
				return c
			}
			return bytes.Compare(a.value, b.value)
		})
		buf = appendLenHeader(buf, n, msgpcode.FixedMapLow, msgpcode.Map16, msgpcode.Map32)
		for _, e := range entries {
			buf = append(buf, e.key...)
			buf = append(buf, e.value...)
		}
		return buf, nil

	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		buf = appendLenHeader(buf, n, msgpcode.FixedArrayLow, msgpcode.Array16, msgpcode.Array32)
		for i := 0; i < n; i++ {
			if buf, err = appendCanonical(buf, dec); err != nil {
				return nil, err
			}
		}
		return buf, nil

	default:
		raw, err := dec.DecodeRaw()
		if err != nil {
			return nil, err
		}
		return append(buf, raw...), nil
	}
}

func appendLenHeader(buf []byte, n int, fixed, code16, code32 byte) []byte {
	switch {
	case n < 16:
		return append(buf, fixed|byte(n))
	case n <= 0xffff:
		return binary.BigEndian.AppendUint16(append(buf, code16), uint16(n))
	default:
		return binary.BigEndian.AppendUint32(append(buf, code32), uint32(n))
	}
}
