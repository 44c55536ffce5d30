package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

// Value is a decoded bencodex value: Null, Bool, Integer, Text, Binary,
// List or Dict. Action payloads on the chain are bencodex dictionaries.
type Value interface {
	isValue()
}

type Null struct{}

type Bool bool

// Integer carries arbitrary precision; asset quantities overflow int64.
type Integer struct {
	Int *big.Int
}

type Text string

type Binary []byte

type List []Value

// Dict maps keys to values. Text keys are stored verbatim; binary keys are
// stored as the raw byte string.
type Dict map[string]Value

func (Null) isValue()    {}
func (Bool) isValue()    {}
func (Integer) isValue() {}
func (Text) isValue()    {}
func (Binary) isValue()  {}
func (List) isValue()    {}
func (Dict) isValue()    {}

// Dict accessors return ok=false on a missing key or a type mismatch.

func (d Dict) Text(key string) (string, bool) {
	t, ok := d[key].(Text)
	return string(t), ok
}

func (d Dict) Bytes(key string) ([]byte, bool) {
	b, ok := d[key].(Binary)
	return []byte(b), ok
}

func (d Dict) Bool(key string) (bool, bool) {
	b, ok := d[key].(Bool)
	return bool(b), ok
}

func (d Dict) Int(key string) (*big.Int, bool) {
	i, ok := d[key].(Integer)
	if !ok {
		return nil, false
	}
	return i.Int, true
}

func (d Dict) List(key string) (List, bool) {
	l, ok := d[key].(List)
	return l, ok
}

func (d Dict) Dict(key string) (Dict, bool) {
	sub, ok := d[key].(Dict)
	return sub, ok
}

var errTruncated = errors.New("bencodex: truncated input")

// Decode parses one bencodex value from b, rejecting trailing bytes.
func Decode(b []byte) (Value, error) {
	v, rest, err := decode(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("bencodex: %d trailing bytes", len(rest))
	}
	return v, nil
}

func decode(b []byte) (Value, []byte, error) {
	if len(b) == 0 {
		return nil, nil, errTruncated
	}
	switch b[0] {
	case 'n':
		return Null{}, b[1:], nil
	case 't':
		return Bool(true), b[1:], nil
	case 'f':
		return Bool(false), b[1:], nil
	case 'i':
		end := bytes.IndexByte(b, 'e')
		if end < 0 {
			return nil, nil, errTruncated
		}
		n, ok := new(big.Int).SetString(string(b[1:end]), 10)
		if !ok {
			return nil, nil, fmt.Errorf("bencodex: bad integer %q", b[1:end])
		}
		return Integer{Int: n}, b[end+1:], nil
	case 'u':
		s, rest, err := decodeSized(b[1:])
		if err != nil {
			return nil, nil, err
		}
		return Text(s), rest, nil
	case 'l':
		rest := b[1:]
		var list List
		for {
			if len(rest) == 0 {
				return nil, nil, errTruncated
			}
			if rest[0] == 'e' {
				return list, rest[1:], nil
			}
			v, r, err := decode(rest)
			if err != nil {
				return nil, nil, err
			}
			list = append(list, v)
			rest = r
		}
	case 'd':
		rest := b[1:]
		dict := Dict{}
		for {
			if len(rest) == 0 {
				return nil, nil, errTruncated
			}
			if rest[0] == 'e' {
				return dict, rest[1:], nil
			}
			key, r, err := decodeKey(rest)
			if err != nil {
				return nil, nil, err
			}
			v, r, err := decode(r)
			if err != nil {
				return nil, nil, err
			}
			dict[key] = v
			rest = r
		}
	default:
		if b[0] >= '0' && b[0] <= '9' {
			s, rest, err := decodeSized(b)
			if err != nil {
				return nil, nil, err
			}
			return Binary(s), rest, nil
		}
		return nil, nil, fmt.Errorf("bencodex: unexpected byte %q", b[0])
	}
}

// decodeKey reads a dictionary key: text ("u<len>:...") or binary
// ("<len>:...").
func decodeKey(b []byte) (string, []byte, error) {
	if len(b) == 0 {
		return "", nil, errTruncated
	}
	if b[0] == 'u' {
		s, rest, err := decodeSized(b[1:])
		return string(s), rest, err
	}
	s, rest, err := decodeSized(b)
	return string(s), rest, err
}

// decodeSized reads a "<len>:<payload>" run.
func decodeSized(b []byte) ([]byte, []byte, error) {
	sep := bytes.IndexByte(b, ':')
	if sep < 0 {
		return nil, nil, errTruncated
	}
	n, err := strconv.Atoi(string(b[:sep]))
	if err != nil || n < 0 {
		return nil, nil, fmt.Errorf("bencodex: bad length %q", b[:sep])
	}
	rest := b[sep+1:]
	if len(rest) < n {
		return nil, nil, errTruncated
	}
	return rest[:n], rest[n:], nil
}
