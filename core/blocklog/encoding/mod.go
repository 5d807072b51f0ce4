// Package encoding defines the value encodings of a log. The blocks are
// always stored as raw bytes and an encoding is only a view applied when a
// value is appended or read.
package encoding

import (
	"encoding/json"
	"unicode/utf8"

	"golang.org/x/xerrors"
)

// ErrEncodingMismatch is returned when a value cannot be encoded.
var ErrEncodingMismatch = xerrors.New("encoding mismatch")

// ErrDecode is returned when stored bytes cannot be decoded.
var ErrDecode = xerrors.New("decode error")

// The names of the built-in encodings.
const (
	Binary = "binary"
	UTF8   = "utf-8"
	JSON   = "json"
)

// Encoding converts the values of a log to and from raw bytes.
type Encoding interface {
	// Name returns the name of the encoding.
	Name() string

	// Encode returns the bytes of the value, or an error wrapping
	// ErrEncodingMismatch if the value is not supported.
	Encode(value interface{}) ([]byte, error)

	// Decode returns the value of the bytes, or an error wrapping ErrDecode if
	// they are malformed.
	Decode(data []byte) (interface{}, error)
}

var builtins = map[string]Encoding{
	Binary: binaryEncoding{},
	UTF8:   utf8Encoding{},
	JSON:   jsonEncoding{},
}

// Get returns the built-in encoding of the name.
func Get(name string) (Encoding, error) {
	enc, found := builtins[name]
	if !found {
		return nil, xerrors.Errorf("unknown encoding '%s'", name)
	}

	return enc, nil
}

// Default returns the binary encoding.
func Default() Encoding {
	return binaryEncoding{}
}

// binaryEncoding passes the bytes through. Strings are accepted and stored as
// their bytes.
//
// - implements encoding.Encoding
type binaryEncoding struct{}

// Name implements encoding.Encoding.
func (binaryEncoding) Name() string {
	return Binary
}

// Encode implements encoding.Encoding.
func (binaryEncoding) Encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return append([]byte{}, v...), nil
	case string:
		return []byte(v), nil
	default:
		return nil, xerrors.Errorf("binary: unsupported type '%T': %w", value, ErrEncodingMismatch)
	}
}

// Decode implements encoding.Encoding.
func (binaryEncoding) Decode(data []byte) (interface{}, error) {
	return append([]byte{}, data...), nil
}

// utf8Encoding stores text.
//
// - implements encoding.Encoding
type utf8Encoding struct{}

// Name implements encoding.Encoding.
func (utf8Encoding) Name() string {
	return UTF8
}

// Encode implements encoding.Encoding.
func (utf8Encoding) Encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		if !utf8.Valid(v) {
			return nil, xerrors.Errorf("utf-8: invalid text: %w", ErrEncodingMismatch)
		}

		return append([]byte{}, v...), nil
	default:
		return nil, xerrors.Errorf("utf-8: unsupported type '%T': %w", value, ErrEncodingMismatch)
	}
}

// Decode implements encoding.Encoding. Invalid sequences are kept as they are
// in the returned string.
func (utf8Encoding) Decode(data []byte) (interface{}, error) {
	return string(data), nil
}

// jsonEncoding stores the JSON representation of the values.
//
// - implements encoding.Encoding
type jsonEncoding struct{}

// Name implements encoding.Encoding.
func (jsonEncoding) Name() string {
	return JSON
}

// Encode implements encoding.Encoding.
func (jsonEncoding) Encode(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, xerrors.Errorf("json: %v: %w", err, ErrEncodingMismatch)
	}

	return data, nil
}

// Decode implements encoding.Encoding. The value is decoded in the generic
// types of the encoding/json package.
func (jsonEncoding) Decode(data []byte) (interface{}, error) {
	var value interface{}

	err := json.Unmarshal(data, &value)
	if err != nil {
		return nil, xerrors.Errorf("json: %v: %w", err, ErrDecode)
	}

	return value, nil
}

// EncodeFunc is the signature of the encoding function of a custom codec.
type EncodeFunc func(value interface{}) ([]byte, error)

// DecodeFunc is the signature of the decoding function of a custom codec.
type DecodeFunc func(data []byte) (interface{}, error)

// customEncoding is built from a pair of functions.
//
// - implements encoding.Encoding
type customEncoding struct {
	name   string
	encode EncodeFunc
	decode DecodeFunc
}

// Custom returns an encoding using the functions. Their errors are wrapped so
// that they match ErrEncodingMismatch and ErrDecode.
func Custom(name string, enc EncodeFunc, dec DecodeFunc) Encoding {
	return customEncoding{
		name:   name,
		encode: enc,
		decode: dec,
	}
}

// Name implements encoding.Encoding.
func (e customEncoding) Name() string {
	return e.name
}

// Encode implements encoding.Encoding.
func (e customEncoding) Encode(value interface{}) ([]byte, error) {
	data, err := e.encode(value)
	if err != nil {
		if xerrors.Is(err, ErrEncodingMismatch) {
			return nil, err
		}

		return nil, xerrors.Errorf("%s: %v: %w", e.name, err, ErrEncodingMismatch)
	}

	return data, nil
}

// Decode implements encoding.Encoding.
func (e customEncoding) Decode(data []byte) (interface{}, error) {
	value, err := e.decode(data)
	if err != nil {
		if xerrors.Is(err, ErrDecode) {
			return nil, err
		}

		return nil, xerrors.Errorf("%s: %v: %w", e.name, err, ErrDecode)
	}

	return value, nil
}
