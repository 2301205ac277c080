package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a request identifier. JSON-RPC allows strings and numbers; the
// original representation is kept so responses echo it byte for byte.
type ID struct {
	str      string
	num      json.Number
	isString bool
}

// StringID returns an ID holding s.
func StringID(s string) ID {
	return ID{str: s, isString: true}
}

// IntID returns an ID holding n.
func IntID(n int64) ID {
	return ID{num: json.Number(strconv.FormatInt(n, 10))}
}

// Str returns the string value when the ID is a string.
func (id ID) Str() (string, bool) {
	return id.str, id.isString
}

// Int returns the integer value when the ID is an integral number.
func (id ID) Int() (int64, bool) {
	if id.isString || id.num == "" {
		return 0, false
	}
	n, err := id.num.Int64()
	return n, err == nil
}

// String renders the ID for logs and map keys.
func (id ID) String() string {
	if id.isString {
		return strconv.Quote(id.str)
	}
	return id.num.String()
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isString {
		return json.Marshal(id.str)
	}
	if id.num == "" {
		return []byte("null"), nil
	}
	return []byte(id.num), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch val := v.(type) {
	case string:
		*id = ID{str: val, isString: true}
	case json.Number:
		*id = ID{num: val}
	case nil:
		*id = ID{}
	default:
		return fmt.Errorf("invalid id type %T", v)
	}
	return nil
}
