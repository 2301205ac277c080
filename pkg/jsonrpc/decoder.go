package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/memstream/pkg/faults"
	"github.com/xeipuuv/gojsonschema"
)

// Decoder turns single lines into messages. It is safe for concurrent use.
type Decoder struct {
	schema *gojsonschema.Schema
}

// NewDecoder compiles MessageSchema.
func NewDecoder() (*Decoder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(MessageSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile message schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

var defaultDecoder = mustDecoder()

func mustDecoder() *Decoder {
	d, err := NewDecoder()
	if err != nil {
		panic(err)
	}
	return d
}

// Decode decodes line with the package decoder.
func Decode(line string) (Message, *faults.Record) {
	return defaultDecoder.Decode(line)
}

// Decode returns the message in line, or nil and a ParseError or
// ValidationError record. It never panics on untrusted input.
func (d *Decoder) Decode(line string) (Message, *faults.Record) {
	data := []byte(line)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, faults.New(faults.ParseError, faults.OpProcessInput, "invalid JSON", err).
				WithDetail(line)
		}
		// Valid JSON but not an object; the schema reports it below.
	}

	result, err := d.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, faults.New(faults.ValidationError, faults.OpProcessInput, "schema validation failed", err).
			WithDetail(line)
	}
	if !result.Valid() {
		return nil, faults.New(faults.ValidationError, faults.OpProcessInput, describe(result.Errors()), nil).
			WithDetail(line)
	}

	msg, err := build(fields)
	if err != nil {
		return nil, faults.New(faults.ValidationError, faults.OpProcessInput, err.Error(), err).
			WithDetail(line)
	}
	return msg, nil
}

func build(fields map[string]json.RawMessage) (Message, error) {
	rawID, hasID := fields["id"]

	if rawMethod, ok := fields["method"]; ok {
		var method string
		if err := json.Unmarshal(rawMethod, &method); err != nil {
			return nil, fmt.Errorf("invalid method: %w", err)
		}
		params := fields["params"]

		if !hasID {
			return &Notification{JSONRPC: Version, Method: method, Params: params}, nil
		}

		var id ID
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		return &Request{JSONRPC: Version, ID: id, Method: method, Params: params}, nil
	}

	resp := &Response{JSONRPC: Version}
	if string(rawID) != "null" {
		var id ID
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		resp.ID = &id
	}

	if rawErr, ok := fields["error"]; ok {
		var rpcErr Error
		if err := json.Unmarshal(rawErr, &rpcErr); err != nil {
			return nil, fmt.Errorf("invalid error object: %w", err)
		}
		resp.Error = &rpcErr
		return resp, nil
	}

	resp.Result = fields["result"]
	return resp, nil
}

func describe(errs []gojsonschema.ResultError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.String())
	}
	return "invalid JSON-RPC message: " + strings.Join(parts, "; ")
}
